package persist

import (
	"fmt"
	"io"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"

	"github.com/stemsight/broker/internal/core"
)

const RawContentType = "video/mp4"

// encoder turns publisher chunks into bytes on the spool file.
type encoder interface {
	write(core.Frame) error
	close() error
	contentType() string
	ext() string
}

// rawEncoder appends raw stream chunks verbatim.
type rawEncoder struct{ w io.Writer }

func (e rawEncoder) write(f core.Frame) error {
	_, err := e.w.Write(f)
	return err
}

func (rawEncoder) close() error        { return nil }
func (rawEncoder) contentType() string { return RawContentType }
func (rawEncoder) ext() string         { return ".mp4" }

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// rtpEncoder depacketizes RTP into a container pion knows how to write.
type rtpEncoder struct {
	w     rtpWriter
	ctype string
	suf   string
}

// ivfCodecs are stored in IVF; pion takes the canonical mime type.
var ivfCodecs = []string{webrtc.MimeTypeVP8, webrtc.MimeTypeVP9, webrtc.MimeTypeAV1}

func ivfCodec(mimeType string) (string, bool) {
	for _, c := range ivfCodecs {
		if strings.EqualFold(mimeType, c) {
			return c, true
		}
	}
	return "", false
}

// CanRecord reports whether peer media in mimeType can be persisted.
func CanRecord(mimeType string) bool {
	_, ok := ivfCodec(mimeType)
	return ok || strings.EqualFold(mimeType, webrtc.MimeTypeH264)
}

func newRTPEncoder(mimeType string, w io.Writer) (*rtpEncoder, error) {
	if codec, ok := ivfCodec(mimeType); ok {
		iw, err := ivfwriter.NewWith(w, ivfwriter.WithCodec(codec))
		if err != nil {
			return nil, err
		}
		return &rtpEncoder{w: iw, ctype: "video/x-ivf", suf: ".ivf"}, nil
	}
	if strings.EqualFold(mimeType, webrtc.MimeTypeH264) {
		return &rtpEncoder{w: h264writer.NewWith(w), ctype: "video/h264", suf: ".h264"}, nil
	}
	return nil, fmt.Errorf("no container for codec %q", mimeType)
}

func (e *rtpEncoder) write(f core.Frame) error {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(f); err != nil {
		return fmt.Errorf("unmarshal rtp: %w", err)
	}
	return e.w.WriteRTP(pkt)
}

func (e *rtpEncoder) close() error        { return e.w.Close() }
func (e *rtpEncoder) contentType() string { return e.ctype }
func (e *rtpEncoder) ext() string         { return e.suf }

// countingWriter tracks how many bytes reached the spool file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
