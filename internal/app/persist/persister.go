package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/core"
	"github.com/stemsight/broker/internal/domain"
)

const spoolExt = ".part"

// Persister appends one publishing lifetime to a spool file and hands the
// finalized artifact off exactly once. After the first write failure the
// lifetime stops persisting; fan-out is unaffected.
type Persister struct {
	roomID    domain.RoomID
	createdAt time.Time
	base      string
	spool     string
	handoff   func(domain.Artifact)
	logger    zerolog.Logger

	mu        sync.Mutex
	file      *os.File
	out       *countingWriter
	enc       encoder
	frames    int
	failed    error
	finalized bool
	once      sync.Once
}

// Factory opens a Persister per publishing lifetime.
type Factory struct {
	Dir      string
	Uploader *Uploader
}

func (f *Factory) NewRecorder(room domain.RoomID, kind core.Kind) (core.Recorder, error) {
	var handoff func(domain.Artifact)
	if f.Uploader != nil {
		handoff = f.Uploader.Handoff
	}
	return Open(f.Dir, room, kind, handoff)
}

// Open creates the spool file. Raw stream lifetimes are ready to write;
// peer media lifetimes wait for Prepare.
func Open(dir string, room domain.RoomID, kind core.Kind, handoff func(domain.Artifact)) (*Persister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: spool dir: %v", domain.ErrPersistenceFailure, err)
	}
	now := time.Now().UTC()
	base := fmt.Sprintf("%s_%s_%s", room, now.Format("20060102"), ulid.Make())
	spool := filepath.Join(dir, base+spoolExt)
	file, err := os.OpenFile(spool, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open spool: %v", domain.ErrPersistenceFailure, err)
	}
	p := &Persister{
		roomID:    room,
		createdAt: now,
		base:      base,
		spool:     spool,
		handoff:   handoff,
		logger:    log.With().Str("module", "persist").Str("room", string(room)).Str("artifact", base).Logger(),
		file:      file,
		out:       &countingWriter{w: file},
	}
	if kind == core.KindRawStream {
		p.enc = rawEncoder{w: p.out}
	}
	p.logger.Info().Str("kind", kind.String()).Msg("spool opened")
	return p, nil
}

func (p *Persister) Prepare(mimeType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enc != nil {
		return nil
	}
	enc, err := newRTPEncoder(mimeType, p.out)
	if err != nil {
		p.failed = err
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	p.enc = enc
	p.logger.Info().Str("codec", mimeType).Str("content_type", enc.contentType()).Msg("encoder ready")
	return nil
}

func (p *Persister) Write(f core.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized || p.failed != nil || p.enc == nil {
		return nil
	}
	if err := p.enc.write(f); err != nil {
		p.failed = err
		p.logger.Error().Err(err).Msg("spool write failed, persistence disabled for this lifetime")
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	p.frames++
	return nil
}

// Finalize closes the sink and hands the artifact off. Lifetimes that
// recorded no media are discarded instead of uploaded, even when the
// container already wrote its header.
func (p *Persister) Finalize() {
	p.once.Do(func() {
		art, frames, err := p.seal()
		if err != nil {
			p.logger.Error().Err(err).Msg("finalize failed")
			return
		}
		if frames == 0 || art.Size == 0 {
			p.logger.Info().Msg("nothing recorded, artifact discarded")
			_ = os.Remove(art.Path)
			return
		}
		p.logger.Info().Int64("size", art.Size).Str("path", art.Path).Msg("artifact finalized")
		if p.handoff != nil {
			p.handoff(art)
		}
	})
}

func (p *Persister) seal() (domain.Artifact, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalized = true

	var errs []error
	ctype, ext := RawContentType, ".bin"
	if p.enc != nil {
		ctype, ext = p.enc.contentType(), p.enc.ext()
		if err := p.enc.close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.file.Close(); err != nil {
		errs = append(errs, err)
	}
	name := p.base + ext
	final := filepath.Join(filepath.Dir(p.spool), name)
	if err := os.Rename(p.spool, final); err != nil {
		return domain.Artifact{}, 0, fmt.Errorf("%w: rename spool: %v", domain.ErrPersistenceFailure, err)
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.Warn().Err(err).Msg("closing sink")
	}
	return domain.Artifact{
		RoomID:      p.roomID,
		Name:        name,
		Path:        final,
		ContentType: ctype,
		Size:        p.out.n,
		CreatedAt:   p.createdAt,
		Finalized:   true,
	}, p.frames, nil
}
