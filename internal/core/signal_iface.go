package core

// Frame is one binary chunk from a publisher: a raw stream message or a
// single RTP packet.
type Frame []byte

// Subscriber is a session's delivery path inside a room.
// Offer never blocks; false means the queue overflowed and the policy asked
// for the subscriber to be dropped.
type Subscriber interface {
	Session() Session
	Offer(Frame) bool
	Stop()
}

// Recorder persists the publisher's chunks for one publishing lifetime.
type Recorder interface {
	// Prepare selects the encoding from the publisher's codec mime type.
	// Raw stream publishers never call it.
	Prepare(mimeType string) error
	Write(Frame) error
	// Finalize is safe to call more than once; only the first call counts.
	Finalize()
}
