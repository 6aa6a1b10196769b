package dispatch

import (
	"context"

	"golang.org/x/net/http2"
)

// Transport is the external collaborator the Demultiplexer Loop reads from
// and closes after a peer-initiated GOAWAY; other shutdowns only cancel
// ReadFrame's ctx. Building a Transport (dialing or accepting a
// connection, terminating TLS, turning bytes into frames) is out of scope
// for this package; internal/frame supplies the frame-level codec half
// of one.
type Transport interface {
	// ReadFrame blocks until the next frame is available, ctx is done, or
	// the transport fails. At most one ReadFrame call is ever outstanding
	// at a time; the Demultiplexer Loop is that one reader.
	//
	// ReadFrame should return ErrNotHTTP2 if it observes a byte stream
	// that is not valid HTTP/2 framing, and io.EOF if the peer closed the
	// connection cleanly.
	ReadFrame(ctx context.Context) (http2.Frame, error)
	// Close closes the transport. A transport whose ReadFrame cannot be
	// interrupted by ctx cancellation alone must be unblocked by Close
	// instead; net.Conn guarantees this for a concurrent Read.
	Close() error
}

// Executor is the optional capability of a Transport to run work off the
// demux-loop goroutine. Its absence causes the Ping Coordinator to
// self-neuter rather than spawn a goroutine the transport never advertised.
type Executor interface {
	Go(func())
}

// Writer is the external collaborator used to emit connection- and
// stream-level control frames. internal/frame.Writer implements it
// directly.
type Writer interface {
	WriteSettings(settings ...http2.Setting) error
	WritePing(ack bool, data [8]byte) error
	WriteRSTStream(streamID uint32, code http2.ErrCode) error
	WriteGoAway(lastStreamID uint32, code http2.ErrCode, debugData []byte) error
}

// StreamHandler is the external collaborator that owns one stream's
// frame-to-message translation, header assembly, and flow control, none
// of which this package implements.
type StreamHandler interface {
	// Recv delivers one inbound stream frame, in transport read order.
	Recv(frame http2.Frame)
	// Reset is invoked during wholesale connection teardown; local is
	// always false. A handler that decides to reset itself locally calls
	// its own notify function (returned by RegisterStream) instead of
	// waiting to be told.
	Reset(cause error, local bool)
}

// OutcomeKind classifies how a stream ended.
type OutcomeKind int

const (
	// OutcomeOk is a clean, cooperative stream completion.
	OutcomeOk OutcomeKind = iota
	// OutcomeRemoteReset means the peer reset the stream; no RST_STREAM
	// is emitted in response because the peer already knows.
	OutcomeRemoteReset
	// OutcomeLocalReset means the local handler cancelled the stream; an
	// RST_STREAM is emitted to inform the peer.
	OutcomeLocalReset
	// OutcomeOther means the handler failed with an error that is not a
	// reset; an RST_STREAM(INTERNAL_ERROR) is emitted.
	OutcomeOther
)

// Outcome is the single-shot terminal signal a StreamHandler reports
// through the notify function RegisterStream returns.
type Outcome struct {
	Kind  OutcomeKind
	Cause error
}
