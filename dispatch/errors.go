package dispatch

import (
	"errors"
	"fmt"

	"golang.org/x/net/http2"
)

// ErrOutstandingPing is the error an already-in-flight Ping's completion
// resolves to for every caller except the one that got the slot.
var ErrOutstandingPing = errors.New("dispatch: ping already outstanding")

// ErrTeardown is the cause StreamHandler.Reset observes during wholesale
// connection teardown; go_away always resets streams with this cause,
// independent of the wire error code it sends the peer.
var ErrTeardown = errors.New("dispatch: connection teardown")

// ErrNotHTTP2 is the error a Transport returns from ReadFrame when it
// observes bytes that never resolved into valid HTTP/2 framing. The
// Demultiplexer Loop terminates cleanly on this, without sending GOAWAY.
var ErrNotHTTP2 = errors.New("dispatch: transport did not produce an HTTP/2 frame")

// DuplicateStreamError is returned by RegisterStream when id is already
// tracked in the stream table.
type DuplicateStreamError struct {
	ID uint32
}

func (e *DuplicateStreamError) Error() string {
	return fmt.Sprintf("dispatch: stream %d already registered", e.ID)
}

// IllegalArgumentError is the terminal cause Run returns when the peer
// violated the protocol in a way the Demultiplexer Loop can detect on its
// own: a stream frame addressed to id 0, or a frame kind it doesn't
// recognize.
type IllegalArgumentError struct {
	Reason string
}

func (e *IllegalArgumentError) Error() string {
	return "dispatch: illegal argument: " + e.Reason
}

// InterruptedError wraps the cause that aborted a pending transport read
// when shutdown began elsewhere.
type InterruptedError struct {
	Cause error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("dispatch: interrupted: %v", e.Cause)
}

func (e *InterruptedError) Unwrap() error { return e.Cause }

// ResetCoder lets a handler's local-reset cause specify the wire
// RST_STREAM error code directly. A cause that doesn't implement it resets
// with CANCEL.
type ResetCoder interface {
	ErrCode() http2.ErrCode
}

func resetCodeFor(cause error) http2.ErrCode {
	var coder ResetCoder
	if errors.As(cause, &coder) {
		return coder.ErrCode()
	}
	return http2.ErrCodeCancel
}
