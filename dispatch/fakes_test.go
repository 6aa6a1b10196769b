package dispatch

import (
	"context"
	"sync"

	"golang.org/x/net/http2"
)

// fakeTransport is a channel-fed Transport double: push frames onto it and
// the Demultiplexer Loop reads them in order, same as a real connection.
type fakeTransport struct {
	frames    chan http2.Frame
	closed    chan struct{}
	closeOnce sync.Once

	execFn func(func())
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames: make(chan http2.Frame, 32),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) push(f http2.Frame) { t.frames <- f }

func (t *fakeTransport) ReadFrame(ctx context.Context) (http2.Frame, error) {
	select {
	case f := <-t.frames:
		return f, nil
	case <-t.closed:
		return nil, errClosedFakeTransport
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Go implements Executor, so a bare fakeTransport gives Ping a real round
// trip. Tests that want Ping to self-neuter wrap it in noExecTransport.
func (t *fakeTransport) Go(fn func()) {
	if t.execFn != nil {
		t.execFn(fn)
		return
	}
	go fn()
}

// noExecTransport forwards Transport methods to a wrapped (not embedded)
// fakeTransport, so its Go method is not promoted and it does not satisfy Executor. Used
// to exercise Ping's self-neutering path.
type noExecTransport struct {
	inner *fakeTransport
}

func (t *noExecTransport) ReadFrame(ctx context.Context) (http2.Frame, error) {
	return t.inner.ReadFrame(ctx)
}

func (t *noExecTransport) Close() error { return t.inner.Close() }

var errClosedFakeTransport = &fakeCloseError{}

type fakeCloseError struct{}

func (*fakeCloseError) Error() string { return "dispatch: fake transport closed" }

// fakeWriter records every frame the dispatcher asked to emit.
type fakeWriter struct {
	mu sync.Mutex

	settings [][]http2.Setting
	pings    [][8]byte
	pingAcks int
	rst      []rstCall
	goAways  []goAwayCall

	failGoAway error
	failPing   error
}

type rstCall struct {
	id   uint32
	code http2.ErrCode
}

type goAwayCall struct {
	lastStreamID uint32
	code         http2.ErrCode
}

func (w *fakeWriter) WriteSettings(settings ...http2.Setting) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settings = append(w.settings, settings)
	return nil
}

func (w *fakeWriter) WritePing(ack bool, data [8]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ack {
		w.pingAcks++
		return nil
	}
	if w.failPing != nil {
		return w.failPing
	}
	w.pings = append(w.pings, data)
	return nil
}

func (w *fakeWriter) WriteRSTStream(streamID uint32, code http2.ErrCode) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rst = append(w.rst, rstCall{streamID, code})
	return nil
}

func (w *fakeWriter) WriteGoAway(lastStreamID uint32, code http2.ErrCode, _ []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.goAways = append(w.goAways, goAwayCall{lastStreamID, code})
	return w.failGoAway
}

func (w *fakeWriter) rstCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rst)
}

func (w *fakeWriter) lastRST() (rstCall, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.rst) == 0 {
		return rstCall{}, false
	}
	return w.rst[len(w.rst)-1], true
}

func (w *fakeWriter) goAwayCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.goAways)
}

// fakeHandler is a StreamHandler double that records what it received and
// lets the test control when it terminates.
type fakeHandler struct {
	mu       sync.Mutex
	received []http2.Frame
	resets   []resetCall
}

type resetCall struct {
	cause error
	local bool
}

func (h *fakeHandler) Recv(f http2.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, f)
}

func (h *fakeHandler) Reset(cause error, local bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resets = append(h.resets, resetCall{cause, local})
}

func (h *fakeHandler) recvCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func (h *fakeHandler) resetCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.resets)
}

func headersFrame(streamID uint32, endStream bool) *http2.HeadersFrame {
	flags := http2.FlagHeadersEndHeaders
	if endStream {
		flags |= http2.FlagHeadersEndStream
	}
	return &http2.HeadersFrame{
		FrameHeader: http2.FrameHeader{
			Type:     http2.FrameHeaders,
			Flags:    flags,
			StreamID: streamID,
		},
	}
}

func pingFrame(data [8]byte, ack bool) *http2.PingFrame {
	var flags http2.Flags
	if ack {
		flags |= http2.FlagPingAck
	}
	return &http2.PingFrame{
		FrameHeader: http2.FrameHeader{Type: http2.FramePing, Flags: flags},
		Data:        data,
	}
}

func goAwayFrame(code http2.ErrCode) *http2.GoAwayFrame {
	return &http2.GoAwayFrame{
		FrameHeader: http2.FrameHeader{Type: http2.FrameGoAway},
		ErrCode:     code,
	}
}

func rstStreamFrame(streamID uint32, code http2.ErrCode) *http2.RSTStreamFrame {
	return &http2.RSTStreamFrame{
		FrameHeader: http2.FrameHeader{Type: http2.FrameRSTStream, StreamID: streamID},
		ErrCode:     code,
	}
}

func windowUpdateFrame(streamID, increment uint32) *http2.WindowUpdateFrame {
	return &http2.WindowUpdateFrame{
		FrameHeader: http2.FrameHeader{Type: http2.FrameWindowUpdate, StreamID: streamID},
		Increment:   increment,
	}
}

func settingsFrame() *http2.SettingsFrame {
	return &http2.SettingsFrame{
		FrameHeader: http2.FrameHeader{Type: http2.FrameSettings},
	}
}

// dataFrame builds a DATA frame header only: http2.DataFrame's payload
// field is private to golang.org/x/net/http2, so a frame built outside
// that package can carry a length but never a real body. Good enough for
// routing tests, which only ever look at the header.
func dataFrame(streamID uint32, length int, endStream bool) *http2.DataFrame {
	var flags http2.Flags
	if endStream {
		flags |= http2.FlagDataEndStream
	}
	return &http2.DataFrame{
		FrameHeader: http2.FrameHeader{
			Type:     http2.FrameData,
			Flags:    flags,
			StreamID: streamID,
			Length:   uint32(length),
		},
	}
}
