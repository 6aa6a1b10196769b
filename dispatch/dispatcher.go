// Package dispatch implements the HTTP/2 connection dispatcher base: the
// shared machinery that demultiplexes one HTTP/2 transport into per-stream
// handlers, tracks stream lifecycles, drives PING-based liveness, and
// coordinates connection-wide shutdown. It is deliberately silent about
// everything downstream of "deliver this frame to a handler": header
// assembly, flow control, and request/response semantics belong to the
// StreamHandler and Transport implementations a caller supplies.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"

	"github.com/h2mux/dispatch/internal/stats"
)

// errGracefulStop unwinds Run after a peer-initiated GOAWAY without the
// generic read-error path mischaracterizing a clean shutdown as a failure.
var errGracefulStop = errors.New("dispatch: graceful stop")

// NewStreamFunc admits a newly observed stream id: the demux_new_stream
// hook a caller supplies. frame is the triggering stream frame,
// almost always HEADERS.
type NewStreamFunc func(ctx context.Context, frame http2.Frame) error

// Dispatcher is the connection dispatcher described by this package's doc
// comment. Construct one per HTTP/2 connection with New; it is not
// reusable across connections.
type Dispatcher struct {
	cfg       Config
	transport Transport
	writer    Writer
	newStream NewStreamFunc

	table streamTable
	ping  *PingCoordinator
	stats *stats.Recorder

	closed atomic.Bool

	runCtx    context.Context
	cancelRun context.CancelCauseFunc

	sweepStop chan struct{}
	sweepDone chan struct{}

	demuxDone chan struct{}
	demuxErr  error
}

// New constructs a Dispatcher over transport and writer, with newStream as
// the demux_new_stream admission hook. If transport implements Executor,
// the Ping Coordinator uses it to offload PING scheduling; otherwise Ping
// self-neuters rather than spawning an unsolicited goroutine.
func New(transport Transport, writer Writer, newStream NewStreamFunc, cfg Config) *Dispatcher {
	_ = cfg.Validate()

	var rec *stats.Recorder
	if cfg.MetricsRegisterer != nil {
		rec = stats.New(cfg.MetricsRegisterer, cfg.MetricsScope)
	}

	exec, _ := transport.(Executor)

	d := &Dispatcher{
		cfg:       cfg,
		transport: transport,
		writer:    writer,
		newStream: newStream,
		stats:     rec,
		demuxDone: make(chan struct{}),
	}
	d.ping = newPingCoordinator(writer, exec, rec)
	return d
}

// ActiveStreams returns the current stream table size.
func (d *Dispatcher) ActiveStreams() int {
	return d.table.len()
}

// Ping issues at most one outstanding PING.
func (d *Dispatcher) Ping() *Completion {
	return d.ping.Ping()
}

// WriteSettings writes a SETTINGS frame. Applying settings locally
// (flow-control windows, frame-size limits, and so on) is a collaborator's
// concern; the dispatcher only forwards the write.
func (d *Dispatcher) WriteSettings(settings ...http2.Setting) *Completion {
	return satisfied(d.writer.WriteSettings(settings...))
}

// RegisterStream installs handler as the Open entry for id, returning the
// notify function the handler must call exactly once, when it reaches a
// terminal Outcome. It fails with *DuplicateStreamError if id is
// already tracked, and with *IllegalArgumentError if shutdown has already
// begun.
func (d *Dispatcher) RegisterStream(id uint32, handler StreamHandler) (func(Outcome), error) {
	slot, entry, err := d.table.register(id, handler)
	if err != nil {
		return nil, err
	}
	if d.closed.Load() {
		// Shutdown raced the registration. Unwind so "after shutdown
		// begins, no new entries are inserted" holds; the registrant
		// sees this exactly as if the connection were already gone.
		d.table.streams.CompareAndDelete(id, slot)
		return nil, &IllegalArgumentError{Reason: fmt.Sprintf("register stream %d after shutdown began", id)}
	}
	if d.stats != nil {
		d.stats.StreamOpened()
	}

	var once sync.Once
	return func(o Outcome) {
		once.Do(func() { d.observeOutcome(id, slot, entry, o) })
	}, nil
}

// observeOutcome is the Stream Lifecycle Observer: it reacts to a
// handler's single-shot terminal signal by retiring the stream id and, for
// locally-caused terminations, emitting the matching RST_STREAM, unless
// shutdown got there first.
func (d *Dispatcher) observeOutcome(id uint32, slot *streamSlot, openEntry *streamEntry, o Outcome) {
	switch o.Kind {
	case OutcomeOk, OutcomeRemoteReset:
		d.table.remove(id)
		if d.stats != nil {
			d.stats.StreamClosed()
		}

	case OutcomeLocalReset:
		terminal := &streamEntry{kind: entryLocalReset, cause: o.Cause, closedAt: time.Now()}
		if !slot.value.CompareAndSwap(openEntry, terminal) {
			return // shutdown already mutated this entry first
		}
		d.table.retireTerminal(id)
		if d.stats != nil {
			d.stats.StreamClosed()
		}
		if !d.closed.Load() {
			_ = d.writer.WriteRSTStream(id, resetCodeFor(o.Cause))
			if d.stats != nil {
				d.stats.StreamReset("local-reset")
			}
		}

	case OutcomeOther:
		terminal := &streamEntry{kind: entryFailed, cause: o.Cause, closedAt: time.Now()}
		if !slot.value.CompareAndSwap(openEntry, terminal) {
			return
		}
		d.table.retireTerminal(id)
		if d.stats != nil {
			d.stats.StreamClosed()
		}
		if !d.closed.Load() {
			_ = d.writer.WriteRSTStream(id, http2.ErrCodeInternal)
			if d.stats != nil {
				d.stats.StreamReset("failed")
			}
		}
	}
}

// resetStreams is the Shutdown Coordinator's reset_streams: a
// single-shot connection teardown that resets every currently-Open stream
// and unblocks the demux loop's pending read. It reports whether this call
// was the one that flipped ConnectionClosed.
func (d *Dispatcher) resetStreams(cause error) bool {
	if !d.closed.CompareAndSwap(false, true) {
		return false
	}
	d.table.rangeOpen(func(id uint32, h StreamHandler) {
		h.Reset(cause, false)
	})
	if d.cancelRun != nil {
		d.cancelRun(&InterruptedError{Cause: cause})
	}
	return true
}

// GoAway is the Shutdown Coordinator's go_away: it tears down
// every open stream with ErrTeardown and, if this call is the one that
// initiated shutdown, sends GOAWAY(code) to the peer. A caller that loses
// the race to an already-in-progress teardown gets an already-satisfied
// completion instead.
func (d *Dispatcher) GoAway(code http2.ErrCode, _ time.Duration) *Completion {
	if !d.resetStreams(ErrTeardown) {
		return satisfied(nil)
	}
	err := d.writer.WriteGoAway(d.table.highestSeenID(), code, nil)
	if d.stats != nil {
		d.stats.GoAwaySent()
	}
	return satisfied(err)
}

// OnTransportClose is the hook a caller invokes when the transport dies for
// any reason outside the Demultiplexer Loop's own read. Idempotent: if
// shutdown already began, this is a no-op.
func (d *Dispatcher) OnTransportClose(err error) {
	cause := ErrTeardown
	if err != nil {
		cause = fmt.Errorf("%w: %v", ErrTeardown, err)
	}
	d.resetStreams(cause)
}

// StartFailureDetector runs detector against this dispatcher's Ping until
// ctx is done, translating a "dead" verdict into GoAway(INTERNAL_ERROR). A
// nil detector behaves like NullDetector{}.
func (d *Dispatcher) StartFailureDetector(ctx context.Context, detector Detector) {
	if detector == nil {
		detector = NullDetector{}
	}
	adapter := &failureDetectorAdapter{detector: detector, dispatcher: d}
	go adapter.run(ctx)
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.demuxDone }

// Err returns the terminal cause Run returned. Valid only after Done is
// closed; this is the "demuxing" completion a caller observes.
func (d *Dispatcher) Err() error { return d.demuxErr }

// Run is the Demultiplexer Loop: it reads frames from the transport
// one at a time, routing each to connection control or to the matching
// stream handler, until the transport closes, shutdown begins elsewhere,
// or a protocol violation forces a GOAWAY. Call Run once, for the lifetime
// of the connection; it blocks until the connection is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	d.runCtx = runCtx
	d.cancelRun = cancel
	defer cancel(nil)

	if d.cfg.TerminalEntryTTL > 0 {
		d.sweepStop = make(chan struct{})
		d.sweepDone = make(chan struct{})
		go d.sweepLoop()
	}

	err := d.loop(runCtx)

	if d.sweepStop != nil {
		close(d.sweepStop)
		<-d.sweepDone
	}

	d.demuxErr = err
	close(d.demuxDone)
	return err
}

func (d *Dispatcher) loop(ctx context.Context) error {
	for {
		f, err := d.transport.ReadFrame(ctx)
		if err != nil {
			return d.handleReadError(err)
		}
		if err := d.route(f); err != nil {
			if errors.Is(err, errGracefulStop) {
				return nil
			}
			return err
		}
	}
}

func (d *Dispatcher) handleReadError(err error) error {
	if d.closed.Load() {
		if cause := context.Cause(d.runCtx); cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
		return err
	}
	if errors.Is(err, ErrNotHTTP2) {
		d.logf("non-HTTP/2 frame observed, closing without GOAWAY: %v", err)
		return nil
	}
	if errors.Is(err, io.EOF) && d.table.len() == 0 {
		return nil
	}
	d.logf("transport read error: %v", err)
	_ = d.GoAway(http2.ErrCodeInternal, 0)
	return err
}

func (d *Dispatcher) route(f http2.Frame) error {
	switch fr := f.(type) {
	case *http2.GoAwayFrame:
		d.handlePeerGoAway(fr)
		return errGracefulStop
	case *http2.SettingsFrame:
		return nil
	case *http2.PingFrame:
		return d.handlePing(fr)
	case *http2.WindowUpdateFrame:
		if fr.StreamID == 0 {
			// Connection-level flow control; accounting is a
			// collaborator's concern, not this dispatcher's.
			return nil
		}
		return d.routeStreamFrame(f)
	case *http2.HeadersFrame, *http2.DataFrame, *http2.RSTStreamFrame,
		*http2.PriorityFrame, *http2.ContinuationFrame, *http2.PushPromiseFrame:
		return d.routeStreamFrame(f)
	default:
		return d.protocolError(fmt.Sprintf("unsupported frame kind %T", f))
	}
}

func (d *Dispatcher) handlePeerGoAway(_ *http2.GoAwayFrame) {
	if d.resetStreams(ErrTeardown) {
		_ = d.transport.Close()
	}
}

func (d *Dispatcher) handlePing(fr *http2.PingFrame) error {
	if fr.IsAck() {
		d.ping.OnPingAck()
		return nil
	}
	if d.cfg.AutoAckPing {
		if err := d.writer.WritePing(true, fr.Data); err != nil {
			d.logf("failed to ack ping: %v", err)
		}
	}
	return nil
}

func (d *Dispatcher) routeStreamFrame(f http2.Frame) error {
	id := f.Header().StreamID
	if id == 0 {
		return d.protocolError(fmt.Sprintf("stream frame with id 0: %T", f))
	}

	slot, ok := d.table.load(id)
	if !ok {
		if id <= d.table.highWaterMark() {
			d.sendLateFrameReset(id)
			return nil
		}
		if err := d.newStream(d.runCtx, f); err != nil {
			d.logf("demux_new_stream(%d): %v", id, err)
		}
		return nil
	}

	entry := slot.value.Load()
	if entry.kind == entryOpen {
		entry.handler.Recv(f)
	}
	// entryLocalReset, entryFailed: discard.
	return nil
}

func (d *Dispatcher) sendLateFrameReset(id uint32) {
	if d.closed.Load() {
		return
	}
	_ = d.writer.WriteRSTStream(id, http2.ErrCodeStreamClosed)
	if d.stats != nil {
		d.stats.StreamReset("late-frame")
	}
}

func (d *Dispatcher) protocolError(reason string) error {
	d.logf("protocol error: %s", reason)
	_ = d.GoAway(http2.ErrCodeProtocol, 0)
	return &IllegalArgumentError{Reason: reason}
}

func (d *Dispatcher) sweepLoop() {
	defer close(d.sweepDone)
	interval := d.cfg.TerminalEntryTTL / 2
	if interval <= 0 {
		interval = d.cfg.TerminalEntryTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.sweepStop:
			return
		case <-ticker.C:
			d.table.sweepTerminal(time.Now().Add(-d.cfg.TerminalEntryTTL))
		}
	}
}

func (d *Dispatcher) logf(format string, args ...any) {
	d.cfg.Logger.Printf(format, args...)
}
