package dispatch

import (
	"sync/atomic"
	"time"

	"github.com/h2mux/dispatch/internal/stats"
)

// pingWaiter is the single outstanding PING's state: the completion its
// caller is waiting on, and when the PING was actually written (for RTT
// accounting once the ACK arrives).
type pingWaiter struct {
	completion *Completion
	sentAt     time.Time
}

// PingCoordinator enforces "at most one outstanding PING" without a mutex,
// grounded on hashicorp/yamux's Session.Ping()/pings map.
type PingCoordinator struct {
	writer Writer
	exec   Executor
	slot   atomic.Pointer[pingWaiter]
	stats  *stats.Recorder
}

func newPingCoordinator(writer Writer, exec Executor, rec *stats.Recorder) *PingCoordinator {
	return &PingCoordinator{writer: writer, exec: exec, stats: rec}
}

// Ping issues a PING if none is outstanding, completing the returned
// Completion when the matching ACK arrives. If the transport advertises no
// Executor, Ping self-neuters: it returns an already-satisfied completion
// rather than spawning a goroutine the transport never opted into.
func (p *PingCoordinator) Ping() *Completion {
	if p.exec == nil {
		return satisfied(nil)
	}

	completion := newCompletion()
	waiter := &pingWaiter{completion: completion}

	p.exec.Go(func() {
		if !p.slot.CompareAndSwap(nil, waiter) {
			completion.resolve(ErrOutstandingPing)
			return
		}
		waiter.sentAt = time.Now()
		var data [8]byte
		if err := p.writer.WritePing(false, data); err != nil {
			if p.slot.CompareAndSwap(waiter, nil) {
				completion.resolve(err)
			}
		}
	})

	return completion
}

// OnPingAck satisfies the outstanding ping, if any, and records its
// round-trip time. A PING ACK with nothing outstanding (a stray or
// duplicate ACK) is silently ignored.
func (p *PingCoordinator) OnPingAck() {
	waiter := p.slot.Swap(nil)
	if waiter == nil {
		return
	}
	if p.stats != nil && !waiter.sentAt.IsZero() {
		p.stats.PingRTT(time.Since(waiter.sentAt))
	}
	waiter.completion.resolve(nil)
}
