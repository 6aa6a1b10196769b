package dispatch

import (
	"context"
	"time"

	"golang.org/x/net/http2"

	"github.com/h2mux/dispatch/internal/stats"
)

// Detector is a pluggable connection-liveness monitor. Run blocks
// until ctx is done or the detector decides the connection is dead, in
// which case it invokes onDead at most once and returns.
type Detector interface {
	Run(ctx context.Context, probe func() *Completion, onDead func())
}

// NullDetector never declares a connection dead. It is the default when no
// Detector is configured.
type NullDetector struct{}

// Run blocks until ctx is done and never calls onDead.
func (NullDetector) Run(ctx context.Context, _ func() *Completion, _ func()) {
	<-ctx.Done()
}

// IntervalDetector pings on a fixed interval and declares the connection
// dead after Threshold consecutive failed or timed-out pings. Grounded on
// hashicorp/yamux's keepalive() goroutine: a ticker, a Ping() call, and a
// timeout on the reply.
type IntervalDetector struct {
	// Interval is how often to ping. Defaults to 30s.
	Interval time.Duration
	// Timeout bounds how long to wait for each ping's ACK. Defaults to
	// Interval.
	Timeout time.Duration
	// Threshold is the number of consecutive failures before the
	// connection is declared dead. Defaults to 3.
	Threshold int
	// Stats, if non-nil, records each failed ping.
	Stats *stats.Recorder
}

// Run implements Detector.
func (d *IntervalDetector) Run(ctx context.Context, probe func() *Completion, onDead func()) {
	interval := d.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = interval
	}
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = 3
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			err := probe().Wait(waitCtx)
			cancel()
			if err != nil {
				consecutive++
				if d.Stats != nil {
					d.Stats.PingFailed()
				}
				if consecutive >= threshold {
					onDead()
					return
				}
				continue
			}
			consecutive = 0
		}
	}
}

// failureDetectorAdapter runs a Detector against a Dispatcher's own Ping,
// translating a "dead" verdict into GoAway(INTERNAL_ERROR).
type failureDetectorAdapter struct {
	detector   Detector
	dispatcher *Dispatcher
}

func (a *failureDetectorAdapter) run(ctx context.Context) {
	a.detector.Run(ctx, a.dispatcher.Ping, func() {
		a.dispatcher.logf("failure detector declared the connection dead")
		_ = a.dispatcher.GoAway(http2.ErrCodeInternal, 0)
	})
}
