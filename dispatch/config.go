package dispatch

import (
	"io"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config controls dispatcher behavior. Out-of-range values are clamped to
// a sane default by Validate rather than rejected outright.
type Config struct {
	// Logger receives diagnostic lines (protocol errors, read failures,
	// failure-detector verdicts). Defaults to a silent logger: no logging
	// unless a caller asks for it.
	Logger *log.Logger

	// AutoAckPing, when true (the default), makes the dispatcher echo a
	// non-ACK PING immediately via the Writer, per RFC 7540 §6.7.
	AutoAckPing bool

	// TerminalEntryTTL bounds how long a LocalReset/Failed stream-table
	// entry is retained, silently discarding straggler frames for its id,
	// before the background sweeper evicts it; after eviction such frames
	// fall to the ClosedHighWater check and get STREAM_CLOSED. Zero disables the
	// sweeper entirely: terminal entries are retained forever.
	TerminalEntryTTL time.Duration

	// MetricsRegisterer, if non-nil, enables Prometheus instrumentation
	// registered against it. Left nil, the dispatcher records no
	// metrics: a library embedded by many connections should not
	// silently register into prometheus.DefaultRegisterer.
	MetricsRegisterer prometheus.Registerer
	// MetricsScope labels every metric this dispatcher registers, so
	// multiple dispatchers can share one Registerer.
	MetricsScope string
}

// DefaultConfig returns the configuration used when a caller does not
// override a field: pings are auto-acked, terminal entries expire after two
// minutes, and diagnostics go nowhere.
func DefaultConfig() Config {
	return Config{
		Logger:           log.New(io.Discard, "", 0),
		AutoAckPing:      true,
		TerminalEntryTTL: 2 * time.Minute,
	}
}

// Validate clamps cfg's fields to usable values in place. It never returns
// a non-nil error; the return value exists so callers can use it in an
// initializer without a separate statement.
func (c *Config) Validate() error {
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
	if c.TerminalEntryTTL < 0 {
		c.TerminalEntryTTL = 2 * time.Minute
	}
	return nil
}
