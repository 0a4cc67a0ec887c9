// Package resilience implements a per-port delivery guard. An error
// raised inside onPortDataChanged is caught at the port boundary,
// logged, and the pipeline continues indefinitely — so a port whose
// filter is wedged (every delivery panics or errors) would keep paying
// the cost of invoking a callback that can never succeed. PortBreaker
// trips after a run of consecutive delivery failures, drops samples for
// that one port during a cooldown window, then probes recovery with a
// few trial deliveries before resuming normal operation.
//
// A PortBreaker is not safe for concurrent use and does not need to be:
// every delivery into one input port runs on that port's owning thread,
// so Guard is only ever called serially.
package resilience

import (
	"errors"
	"time"

	"github.com/ifm/nexxT/internal/nxlog"
)

// ErrOpen is returned by Guard when the breaker is open and the delivery
// was skipped without invoking the callback.
var ErrOpen = errors.New("resilience: breaker open, delivery skipped")

// Config configures a PortBreaker. Zero values pick the defaults: trip
// after 5 consecutive failures, drop for 10s, then require 2 successful
// probe deliveries to resume.
type Config struct {
	// FailureThreshold is the number of consecutive delivery failures
	// that trips the breaker.
	FailureThreshold int
	// Cooldown is how long deliveries are dropped once tripped.
	Cooldown time.Duration
	// ProbeSuccesses is the number of consecutive successful deliveries,
	// after the cooldown, needed to resume normal operation.
	ProbeSuccesses int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Second
	}
	if c.ProbeSuccesses <= 0 {
		c.ProbeSuccesses = 2
	}
	return c
}

type mode int

const (
	modeClosed mode = iota
	modeOpen
	modeProbing
)

func (m mode) String() string {
	switch m {
	case modeClosed:
		return "closed"
	case modeOpen:
		return "open"
	case modeProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// PortBreaker guards one input port's onPortDataChanged invocations.
// Normal (closed) operation is indistinguishable from an unguarded port.
type PortBreaker struct {
	name string
	log  nxlog.Logger
	cfg  Config

	mode           mode
	failures       int // consecutive delivery failures
	probeSuccesses int // consecutive successes while probing
	trippedAt      time.Time
	droppedTotal   uint64

	now func() time.Time // swapped in tests
}

// NewPortBreaker creates a PortBreaker named "<filterName>.<portName>".
func NewPortBreaker(filterName, portName string, cfg Config, log nxlog.Logger) *PortBreaker {
	if log == nil {
		log = nxlog.Nop{}
	}
	return &PortBreaker{
		name: filterName + "." + portName,
		log:  log,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
	}
}

// Guard runs deliver unless the breaker is open. It returns nil when the
// callback ran and succeeded, ErrOpen when the delivery was skipped, and
// the callback's error otherwise; a non-nil return always means the
// sample was dropped.
func (b *PortBreaker) Guard(deliver func() error) error {
	if b.mode == modeOpen {
		if b.now().Sub(b.trippedAt) < b.cfg.Cooldown {
			b.droppedTotal++
			b.log.Warn("port breaker open, dropping delivery", nxlog.String("port", b.name))
			return ErrOpen
		}
		b.mode = modeProbing
		b.probeSuccesses = 0
		b.log.Info("port breaker cooldown elapsed, probing delivery", nxlog.String("port", b.name))
	}

	err := deliver()
	if err != nil {
		b.onFailure(err)
		return err
	}
	b.onSuccess()
	return nil
}

func (b *PortBreaker) onFailure(err error) {
	b.failures++
	b.log.Error("onPortDataChanged failed, dropping and continuing",
		nxlog.String("port", b.name), nxlog.Err(err))

	if b.mode == modeProbing {
		// The port is still wedged; start a fresh cooldown.
		b.trip()
		return
	}
	if b.failures >= b.cfg.FailureThreshold {
		b.trip()
	}
}

func (b *PortBreaker) onSuccess() {
	b.failures = 0
	if b.mode == modeProbing {
		b.probeSuccesses++
		if b.probeSuccesses >= b.cfg.ProbeSuccesses {
			b.mode = modeClosed
			b.log.Info("port breaker closed, resuming normal delivery", nxlog.String("port", b.name))
		}
	}
}

func (b *PortBreaker) trip() {
	b.mode = modeOpen
	b.trippedAt = b.now()
	b.log.Error("port breaker tripped, pausing delivery",
		nxlog.String("port", b.name),
		nxlog.Int("consecutiveFailures", b.failures),
		nxlog.Float64("cooldownSeconds", b.cfg.Cooldown.Seconds()))
}

// State returns the breaker's current mode ("closed"/"open"/"probing").
func (b *PortBreaker) State() string { return b.mode.String() }

// Dropped returns how many deliveries have been skipped while open.
func (b *PortBreaker) Dropped() uint64 { return b.droppedTotal }
