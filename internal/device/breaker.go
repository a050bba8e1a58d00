package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling the operation while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// DefaultBreakerConfig opens after 3 consecutive failures and tries again
// after a minute.
var DefaultBreakerConfig = BreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute}

// Breaker fails fast after MaxFailures consecutive failures. Once
// ResetTimeout has passed one call is let through; its result closes or
// re-opens the breaker.
//
// Errors wrapping ErrActuatorRejected are answers from a healthy device and
// do not count as failures.
type Breaker struct {
	name string
	cfg  BreakerConfig
	log  *slog.Logger
	now  func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed breaker. Zero config fields take defaults.
func NewBreaker(name string, cfg BreakerConfig, log *slog.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultBreakerConfig.MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerConfig.ResetTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		name: name,
		cfg:  cfg,
		log:  log.With(slog.String("component", "breaker"), slog.String("name", name)),
		now:  time.Now,
	}
}

// Execute runs op unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op(ctx)
	if err == nil || errors.Is(err, ErrActuatorRejected) {
		b.onSuccess()
		return err
	}
	b.onFailure(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		b.state = HalfOpen
		b.log.Info("breaker half-open, probing")
	case HalfOpen:
		// A trial call is already in flight.
		return ErrOpen
	}
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Closed {
		b.log.Info("breaker closed", "from", b.state.String())
	}
	b.state = Closed
	b.failures = 0
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.MaxFailures {
		if b.state != Open {
			b.log.Warn("breaker opened", "failures", b.failures, "error", err)
		}
		b.state = Open
		b.openedAt = b.now()
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
