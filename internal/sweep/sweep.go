// Package sweep runs the eager expiration task: a recurring scan that
// deletes every slot whose expiry has passed, independent of request
// traffic.
package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is the sweep cadence.
const DefaultInterval = time.Hour

// Deleter is the slice of the engine the sweeper needs.
type Deleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Sweeper is a process-scoped background task with an explicit lifecycle.
// It is constructed with its dependencies injected; there is no ambient
// singleton.
type Sweeper struct {
	deleter  Deleter
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time

	running atomic.Bool // non-reentrancy guard for individual runs

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithInterval overrides the sweep cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.interval = d }
}

// WithLogger sets the sweeper logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sweeper) { s.log = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New creates a Sweeper; call Start to begin sweeping.
func New(d Deleter, opts ...Option) *Sweeper {
	s := &Sweeper{
		deleter:  d,
		interval: DefaultInterval,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop. The first sweep runs immediately so a
// long-lived process does not wait a full tick before reclaiming anything.
// Start on an already-started Sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)
}

// Stop cancels the loop and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. If a sweep is already in flight the call
// is skipped rather than run in parallel with itself.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn().Msg("sweep still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	if ctx.Err() != nil {
		return
	}

	deleted, err := s.deleter.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		// shutdown cancellation is expected, not worth a log line
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		s.log.Error().Err(err).Msg("sweep failed")
		return
	}
	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Msg("expired slots swept")
	}
}
