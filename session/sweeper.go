package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultSweepInterval is how often the background sweeper runs.
const DefaultSweepInterval = time.Hour

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("sweeper already started")

	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("sweeper not started")
)

// Sweeper evicts idle sessions on a fixed interval in the background.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewSweeper creates a sweeper over the given store. A non-positive interval
// falls back to DefaultSweepInterval.
func NewSweeper(store *Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger.With("component", "session-sweeper"),
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a goroutine and returns immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
	return nil
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	s.cancel()
	<-s.done
	s.started.Store(false)
	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.store.Sweep(); evicted > 0 {
				s.logger.Info("evicted idle sessions", "count", evicted)
			}
		}
	}
}
