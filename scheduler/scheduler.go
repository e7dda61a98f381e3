// Package scheduler runs the proactive trigger: a recurring timer that
// acquires the global active-driver token and drives a synthetic turn
// through the pipeline without direct user input.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/convoflow/convoflow/exclusion"
)

// DefaultInterval is the default proactive tick interval.
const DefaultInterval = 15 * time.Minute

var (
	// ErrRunInProgress is returned by TriggerManual while a proactive run is
	// already executing.
	ErrRunInProgress = errors.New("proactive run already in progress")

	// ErrDriverBusy is returned when the active-driver token is held by
	// another turn.
	ErrDriverBusy = errors.New("active driver token held")

	// ErrDisabled is returned by TriggerManual when the scheduler is not
	// configured to run.
	ErrDisabled = errors.New("proactive scheduler disabled")
)

// RunFunc drives one proactive turn through the pipeline orchestrator. The
// active-driver token is already held when it is called.
type RunFunc func(ctx context.Context) error

// Settings controls the scheduler.
type Settings struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// Status is a snapshot of the scheduler's state.
type Status struct {
	Enabled       bool          `json:"enabled"`
	Interval      time.Duration `json:"interval"`
	Running       bool          `json:"running"`
	LastTriggered time.Time     `json:"last_triggered,omitempty"`
}

// Scheduler periodically attempts to acquire the active-driver token and run
// the orchestrator with a synthetic trigger. Ticks that find a run in
// progress or the token held are skipped and rescheduled; they do not touch
// the last-triggered time.
type Scheduler struct {
	driver    *exclusion.DriverToken
	run       RunFunc
	sessionID string
	logger    *slog.Logger

	mu            sync.Mutex
	settings      Settings
	cancel        context.CancelFunc
	done          chan struct{}
	lastTriggered time.Time

	// baseCtx is retained from Start so a Configure restart binds the new
	// loop to the service's lifetime, not to the caller's request context.
	baseCtx context.Context

	// running guards against overlapping proactive runs, timer or manual.
	running atomic.Bool
}

// New creates a stopped scheduler. sessionID is the conversation the
// proactive trigger drives.
func New(driver *exclusion.DriverToken, run RunFunc, sessionID string, settings Settings, logger *slog.Logger) *Scheduler {
	if settings.Interval <= 0 {
		settings.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		driver:    driver,
		run:       run,
		sessionID: sessionID,
		logger:    logger.With("component", "proactive"),
		settings:  settings,
	}
}

// Start begins the timer loop when enabled. Safe to call on a disabled
// scheduler; it simply stays stopped.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseCtx = ctx
	s.startLocked(ctx)
}

func (s *Scheduler) startLocked(ctx context.Context) {
	if !s.settings.Enabled || s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.settings.Interval, s.done)
}

// Stop halts the timer and waits for the loop to exit. In-flight runs are
// allowed to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Configure applies new settings, restarting the timer only if the enabled
// state or interval actually changed. A restarted loop binds to the context
// given to Start; ctx is used only when the scheduler was never started, so
// Configure is safe to call with a request-scoped context.
func (s *Scheduler) Configure(ctx context.Context, settings Settings) {
	if settings.Interval <= 0 {
		settings.Interval = DefaultInterval
	}

	s.mu.Lock()
	changed := settings.Enabled != s.settings.Enabled || settings.Interval != s.settings.Interval
	if !changed {
		s.mu.Unlock()
		return
	}
	s.settings = settings
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	if s.baseCtx != nil {
		ctx = s.baseCtx
	}
	s.startLocked(ctx)
	s.mu.Unlock()
}

// Status reports the scheduler's current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Enabled:       s.settings.Enabled,
		Interval:      s.settings.Interval,
		Running:       s.running.Load(),
		LastTriggered: s.lastTriggered,
	}
}

// TriggerManual performs one acquire/run/release sequence outside the timer.
// It reports ErrRunInProgress or ErrDriverBusy instead of waiting.
func (s *Scheduler) TriggerManual(ctx context.Context) error {
	s.mu.Lock()
	enabled := s.settings.Enabled
	s.mu.Unlock()
	if !enabled {
		return ErrDisabled
	}
	return s.attempt(ctx, "manual", false)
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick attempts one scheduled run; conflicts are skipped and the ticker
// reschedules naturally.
func (s *Scheduler) tick(ctx context.Context) {
	if err := s.attempt(ctx, "scheduler", true); err != nil {
		if errors.Is(err, ErrRunInProgress) || errors.Is(err, ErrDriverBusy) {
			s.logger.Debug("skipping proactive tick", "reason", err)
			return
		}
		s.logger.Error("proactive run failed", "error", err)
	}
}

// attempt runs one proactive turn under the driver token. When quiet, run
// failures are returned to the caller for logging; the last-triggered time
// is recorded whenever a run actually started, success or failure.
func (s *Scheduler) attempt(ctx context.Context, source string, quiet bool) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer s.running.Store(false)

	token, holder, ok := s.driver.TryAcquire(source, s.sessionID)
	if !ok {
		if !quiet {
			s.logger.Info("manual trigger conflict",
				"held_by", holder.Source, "session_id", holder.SessionID)
		}
		return ErrDriverBusy
	}
	defer s.driver.Release(token)

	err := s.run(ctx)

	s.mu.Lock()
	s.lastTriggered = time.Now().UTC()
	s.mu.Unlock()

	return err
}
