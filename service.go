package convoflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/convoflow/convoflow/compaction"
	"github.com/convoflow/convoflow/exclusion"
	"github.com/convoflow/convoflow/hooks"
	"github.com/convoflow/convoflow/persistence"
	"github.com/convoflow/convoflow/scheduler"
	"github.com/convoflow/convoflow/session"
	"github.com/convoflow/convoflow/tool"
	"github.com/convoflow/convoflow/types"
)

// Service is the pipeline orchestrator: it owns the session store, the
// compaction engine, the mutual-exclusion layer, and the proactive
// scheduler, and runs full turns against the completion service.
type Service struct {
	cfg    *internalConfig
	logger *slog.Logger

	store   *session.Store
	sweeper *session.Sweeper
	engine  *compaction.Engine
	locks   *exclusion.SessionLocks
	driver  *exclusion.DriverToken
	sched   *scheduler.Scheduler

	registry *tool.Registry
	invoker  ToolInvoker
	persist  persistence.Store
	hooks    *hooks.Registry

	// mu guards the runtime-settable compaction threshold.
	mu        sync.RWMutex
	threshold int

	started atomic.Bool
}

// New creates a Service from the required config and optional settings.
func New(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ic := newInternalConfig(cfg)
	for _, opt := range opts {
		if err := opt(ic); err != nil {
			return nil, err
		}
	}

	registry := tool.NewRegistry()
	if err := registry.RegisterAll(ic.tools); err != nil {
		return nil, NewConvoError("New", err)
	}

	invoker := ic.invoker
	if invoker == nil {
		executor := tool.NewExecutor(registry)
		if ic.toolTimeout > 0 {
			executor.SetTimeout(ic.toolTimeout)
		}
		invoker = executor
	}

	s := &Service{
		cfg:    ic,
		logger: ic.logger.With("component", "service"),

		store:  session.NewStore(ic.sessionTTL),
		engine: compaction.NewEngine(ic.client, ic.keepRecent, ic.logger),
		locks:  exclusion.NewSessionLocks(),
		driver: exclusion.NewDriverToken(),

		registry: registry,
		invoker:  invoker,
		persist:  ic.persist,
		hooks:    hooks.NewRegistry(),

		threshold: ic.compactionThreshold,
	}

	s.sweeper = session.NewSweeper(s.store, ic.sweepInterval, ic.logger)
	s.sched = scheduler.New(s.driver, s.runProactive, ic.proactiveSessionID, ic.proactive, ic.logger)

	hooks.NewLoggingHooks(ic.logger).RegisterAll(s.hooks)

	return s, nil
}

// Hooks returns the hook registry for observing turns, tool calls, and
// compactions.
func (s *Service) Hooks() *hooks.Registry {
	return s.hooks
}

// Tools returns the tool registry. Tools registered after Start are picked
// up by the next turn.
func (s *Service) Tools() *tool.Registry {
	return s.registry
}

// Start launches the background sweeper and, when enabled, the proactive
// scheduler. The context bounds both loops.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrServiceAlreadyStarted
	}

	if err := s.sweeper.Start(ctx); err != nil {
		s.started.Store(false)
		return NewConvoError("Start", err)
	}
	s.sched.Start(ctx)

	s.logger.Info("service started",
		"session_ttl", s.cfg.sessionTTL,
		"sweep_interval", s.cfg.sweepInterval,
		"proactive_enabled", s.cfg.proactive.Enabled,
	)
	return nil
}

// Stop halts the background loops. In-flight turns are unaffected.
func (s *Service) Stop() error {
	if !s.started.CompareAndSwap(true, false) {
		return ErrServiceNotStarted
	}

	s.sched.Stop()
	if err := s.sweeper.Stop(); err != nil {
		return NewConvoError("Stop", err)
	}

	s.logger.Info("service stopped")
	return nil
}

// CompactionThreshold returns the current trigger threshold in tokens.
func (s *Service) CompactionThreshold() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// SetCompactionThreshold changes the trigger threshold at runtime.
func (s *Service) SetCompactionThreshold(tokens int) error {
	if tokens <= 0 {
		return NewConvoError("SetCompactionThreshold", ErrInvalidConfig).
			WithContext("tokens", tokens)
	}
	s.mu.Lock()
	s.threshold = tokens
	s.mu.Unlock()
	return nil
}

// KeepRecent returns the kept-recent message count.
func (s *Service) KeepRecent() int {
	return s.engine.KeepRecent()
}

// SetKeepRecent changes the kept-recent message count at runtime.
func (s *Service) SetKeepRecent(n int) error {
	if err := s.engine.SetKeepRecent(n); err != nil {
		return NewConvoError("SetKeepRecent", err)
	}
	return nil
}

// ConfigureProactive updates the proactive scheduler's settings. The timer
// restarts only when the enabled state or interval actually changed.
func (s *Service) ConfigureProactive(ctx context.Context, settings scheduler.Settings) {
	s.sched.Configure(ctx, settings)
}

// SchedulerStatus returns a snapshot of the proactive scheduler's state.
func (s *Service) SchedulerStatus() scheduler.Status {
	return s.sched.Status()
}

// TriggerProactive runs one proactive turn immediately, outside the timer.
// It reports ErrRunInProgress or ErrDriverBusy from the scheduler package on
// conflict.
func (s *Service) TriggerProactive(ctx context.Context) error {
	return s.sched.TriggerManual(ctx)
}

// DriverStatus reports whether the active-driver token is held and by whom.
func (s *Service) DriverStatus() (bool, *exclusion.Holder) {
	return s.driver.Status()
}

// runProactive is the scheduler's RunFunc: the token is already held, so it
// drives a turn against the proactive session directly.
func (s *Service) runProactive(ctx context.Context) error {
	_, err := s.executeTurn(ctx, s.cfg.proactiveSessionID, s.cfg.proactiveTrigger, "", nil)
	return err
}

// DeleteSession removes a session from memory, forgets its compaction lock
// state, and deletes its persisted snapshot. The in-memory removal is
// all-or-nothing per id; a persistence failure is logged, not returned.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) {
	s.store.Delete(sessionID)
	s.locks.Forget(sessionID)

	if s.persist != nil {
		if err := s.persist.Delete(ctx, sessionID); err != nil && err != persistence.ErrNotFound {
			s.logger.Warn("failed to delete persisted session",
				"session_id", sessionID, "error", err)
		}
	}
}

// ListSessions returns the persisted session summaries, or the in-memory
// ids when no persistence store is configured.
func (s *Service) ListSessions(ctx context.Context) ([]persistence.SessionInfo, error) {
	if s.persist != nil {
		return s.persist.List(ctx)
	}

	infos := make([]persistence.SessionInfo, 0, s.store.Len())
	for _, id := range s.store.IDs() {
		sess, ok := s.store.Lookup(id)
		if !ok {
			continue
		}
		infos = append(infos, persistence.SessionInfo{
			ID:           id,
			CreatedAt:    sess.CreatedAt,
			MessageCount: sess.Len(),
		})
	}
	return infos, nil
}

// SessionStats describes a session's transcript and compaction state.
type SessionStats struct {
	SessionID       string  `json:"session_id"`
	MessageCount    int     `json:"message_count"`
	CompressedCount int     `json:"compressed_count"`
	Uncompressed    int     `json:"uncompressed"`
	EstimatedTokens int     `json:"estimated_tokens"`
	HasSummary      bool    `json:"has_summary"`
	Utilization     float64 `json:"utilization"`
}

// SessionStats returns transcript and compaction statistics for a session.
func (s *Service) SessionStats(sessionID string) (*SessionStats, error) {
	sess, ok := s.store.Lookup(sessionID)
	if !ok {
		return nil, NewConvoErrorWithSession("SessionStats", sessionID, ErrSessionNotFound)
	}

	msgs, comp := sess.Snapshot()
	estimated := compaction.EstimateTokens(msgs)
	threshold := s.CompactionThreshold()

	var utilization float64
	if threshold > 0 {
		utilization = float64(estimated) / float64(threshold)
	}

	return &SessionStats{
		SessionID:       sessionID,
		MessageCount:    len(msgs),
		CompressedCount: comp.CompressedCount,
		Uncompressed:    len(msgs) - comp.CompressedCount,
		EstimatedTokens: estimated,
		HasSummary:      comp.HasSummary(),
		Utilization:     utilization,
	}, nil
}

// CompactNow runs a manual compaction for a session, holding its compaction
// lock for the duration. It reports ErrCompactionInProgress when another
// compaction holds the lock, and surfaces the engine's validation errors
// (nothing to compact, no new messages) directly.
func (s *Service) CompactNow(ctx context.Context, sessionID string) (*compaction.Record, error) {
	sess, ok := s.store.Lookup(sessionID)
	if !ok {
		return nil, NewConvoErrorWithSession("CompactNow", sessionID, ErrSessionNotFound)
	}

	if !s.locks.TryAcquire(sessionID) {
		return nil, NewConvoErrorWithSession("CompactNow", sessionID, ErrCompactionInProgress)
	}
	defer s.locks.Release(sessionID)

	if err := s.hooks.TriggerBeforeCompaction(ctx, sessionID); err != nil {
		s.logger.Warn("before-compaction hook failed", "session_id", sessionID, "error", err)
	}

	record, err := s.engine.Compact(ctx, sess)
	if err != nil {
		return nil, err
	}

	if err := s.hooks.TriggerAfterCompaction(ctx, record); err != nil {
		s.logger.Warn("after-compaction hook failed", "session_id", sessionID, "error", err)
	}

	s.persistSnapshot(ctx, sess)
	return record, nil
}

// resolveSession finds or creates the in-memory session, loading a persisted
// snapshot on first touch.
func (s *Service) resolveSession(ctx context.Context, sessionID string) *types.Session {
	if sess, ok := s.store.Lookup(sessionID); ok {
		return sess
	}

	if s.persist != nil {
		snap, err := s.persist.Load(ctx, sessionID)
		if err == nil {
			return s.store.Install(&types.Session{
				ID:         snap.SessionID,
				Messages:   snap.Messages,
				Compaction: snap.Compaction,
				CreatedAt:  snap.CreatedAt,
			})
		}
		if err != persistence.ErrNotFound {
			s.logger.Warn("failed to load persisted session",
				"session_id", sessionID, "error", err)
		}
	}

	return s.store.GetOrCreate(sessionID)
}

// persistSnapshot saves the transcript best-effort: a persistence failure is
// logged and never fails the caller.
func (s *Service) persistSnapshot(ctx context.Context, sess *types.Session) {
	if s.persist == nil {
		return
	}
	msgs, comp := sess.Snapshot()
	if err := s.persist.Save(ctx, sess.ID, msgs, comp); err != nil {
		s.logger.Warn("failed to persist session",
			"session_id", sess.ID, "error", err)
	}
}
