package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/convoflow/convoflow/exclusion"
)

func enabledSettings(interval time.Duration) Settings {
	return Settings{Enabled: true, Interval: interval}
}

func TestTriggerManual_Disabled(t *testing.T) {
	s := New(exclusion.NewDriverToken(), func(context.Context) error { return nil },
		"proactive", Settings{Enabled: false}, nil)

	if err := s.TriggerManual(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("TriggerManual = %v, want ErrDisabled", err)
	}
}

func TestTriggerManual_RunsUnderToken(t *testing.T) {
	driver := exclusion.NewDriverToken()

	var sawHeld bool
	run := func(context.Context) error {
		held, holder := driver.Status()
		sawHeld = held && holder.Source == "manual" && holder.SessionID == "proactive"
		return nil
	}

	s := New(driver, run, "proactive", enabledSettings(time.Minute), nil)

	if err := s.TriggerManual(context.Background()); err != nil {
		t.Fatalf("TriggerManual: %v", err)
	}
	if !sawHeld {
		t.Error("run executed without holding the driver token")
	}
	if held, _ := driver.Status(); held {
		t.Error("token not released after the run")
	}
}

func TestTriggerManual_DriverBusy(t *testing.T) {
	driver := exclusion.NewDriverToken()
	token, _, _ := driver.TryAcquire("user", "proactive")
	defer driver.Release(token)

	s := New(driver, func(context.Context) error { return nil },
		"proactive", enabledSettings(time.Minute), nil)

	if err := s.TriggerManual(context.Background()); !errors.Is(err, ErrDriverBusy) {
		t.Errorf("TriggerManual = %v, want ErrDriverBusy", err)
	}
	if got := s.Status().LastTriggered; !got.IsZero() {
		t.Errorf("LastTriggered = %v on a skipped run, want zero", got)
	}
}

func TestTick_SkippedWhileTokenHeld(t *testing.T) {
	driver := exclusion.NewDriverToken()
	token, _, _ := driver.TryAcquire("user", "proactive")
	defer driver.Release(token)

	var ran atomic.Bool
	s := New(driver, func(context.Context) error { ran.Store(true); return nil },
		"proactive", enabledSettings(time.Minute), nil)

	s.tick(context.Background())

	if ran.Load() {
		t.Error("run executed while a user turn held the token")
	}
	if got := s.Status().LastTriggered; !got.IsZero() {
		t.Errorf("LastTriggered = %v on a skipped tick, want zero", got)
	}
}

func TestTick_RecordsLastTriggeredOnRunFailure(t *testing.T) {
	s := New(exclusion.NewDriverToken(),
		func(context.Context) error { return errors.New("turn failed") },
		"proactive", enabledSettings(time.Minute), nil)

	s.tick(context.Background())

	if s.Status().LastTriggered.IsZero() {
		t.Error("LastTriggered not recorded for a run that started and failed")
	}
}

func TestAttempt_RunInProgress(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	s := New(exclusion.NewDriverToken(), func(context.Context) error {
		close(started)
		<-release
		return nil
	}, "proactive", enabledSettings(time.Minute), nil)

	go s.TriggerManual(context.Background())
	<-started

	if err := s.TriggerManual(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("concurrent TriggerManual = %v, want ErrRunInProgress", err)
	}
	close(release)
}

func TestConfigure_RestartsOnlyOnChange(t *testing.T) {
	s := New(exclusion.NewDriverToken(), func(context.Context) error { return nil },
		"proactive", enabledSettings(time.Minute), nil)

	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop()

	s.mu.Lock()
	firstDone := s.done
	s.mu.Unlock()

	// Identical settings: the loop must not restart.
	s.Configure(ctx, enabledSettings(time.Minute))
	s.mu.Lock()
	sameDone := s.done
	s.mu.Unlock()
	if sameDone != firstDone {
		t.Error("Configure restarted the loop without a settings change")
	}

	// Interval change: the loop restarts.
	s.Configure(ctx, enabledSettings(2*time.Minute))
	s.mu.Lock()
	newDone := s.done
	s.mu.Unlock()
	if newDone == firstDone {
		t.Error("Configure did not restart the loop on an interval change")
	}

	if got := s.Status(); got.Interval != 2*time.Minute || !got.Enabled {
		t.Errorf("Status = %+v", got)
	}
}

func TestConfigure_RestartBindsToStartContext(t *testing.T) {
	s := New(exclusion.NewDriverToken(), func(context.Context) error { return nil },
		"proactive", enabledSettings(time.Minute), nil)

	s.Start(context.Background())
	defer s.Stop()

	// Reconfigure through a request-scoped context that ends immediately
	// after, the way an HTTP settings handler would.
	reqCtx, cancel := context.WithCancel(context.Background())
	s.Configure(reqCtx, enabledSettings(30*time.Second))
	cancel()

	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		t.Fatal("loop not running after reconfigure")
	}
	select {
	case <-done:
		t.Error("cancelling the reconfigure context stopped the loop")
	default:
	}
}

func TestConfigure_Disable(t *testing.T) {
	s := New(exclusion.NewDriverToken(), func(context.Context) error { return nil },
		"proactive", enabledSettings(time.Minute), nil)

	ctx := context.Background()
	s.Start(ctx)
	s.Configure(ctx, Settings{Enabled: false, Interval: time.Minute})

	s.mu.Lock()
	running := s.cancel != nil
	s.mu.Unlock()
	if running {
		t.Error("loop still running after disable")
	}
	if s.Status().Enabled {
		t.Error("Status still enabled")
	}
}

func TestStart_DisabledStaysStopped(t *testing.T) {
	s := New(exclusion.NewDriverToken(), func(context.Context) error { return nil },
		"proactive", Settings{Enabled: false, Interval: time.Minute}, nil)

	s.Start(context.Background())

	s.mu.Lock()
	running := s.cancel != nil
	s.mu.Unlock()
	if running {
		t.Error("disabled scheduler started its loop")
	}
}
