package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSweeper_StartStop(t *testing.T) {
	s := NewSweeper(NewStore(time.Hour), time.Hour, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("second Stop = %v, want ErrNotStarted", err)
	}
}
