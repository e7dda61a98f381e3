package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/convoflow/convoflow/types"
)

func TestMemory_SaveLoadRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	messages := []*types.Message{
		types.NewUserMessage("hello"),
		types.NewAssistantMessage("hi there", nil),
	}
	meta := types.CompactionState{Summary: "greeting", CompressedCount: 1}

	if err := m.Save(ctx, "s1", messages, meta); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err := m.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.SessionID != "s1" {
		t.Errorf("SessionID = %q", snap.SessionID)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(snap.Messages))
	}
	if snap.Messages[0].Content != "hello" || snap.Messages[1].Content != "hi there" {
		t.Errorf("message content mangled: %+v", snap.Messages)
	}
	if snap.Compaction.Summary != "greeting" || snap.Compaction.CompressedCount != 1 {
		t.Errorf("Compaction = %+v", snap.Compaction)
	}
}

func TestMemory_SnapshotsAreIsolated(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	msg := types.NewUserMessage("original")
	if err := m.Save(ctx, "s1", []*types.Message{msg}, types.CompactionState{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	msg.Content = "mutated after save"

	snap, err := m.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Messages[0].Content != "original" {
		t.Errorf("snapshot shares memory with the live transcript")
	}
}

func TestMemory_LoadMissing(t *testing.T) {
	m := NewMemory()
	if _, err := m.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load = %v, want ErrNotFound", err)
	}
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Save(ctx, "s1", nil, types.CompactionState{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Load(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete = %v, want ErrNotFound", err)
	}
}

func TestMemory_List(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Save(ctx, "a", []*types.Message{types.NewUserMessage("x")}, types.CompactionState{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Save(ctx, "b", nil, types.CompactionState{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	infos, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len = %d, want 2", len(infos))
	}

	counts := map[string]int{}
	for _, info := range infos {
		counts[info.ID] = info.MessageCount
	}
	if counts["a"] != 1 || counts["b"] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestMemory_ResaveKeepsCreatedAt(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Save(ctx, "s1", nil, types.CompactionState{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, err := m.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := m.Save(ctx, "s1", []*types.Message{types.NewUserMessage("later")}, types.CompactionState{}); err != nil {
		t.Fatalf("re-Save: %v", err)
	}
	second, err := m.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed across re-saves: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
}
