package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/convoflow/convoflow/internal/testutil"
	"github.com/convoflow/convoflow/types"
)

func setupPostgres(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()

	db := testutil.NewTestDB(t)
	t.Cleanup(db.Close)

	ctx := context.Background()
	store := NewPostgresStore(db.Pool)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("CleanTables: %v", err)
	}
	return store, ctx
}

func TestPostgres_SaveLoadRoundTrip(t *testing.T) {
	store, ctx := setupPostgres(t)

	messages := []*types.Message{
		types.NewUserMessage("what's the weather"),
		types.NewAssistantMessage("checking", []types.ToolCall{{
			ID:     "toolu_1",
			Name:   "weather",
			Input:  []byte(`{"city":"Warsaw"}`),
			Output: "sunny, 22C",
		}}),
	}
	meta := types.CompactionState{Summary: "weather chat", CompressedCount: 1}

	if err := store.Save(ctx, "s1", messages, meta); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(snap.Messages))
	}
	if snap.Messages[1].ToolCalls[0].Name != "weather" {
		t.Errorf("tool call lost: %+v", snap.Messages[1])
	}
	if snap.Compaction.Summary != "weather chat" || snap.Compaction.CompressedCount != 1 {
		t.Errorf("Compaction = %+v", snap.Compaction)
	}
}

func TestPostgres_SaveReplacesSnapshot(t *testing.T) {
	store, ctx := setupPostgres(t)

	if err := store.Save(ctx, "s1", []*types.Message{types.NewUserMessage("v1")}, types.CompactionState{}); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := store.Save(ctx, "s1", []*types.Message{
		types.NewUserMessage("v1"),
		types.NewAssistantMessage("v2", nil),
	}, types.CompactionState{}); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	snap, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Messages) != 2 {
		t.Errorf("len = %d, want 2", len(snap.Messages))
	}
}

func TestPostgres_LoadMissing(t *testing.T) {
	store, ctx := setupPostgres(t)

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load = %v, want ErrNotFound", err)
	}
}

func TestPostgres_DeleteAndList(t *testing.T) {
	store, ctx := setupPostgres(t)

	if err := store.Save(ctx, "s1", []*types.Message{types.NewUserMessage("x")}, types.CompactionState{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, "s2", nil, types.CompactionState{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	infos, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len = %d, want 2", len(infos))
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete = %v, want ErrNotFound", err)
	}
}
