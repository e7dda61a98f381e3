package convoflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/convoflow/convoflow/compaction"
	"github.com/convoflow/convoflow/persistence"
	"github.com/convoflow/convoflow/streaming"
	"github.com/convoflow/convoflow/tool"
	"github.com/convoflow/convoflow/types"
)

// scriptClient replays a fixed sequence of completions. Summarization
// requests from the compaction engine are answered separately so they do
// not consume scripted turns.
type scriptClient struct {
	mu            sync.Mutex
	script        []*types.Completion
	err           error
	calls         int
	summaries     int
	summaryText   string
	failSummaries bool
}

func (c *scriptClient) Complete(ctx context.Context, messages []*types.Message, tools []tool.Definition) (*types.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(messages) > 0 && messages[0].Role == types.RoleSystem &&
		messages[0].Content == compaction.SummarizationSystemPrompt {
		c.summaries++
		if c.failSummaries {
			return nil, errors.New("summarizer unavailable")
		}
		text := c.summaryText
		if text == "" {
			text = "conversation summary"
		}
		return &types.Completion{Text: text}, nil
	}

	if c.err != nil {
		return nil, c.err
	}
	if c.calls >= len(c.script) {
		return &types.Completion{Text: "done"}, nil
	}
	comp := c.script[c.calls]
	c.calls++
	return comp, nil
}

func textCompletion(text string, usage types.Usage) *types.Completion {
	return &types.Completion{Text: text, StopReason: "end_turn", Usage: usage}
}

func toolCompletion(name string, input string) *types.Completion {
	return &types.Completion{
		StopReason: "tool_use",
		ToolRequests: []types.ToolRequest{{
			ID:    "toolu_1",
			Name:  name,
			Input: json.RawMessage(input),
		}},
	}
}

func echoTool() tool.Tool {
	return tool.NewFunc("echo", "echoes input text",
		tool.Schema{Type: "object", Properties: map[string]tool.Property{
			"text": {Type: "string"},
		}},
		func(ctx context.Context, input json.RawMessage) (string, error) {
			var args struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return "", err
			}
			return args.Text, nil
		})
}

func newTestService(t *testing.T, client CompletionClient, opts ...Option) *Service {
	t.Helper()
	svc, err := New(Config{Client: client, SystemPrompt: "be helpful"}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{SystemPrompt: "hi"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("missing client = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(Config{Client: &scriptClient{}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("missing system prompt = %v, want ErrInvalidConfig", err)
	}
}

func TestRunTurn_Basic(t *testing.T) {
	client := &scriptClient{script: []*types.Completion{
		textCompletion("hi there", types.Usage{PromptTokens: 10, CompletionTokens: 5}),
	}}
	svc := newTestService(t, client)

	result, err := svc.RunTurn(context.Background(), "s1", "hello", "")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if result.Text != "hi there" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.Rounds != 1 {
		t.Errorf("Rounds = %d, want 1", result.Rounds)
	}
	if result.Usage.Total() != 15 {
		t.Errorf("Usage.Total = %d, want 15", result.Usage.Total())
	}

	sess, ok := svc.store.Lookup("s1")
	if !ok {
		t.Fatal("session not created")
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(sess.Messages))
	}
	if sess.Messages[0].Role != types.RoleUser || sess.Messages[1].Role != types.RoleAssistant {
		t.Errorf("transcript roles: %q, %q", sess.Messages[0].Role, sess.Messages[1].Role)
	}
}

func TestRunTurn_EmptyMessage(t *testing.T) {
	svc := newTestService(t, &scriptClient{})

	_, err := svc.RunTurn(context.Background(), "s1", "   ", "")
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("RunTurn = %v, want ErrEmptyMessage", err)
	}
	if _, ok := svc.store.Lookup("s1"); ok {
		t.Error("validation failure created a session")
	}
}

func TestRunTurn_ToolLoop(t *testing.T) {
	client := &scriptClient{script: []*types.Completion{
		toolCompletion("echo", `{"text":"ping"}`),
		textCompletion("the tool said ping", types.Usage{PromptTokens: 20, CompletionTokens: 10}),
	}}
	svc := newTestService(t, client, WithTools(echoTool()))

	result, err := svc.RunTurn(context.Background(), "s1", "run the tool", "")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if result.Rounds != 2 {
		t.Errorf("Rounds = %d, want 2", result.Rounds)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(result.ToolCalls))
	}
	if result.ToolCalls[0].Output != "ping" || result.ToolCalls[0].IsError {
		t.Errorf("tool call = %+v", result.ToolCalls[0])
	}

	sess, _ := svc.store.Lookup("s1")
	// user, assistant(tool_use), tool results, final assistant
	if len(sess.Messages) != 4 {
		t.Fatalf("transcript length = %d, want 4", len(sess.Messages))
	}
	if sess.Messages[2].Role != types.RoleTool {
		t.Errorf("message 2 role = %q, want tool", sess.Messages[2].Role)
	}
}

func TestRunTurn_ToolFailureBecomesResult(t *testing.T) {
	failing := tool.NewFunc("broken", "always fails", tool.Schema{Type: "object"},
		func(ctx context.Context, input json.RawMessage) (string, error) {
			return "", fmt.Errorf("no such host")
		})
	client := &scriptClient{script: []*types.Completion{
		toolCompletion("broken", `{}`),
		textCompletion("the tool failed", types.Usage{}),
	}}
	svc := newTestService(t, client, WithTools(failing))

	result, err := svc.RunTurn(context.Background(), "s1", "try it", "")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(result.ToolCalls) != 1 || !result.ToolCalls[0].IsError {
		t.Errorf("tool calls = %+v, want one error-flagged call", result.ToolCalls)
	}
}

func TestRunTurn_TooManyToolRounds(t *testing.T) {
	client := &scriptClient{script: []*types.Completion{
		toolCompletion("echo", `{"text":"a"}`),
		toolCompletion("echo", `{"text":"b"}`),
		toolCompletion("echo", `{"text":"c"}`),
	}}
	svc := newTestService(t, client, WithTools(echoTool()), WithMaxToolRounds(2))

	_, err := svc.RunTurn(context.Background(), "s1", "loop forever", "")
	if !errors.Is(err, ErrTooManyToolRounds) {
		t.Fatalf("RunTurn = %v, want ErrTooManyToolRounds", err)
	}
}

func TestRunTurn_CompletionFailure(t *testing.T) {
	client := &scriptClient{err: errors.New("api down")}
	svc := newTestService(t, client)

	_, err := svc.RunTurn(context.Background(), "s1", "hello", "")
	if err == nil {
		t.Fatal("expected an error")
	}

	var ce *ConvoError
	if !errors.As(err, &ce) {
		t.Fatalf("error type %T, want *ConvoError", err)
	}
	if ce.SessionID != "s1" {
		t.Errorf("SessionID = %q", ce.SessionID)
	}

	// The user message stays in the transcript; the turn just failed.
	sess, _ := svc.store.Lookup("s1")
	if len(sess.Messages) != 1 {
		t.Errorf("transcript length = %d, want 1", len(sess.Messages))
	}
}

func TestRunTurn_CompactionTriggered(t *testing.T) {
	client := &scriptClient{script: []*types.Completion{
		textCompletion("reply", types.Usage{PromptTokens: 900, CompletionTokens: 200}),
	}}
	svc := newTestService(t, client,
		WithCompactionThreshold(1000),
		WithKeepRecent(2),
	)

	// Seed enough history for a compactable prefix.
	sess := svc.store.GetOrCreate("s1")
	for i := 0; i < 6; i++ {
		sess.Append(types.NewUserMessage(fmt.Sprintf("earlier %d", i)))
	}

	result, err := svc.RunTurn(context.Background(), "s1", "trigger it", "")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !result.Compacted {
		t.Fatal("turn did not compact")
	}
	if sess.Compaction.CompressedCount == 0 {
		t.Error("CompressedCount still zero after compaction")
	}
	if client.summaries != 1 {
		t.Errorf("summarization calls = %d, want 1", client.summaries)
	}
}

func TestRunTurn_CompactionFailureDoesNotFailTurn(t *testing.T) {
	client := &scriptClient{
		failSummaries: true,
		script: []*types.Completion{
			textCompletion("reply", types.Usage{PromptTokens: 2000, CompletionTokens: 100}),
		},
	}
	svc := newTestService(t, client, WithCompactionThreshold(1000), WithKeepRecent(2))

	sess := svc.store.GetOrCreate("s1")
	for i := 0; i < 6; i++ {
		sess.Append(types.NewUserMessage(fmt.Sprintf("earlier %d", i)))
	}

	result, err := svc.RunTurn(context.Background(), "s1", "hello", "")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Compacted {
		t.Error("Compacted = true despite summarization failure")
	}
	if sess.Compaction.HasSummary() {
		t.Error("summary set despite failure")
	}
}

// failingStore always fails Save to prove persistence problems are absorbed.
type failingStore struct{}

func (failingStore) Save(ctx context.Context, sessionID string, messages []*types.Message, meta types.CompactionState) error {
	return errors.New("disk full")
}
func (failingStore) Load(ctx context.Context, sessionID string) (*persistence.Snapshot, error) {
	return nil, persistence.ErrNotFound
}
func (failingStore) Delete(ctx context.Context, sessionID string) error { return nil }
func (failingStore) List(ctx context.Context) ([]persistence.SessionInfo, error) {
	return nil, nil
}

func TestRunTurn_PersistenceFailureDoesNotFailTurn(t *testing.T) {
	client := &scriptClient{script: []*types.Completion{
		textCompletion("still fine", types.Usage{}),
	}}
	svc := newTestService(t, client, WithPersistence(failingStore{}))

	result, err := svc.RunTurn(context.Background(), "s1", "hello", "")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Text != "still fine" {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestRunTurn_PersistedSessionLoadedLazily(t *testing.T) {
	store := persistence.NewMemory()
	prior := []*types.Message{
		types.NewUserMessage("from last week"),
		types.NewAssistantMessage("welcome back", nil),
	}
	if err := store.Save(context.Background(), "s1", prior, types.CompactionState{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	client := &scriptClient{script: []*types.Completion{
		textCompletion("resumed", types.Usage{}),
	}}
	svc := newTestService(t, client, WithPersistence(store))

	if _, err := svc.RunTurn(context.Background(), "s1", "I'm back", ""); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	sess, _ := svc.store.Lookup("s1")
	// two restored + new user + assistant
	if len(sess.Messages) != 4 {
		t.Errorf("transcript length = %d, want 4", len(sess.Messages))
	}
	if sess.Messages[0].Content != "from last week" {
		t.Errorf("restored history missing: %+v", sess.Messages[0])
	}
}

func TestRunTurnStreaming_Events(t *testing.T) {
	client := &scriptClient{script: []*types.Completion{
		textCompletion("streamed reply", types.Usage{}),
	}}
	svc := newTestService(t, client)

	var events []streaming.Event
	result, err := svc.RunTurnStreaming(context.Background(), "s1", "hello", "", func(ev streaming.Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("RunTurnStreaming: %v", err)
	}

	if len(events) < 2 {
		t.Fatalf("events = %d, want at least text and done", len(events))
	}
	done, ok := events[len(events)-1].(streaming.DoneEvent)
	if !ok {
		t.Fatalf("last event %T, want DoneEvent", events[len(events)-1])
	}
	if done.Text != "streamed reply" {
		t.Errorf("done text = %q", done.Text)
	}

	if len(result.Message.Segments) == 0 {
		t.Error("final message has no reconstructed segments")
	}
}

func TestCompactNow(t *testing.T) {
	client := &scriptClient{}
	svc := newTestService(t, client, WithKeepRecent(2))

	t.Run("missing session", func(t *testing.T) {
		_, err := svc.CompactNow(context.Background(), "nope")
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("CompactNow = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("success", func(t *testing.T) {
		sess := svc.store.GetOrCreate("s1")
		for i := 0; i < 7; i++ {
			sess.Append(types.NewUserMessage(fmt.Sprintf("m%d", i)))
		}

		record, err := svc.CompactNow(context.Background(), "s1")
		if err != nil {
			t.Fatalf("CompactNow: %v", err)
		}
		if record.CompressedCount != 5 {
			t.Errorf("CompressedCount = %d, want 5", record.CompressedCount)
		}
	})

	t.Run("no new messages", func(t *testing.T) {
		_, err := svc.CompactNow(context.Background(), "s1")
		if !errors.Is(err, compaction.ErrNoNewMessages) {
			t.Errorf("CompactNow = %v, want ErrNoNewMessages", err)
		}
	})

	t.Run("lock held", func(t *testing.T) {
		if !svc.locks.TryAcquire("s1") {
			t.Fatal("setup: could not take the lock")
		}
		defer svc.locks.Release("s1")

		_, err := svc.CompactNow(context.Background(), "s1")
		if !errors.Is(err, ErrCompactionInProgress) {
			t.Errorf("CompactNow = %v, want ErrCompactionInProgress", err)
		}
	})
}

func TestCompactNow_ConcurrentSingleSummarization(t *testing.T) {
	client := &scriptClient{}
	svc := newTestService(t, client, WithKeepRecent(2))

	sess := svc.store.GetOrCreate("s1")
	for i := 0; i < 10; i++ {
		sess.Append(types.NewUserMessage(fmt.Sprintf("m%d", i)))
	}

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CompactNow(context.Background(), "s1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrCompactionInProgress) && !errors.Is(err, compaction.ErrNoNewMessages) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("successful compactions = %d, want 1", succeeded)
	}
	if client.summaries != 1 {
		t.Errorf("summarization calls = %d, want 1", client.summaries)
	}
}

func TestRunTurn_ConcurrentWithCompactNow(t *testing.T) {
	client := &scriptClient{}
	svc := newTestService(t, client, WithKeepRecent(2))

	// Establish the session before the contention starts.
	if _, err := svc.RunTurn(context.Background(), "s1", "warmup", ""); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	const pairs = 20
	var wg sync.WaitGroup
	for i := 0; i < pairs; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.RunTurn(context.Background(), "s1", fmt.Sprintf("turn %d", i), ""); err != nil {
				t.Errorf("RunTurn: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			_, err := svc.CompactNow(context.Background(), "s1")
			if err != nil && !errors.Is(err, ErrCompactionInProgress) &&
				!errors.Is(err, compaction.ErrNothingToCompact) &&
				!errors.Is(err, compaction.ErrNoNewMessages) {
				t.Errorf("CompactNow: %v", err)
			}
		}()
	}
	wg.Wait()

	sess, ok := svc.store.Lookup("s1")
	if !ok {
		t.Fatal("session missing")
	}
	msgs, comp := sess.Snapshot()
	if want := 2 + 2*pairs; len(msgs) != want {
		t.Errorf("transcript length = %d, want %d", len(msgs), want)
	}
	if comp.CompressedCount > len(msgs) {
		t.Errorf("CompressedCount %d exceeds transcript length %d",
			comp.CompressedCount, len(msgs))
	}
	for i := 0; i < comp.CompressedCount; i++ {
		if !msgs[i].Compressed {
			t.Errorf("message %d inside compacted prefix not marked compressed", i)
		}
	}
}

func TestRunTurn_ProactiveSessionRequiresToken(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	client := &blockingClient{started: started, release: release}
	svc := newTestService(t, client, WithProactiveSessionID("p"))

	turnDone := make(chan struct{})
	go func() {
		defer close(turnDone)
		_, _ = svc.RunTurn(context.Background(), "p", "first", "")
	}()
	<-started

	_, err := svc.RunTurn(context.Background(), "p", "second", "")
	if !errors.Is(err, ErrDriverBusy) {
		t.Errorf("concurrent proactive turn = %v, want ErrDriverBusy", err)
	}

	// Ordinary sessions are unaffected by the driver token.
	if _, err := svc.RunTurn(context.Background(), "other", "hello", ""); err != nil {
		t.Errorf("unrelated session turn failed: %v", err)
	}

	close(release)
	<-turnDone

	if held, _ := svc.DriverStatus(); held {
		t.Error("driver token not released after the turn")
	}
}

// blockingClient signals when its first completion starts and blocks that
// call until released; later calls return immediately.
type blockingClient struct {
	started chan struct{}
	release chan struct{}
	first   atomic.Bool
}

func (c *blockingClient) Complete(ctx context.Context, messages []*types.Message, tools []tool.Definition) (*types.Completion, error) {
	if c.first.CompareAndSwap(false, true) {
		close(c.started)
		<-c.release
	}
	return &types.Completion{Text: "ok"}, nil
}

func TestDeleteSession(t *testing.T) {
	store := persistence.NewMemory()
	client := &scriptClient{script: []*types.Completion{textCompletion("hi", types.Usage{})}}
	svc := newTestService(t, client, WithPersistence(store))

	if _, err := svc.RunTurn(context.Background(), "s1", "hello", ""); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	svc.locks.TryAcquire("s1")

	svc.DeleteSession(context.Background(), "s1")

	if _, ok := svc.store.Lookup("s1"); ok {
		t.Error("session survived deletion")
	}
	if svc.locks.Held("s1") {
		t.Error("compaction lock survived deletion")
	}
	if _, err := store.Load(context.Background(), "s1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("persisted snapshot survived deletion: %v", err)
	}
}

func TestSessionStats(t *testing.T) {
	client := &scriptClient{}
	svc := newTestService(t, client, WithKeepRecent(2))

	if _, err := svc.SessionStats("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SessionStats = %v, want ErrSessionNotFound", err)
	}

	sess := svc.store.GetOrCreate("s1")
	for i := 0; i < 7; i++ {
		sess.Append(types.NewUserMessage(fmt.Sprintf("m%d", i)))
	}
	if _, err := svc.CompactNow(context.Background(), "s1"); err != nil {
		t.Fatalf("CompactNow: %v", err)
	}

	stats, err := svc.SessionStats("s1")
	if err != nil {
		t.Fatalf("SessionStats: %v", err)
	}
	if stats.MessageCount != 7 || stats.CompressedCount != 5 || stats.Uncompressed != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if !stats.HasSummary {
		t.Error("HasSummary = false after compaction")
	}
}

func TestRuntimeSetters(t *testing.T) {
	svc := newTestService(t, &scriptClient{})

	if err := svc.SetCompactionThreshold(0); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("SetCompactionThreshold(0) = %v, want ErrInvalidConfig", err)
	}
	if err := svc.SetCompactionThreshold(5000); err != nil {
		t.Fatalf("SetCompactionThreshold: %v", err)
	}
	if got := svc.CompactionThreshold(); got != 5000 {
		t.Errorf("CompactionThreshold = %d, want 5000", got)
	}

	if err := svc.SetKeepRecent(-1); err == nil {
		t.Error("SetKeepRecent(-1) succeeded")
	}
	if err := svc.SetKeepRecent(4); err != nil {
		t.Fatalf("SetKeepRecent: %v", err)
	}
	if got := svc.KeepRecent(); got != 4 {
		t.Errorf("KeepRecent = %d, want 4", got)
	}
}

func TestStartStop(t *testing.T) {
	svc := newTestService(t, &scriptClient{})

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Start(ctx); !errors.Is(err, ErrServiceAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrServiceAlreadyStarted", err)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.Stop(); !errors.Is(err, ErrServiceNotStarted) {
		t.Errorf("second Stop = %v, want ErrServiceNotStarted", err)
	}
}
