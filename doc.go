// Package convoflow is a conversational backend core: it keeps each
// conversation's transcript in memory with TTL eviction, proxies turns to a
// completion service with a bounded tool loop, compacts long transcripts by
// summarizing their prefix, and runs an optional proactive scheduler that
// drives a designated session without user input.
//
// The root package wires the subsystems together:
//
//   - session: the in-memory session store and background sweeper
//   - compaction: token estimation, summarization, and effective-context
//     construction
//   - exclusion: the per-session compaction lock and the single global
//     active-driver token
//   - streaming: ordered segment reconstruction from interleaved text and
//     tool lifecycle events
//   - scheduler: the proactive timer
//   - tool: tool registration and execution
//   - persistence: durable snapshots (in-memory and PostgreSQL)
//   - anthropic: the shipped completion-client adapter
//
// Minimal use:
//
//	svc, err := convoflow.New(convoflow.Config{
//	    Client:       client,
//	    SystemPrompt: "You are a helpful assistant",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Stop()
//
//	result, err := svc.RunTurn(ctx, "session-1", "hello", "")
package convoflow
