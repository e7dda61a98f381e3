package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convoflow/convoflow/streaming"
	"github.com/convoflow/convoflow/types"
)

// Schema is the DDL for the Postgres store. Run it once per database, via
// Migrate or an external migration tool.
const Schema = `
CREATE TABLE IF NOT EXISTS convoflow_sessions (
	id               TEXT PRIMARY KEY,
	summary          TEXT NOT NULL DEFAULT '',
	compressed_at    TIMESTAMPTZ,
	compressed_count INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS convoflow_messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES convoflow_sessions(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	tool_calls JSONB,
	segments   JSONB,
	compressed BOOLEAN NOT NULL DEFAULT false,
	usage      JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_convoflow_messages_session
	ON convoflow_messages(session_id, seq);
`

// PostgresStore implements Store using PostgreSQL with pgx. Each Save
// rewrites the session's snapshot inside one transaction, so readers never
// observe a partially written transcript.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Save upserts the session row and replaces its messages atomically.
func (s *PostgresStore) Save(ctx context.Context, sessionID string, messages []*types.Message, meta types.CompactionState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var compressedAt *time.Time
	if !meta.CompressedAt.IsZero() {
		compressedAt = &meta.CompressedAt
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO convoflow_sessions (id, summary, compressed_at, compressed_count, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			summary = EXCLUDED.summary,
			compressed_at = EXCLUDED.compressed_at,
			compressed_count = EXCLUDED.compressed_count,
			updated_at = now()`,
		sessionID, meta.Summary, compressedAt, meta.CompressedCount)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM convoflow_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	batch := &pgx.Batch{}
	for seq, msg := range messages {
		toolCalls, err := marshalNullable(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		segments, err := marshalNullable(msg.Segments)
		if err != nil {
			return fmt.Errorf("encode segments: %w", err)
		}
		usage, err := marshalNullable(msg.Usage)
		if err != nil {
			return fmt.Errorf("encode usage: %w", err)
		}

		batch.Queue(`
			INSERT INTO convoflow_messages
				(id, session_id, seq, role, content, tool_calls, segments, compressed, usage, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			msg.ID, sessionID, seq, string(msg.Role), msg.Content,
			toolCalls, segments, msg.Compressed, usage, msg.CreatedAt)
	}

	if batch.Len() > 0 {
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert message: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("flush batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load returns the stored snapshot or ErrNotFound.
func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	snap := &Snapshot{SessionID: sessionID}

	var compressedAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT summary, compressed_at, compressed_count, created_at
		FROM convoflow_sessions WHERE id = $1`, sessionID).
		Scan(&snap.Compaction.Summary, &compressedAt, &snap.Compaction.CompressedCount, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if compressedAt != nil {
		snap.Compaction.CompressedAt = *compressedAt
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, tool_calls, segments, compressed, usage, created_at
		FROM convoflow_messages WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg       types.Message
			role      string
			toolCalls []byte
			segments  []byte
			usage     []byte
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &toolCalls, &segments, &msg.Compressed, &usage, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = types.Role(role)
		if err := unmarshalNullable(toolCalls, &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
		var segs []streaming.Segment
		if err := unmarshalNullable(segments, &segs); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
		msg.Segments = segs
		if len(usage) > 0 {
			msg.Usage = &types.Usage{}
			if err := json.Unmarshal(usage, msg.Usage); err != nil {
				return nil, fmt.Errorf("decode usage: %w", err)
			}
		}
		snap.Messages = append(snap.Messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return snap, nil
}

// Delete removes the session and its messages.
func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM convoflow_sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns summary rows for all persisted sessions, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.created_at, count(m.id)
		FROM convoflow_sessions s
		LEFT JOIN convoflow_messages m ON m.session_id = s.id
		GROUP BY s.id, s.created_at
		ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var infos []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.CreatedAt, &info.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session info: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return infos, nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case []types.ToolCall:
		if len(t) == 0 {
			return nil, nil
		}
	case []streaming.Segment:
		if len(t) == 0 {
			return nil, nil
		}
	case *types.Usage:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func unmarshalNullable(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
