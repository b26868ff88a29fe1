// Package store persists audit records, conversation history and the
// full-text document index in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/audit"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Config holds store configuration
type Config struct {
	DBPath string
	Logger zerolog.Logger
}

// Store is a SQLite-backed audit sink and conversation store
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	fts5   bool
}

// Counts is the number of rows per table
type Counts struct {
	Tools     int `json:"tools"`
	Workflows int `json:"workflows"`
	Routes    int `json:"routes"`
	Turns     int `json:"turns"`
}

// Open opens (and creates when missing) the database at cfg.DBPath
func Open(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger.With().Str("component", "store").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.initDocuments(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize document index: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tool_invocations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT,
			session_id TEXT NOT NULL,
			user_id TEXT,
			agent_id TEXT,
			tool TEXT NOT NULL,
			params TEXT,
			result TEXT NOT NULL,
			success INTEGER NOT NULL,
			error_kind TEXT,
			execution_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tools_created ON tool_invocations(created_at);
		CREATE INDEX IF NOT EXISTS idx_tools_session ON tool_invocations(session_id);

		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			trace_id TEXT,
			workflow_type TEXT NOT NULL,
			agent_steps TEXT NOT NULL,
			partial INTEGER NOT NULL,
			total_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_workflows_created ON workflows(created_at);

		CREATE TABLE IF NOT EXISTS routes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT,
			user_id TEXT,
			conversation_id TEXT,
			mode TEXT NOT NULL,
			workflow_type TEXT,
			agents TEXT,
			confidence REAL NOT NULL,
			classifier TEXT NOT NULL,
			reason TEXT,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_routes_created ON routes(created_at);

		CREATE TABLE IF NOT EXISTS conversation_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			user_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turns_conversation ON conversation_turns(conversation_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordTool implements audit.Sink. Write errors are logged, never returned.
func (s *Store) RecordTool(ctx context.Context, rec audit.ToolRecord) {
	params, _ := json.Marshal(rec.Params)
	_, err := s.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO tool_invocations
			(trace_id, session_id, user_id, agent_id, tool, params, result, success, error_kind, execution_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.SessionID, rec.UserID, rec.AgentID, rec.Tool, string(params), rec.Result,
		rec.Success, rec.ErrorKind, rec.ExecutionTime.Milliseconds(), timestamp(rec.Timestamp),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("tool", rec.Tool).Msg("Failed to store tool record")
	}
}

// RecordWorkflow implements audit.Sink
func (s *Store) RecordWorkflow(ctx context.Context, rec audit.WorkflowRecord) {
	steps, _ := json.Marshal(rec.AgentSteps)
	_, err := s.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT OR REPLACE INTO workflows
			(id, trace_id, workflow_type, agent_steps, partial, total_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.WorkflowID, rec.TraceID, rec.WorkflowType, string(steps), rec.Partial,
		rec.TotalTime.Milliseconds(), timestamp(rec.Timestamp),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("workflow_id", rec.WorkflowID).Msg("Failed to store workflow record")
	}
}

// RecordRoute implements audit.Sink
func (s *Store) RecordRoute(ctx context.Context, rec audit.RouteRecord) {
	agents, _ := json.Marshal(rec.Agents)
	_, err := s.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO routes
			(trace_id, user_id, conversation_id, mode, workflow_type, agents, confidence, classifier, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.UserID, rec.ConversationID, rec.Mode, rec.WorkflowType, string(agents),
		rec.Confidence, rec.Classifier, rec.Reason, timestamp(rec.Timestamp),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("mode", rec.Mode).Msg("Failed to store route record")
	}
}

// History returns the last limit turns of a conversation, oldest first
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]agent.Turn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM (
			SELECT id, role, content FROM conversation_turns
			WHERE conversation_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var turns []agent.Turn
	for rows.Next() {
		var t agent.Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AppendTurns stores turns of a conversation in one transaction
func (s *Store) AppendTurns(ctx context.Context, conversationID, userID string, turns ...agent.Turn) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for _, t := range turns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_turns (conversation_id, user_id, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)`, conversationID, userID, t.Role, t.Content, now); err != nil {
			return fmt.Errorf("failed to insert turn: %w", err)
		}
	}
	return tx.Commit()
}

// Cleanup deletes audit records and turns created before cutoff and returns
// the number of deleted rows
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"tool_invocations", "workflows", "routes", "conversation_turns"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < ?", cutoff.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("failed to clean %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	s.logger.Info().Int64("deleted", total).Time("cutoff", cutoff).Msg("Retention cleanup finished")
	return total, nil
}

// Counts returns row counts per table
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	for table, dst := range map[string]*int{
		"tool_invocations":   &c.Tools,
		"workflows":          &c.Workflows,
		"routes":             &c.Routes,
		"conversation_turns": &c.Turns,
	} {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(dst); err != nil {
			return Counts{}, fmt.Errorf("failed to count %s: %w", table, err)
		}
	}
	return c, nil
}

// Close closes the database
func (s *Store) Close() error {
	s.logger.Info().Msg("Closing store")
	return s.db.Close()
}

func timestamp(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}

var _ audit.Sink = (*Store)(nil)
