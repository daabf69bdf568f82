package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// History is the durable record of every session command outcome, kept
// alongside the JSON status document so operators can see more than the most
// recent command.
type History struct {
	db *sql.DB
}

// HistoryEntry is one recorded command invocation.
type HistoryEntry struct {
	ID          string
	CmdType     UpdateCommand
	CmdStatus   CommandStatus
	ExitStatus  int
	Stderr      string
	StateBefore UpdateState
	StateAfter  UpdateState
	CreatedAt   time.Time
}

// NewHistory opens (and if needed creates) the history database.
func NewHistory(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// WAL lets status pollers read while a command writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	h := &History{db: db}
	if err := h.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return h, nil
}

func (h *History) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS commands (
		id TEXT PRIMARY KEY,
		cmd_type TEXT NOT NULL,
		cmd_status TEXT NOT NULL,
		exit_status INTEGER NOT NULL,
		stderr TEXT NOT NULL DEFAULT '',
		state_before TEXT NOT NULL,
		state_after TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_commands_created_at ON commands(created_at);
	`

	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record appends a command outcome.
func (h *History) Record(ctx context.Context, result *CommandResult, before, after UpdateState) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO commands (id, cmd_type, cmd_status, exit_status, stderr, state_before, state_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(), string(result.CmdType), string(result.CmdStatus),
		result.ExitStatus, result.Stderr, string(before), string(after), result.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, cmd_type, cmd_status, exit_status, stderr, state_before, state_after, created_at
		FROM commands ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var cmdType, cmdStatus, before, after string
		if err := rows.Scan(&e.ID, &cmdType, &cmdStatus, &e.ExitStatus, &e.Stderr,
			&before, &after, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.CmdType = UpdateCommand(cmdType)
		e.CmdStatus = CommandStatus(cmdStatus)
		e.StateBefore = UpdateState(before)
		e.StateAfter = UpdateState(after)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// Context keys for service injection
type contextKey string

const historyContextKey contextKey = "history"

// WithHistory adds the history store to context
func WithHistory(ctx context.Context, h *History) context.Context {
	return context.WithValue(ctx, historyContextKey, h)
}

// GetHistory retrieves the history store from context
func GetHistory(ctx context.Context) *History {
	if h, ok := ctx.Value(historyContextKey).(*History); ok {
		return h
	}
	return nil
}

// Logger context injection
const loggerContextKey contextKey = "logger"

// WithLogger adds logger to context
func WithLogger(ctx context.Context, logger logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// GetLogger retrieves logger from context
func GetLogger(ctx context.Context) logrus.FieldLogger {
	if logger, ok := ctx.Value(loggerContextKey).(logrus.FieldLogger); ok {
		return logger
	}
	return logrus.New()
}
