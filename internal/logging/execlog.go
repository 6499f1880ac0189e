package logging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownSource is returned when logging against a source that is not registered
var ErrUnknownSource = errors.New("unknown source")

// ExecutionEntry is one persisted execution log line
type ExecutionEntry struct {
	ID        int64     `json:"id"`
	SourceID  string    `json:"source_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionLog persists per-source log lines and mirrors them to zerolog
type ExecutionLog struct {
	db     *sql.DB
	known  func(sourceID string) bool
	logger zerolog.Logger
	now    func() time.Time
}

// NewExecutionLog creates an execution log; known reports whether a source id is registered
func NewExecutionLog(db *sql.DB, known func(string) bool, logger zerolog.Logger) *ExecutionLog {
	return &ExecutionLog{db: db, known: known, logger: logger, now: time.Now}
}

func (l *ExecutionLog) Info(ctx context.Context, sourceID, method, message string) error {
	return l.write(ctx, sourceID, zerolog.InfoLevel, method, message)
}

func (l *ExecutionLog) Warn(ctx context.Context, sourceID, method, message string) error {
	return l.write(ctx, sourceID, zerolog.WarnLevel, method, message)
}

func (l *ExecutionLog) Error(ctx context.Context, sourceID, method, message string) error {
	return l.write(ctx, sourceID, zerolog.ErrorLevel, method, message)
}

func (l *ExecutionLog) Debug(ctx context.Context, sourceID, method, message string) error {
	return l.write(ctx, sourceID, zerolog.DebugLevel, method, message)
}

func (l *ExecutionLog) write(ctx context.Context, sourceID string, level zerolog.Level, method, message string) error {
	if l.known != nil && !l.known(sourceID) {
		return fmt.Errorf("%w: %q", ErrUnknownSource, sourceID)
	}
	if method != "" && !strings.HasSuffix(method, ": ") {
		method += ": "
	}
	message = method + message

	l.logger.WithLevel(level).Str("source_id", sourceID).Msg(message)

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO execution_logs (source_id, level, message, timestamp) VALUES (?, ?, ?, ?)`,
		sourceID, strings.ToUpper(level.String()), message, l.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("persist execution log: %w", err)
	}
	return nil
}

// List returns the newest entries of a source, newest first
func (l *ExecutionLog) List(ctx context.Context, sourceID string, limit int) ([]ExecutionEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, source_id, level, message, timestamp FROM execution_logs
		 WHERE source_id = ? ORDER BY id DESC LIMIT ?`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query execution logs: %w", err)
	}
	defer rows.Close()

	var out []ExecutionEntry
	for rows.Next() {
		var e ExecutionEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.SourceID, &e.Level, &e.Message, &ts); err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Purge deletes every entry of a source
func (l *ExecutionLog) Purge(ctx context.Context, sourceID string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM execution_logs WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("purge execution logs: %w", err)
	}
	return nil
}
