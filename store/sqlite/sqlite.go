// Package sqlite persists dialogue transcripts using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	hashiru "github.com/kunpai/AcadHASHIRU"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store persists sessions and their messages in a local SQLite file.
// Message payloads are stored as JSON text so the full Message shape,
// including function calls and tool responses, survives a round trip.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Session is one stored conversation.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// CreateSession inserts a new session.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	start := time.Now()
	s.logger.Debug("sqlite: create session", "id", sess.ID, "title", sess.Title)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: create session failed", "id", sess.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("create session: %w", err)
	}
	s.logger.Debug("sqlite: create session ok", "id", sess.ID, "duration", time.Since(start))
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get session", "id", id)

	var sess Session
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &title, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		s.logger.Error("sqlite: get session failed", "id", id, "error", err, "duration", time.Since(start))
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	if title.Valid {
		sess.Title = title.String
	}
	s.logger.Debug("sqlite: get session ok", "id", id, "duration", time.Since(start))
	return sess, nil
}

// ListSessions returns sessions ordered by most recently updated first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	start := time.Now()
	s.logger.Debug("sqlite: list sessions", "limit", limit)

	query := `SELECT id, title, created_at, updated_at FROM sessions ORDER BY updated_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: list sessions failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var title sql.NullString
		if err := rows.Scan(&sess.ID, &title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if title.Valid {
			sess.Title = title.String
		}
		sessions = append(sessions, sess)
	}
	s.logger.Debug("sqlite: list sessions ok", "count", len(sessions), "duration", time.Since(start))
	return sessions, rows.Err()
}

// RenameSession updates a session's title and bumps updated_at.
func (s *Store) RenameSession(ctx context.Context, id, title string) error {
	start := time.Now()
	s.logger.Debug("sqlite: rename session", "id", id, "title", title)

	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title=?, updated_at=? WHERE id=?`,
		title, hashiru.NowUnix(), id,
	)
	if err != nil {
		s.logger.Error("sqlite: rename session failed", "id", id, "error", err, "duration", time.Since(start))
		return fmt.Errorf("rename session: %w", err)
	}
	s.logger.Debug("sqlite: rename session ok", "id", id, "duration", time.Since(start))
	return nil
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete session", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		s.logger.Error("sqlite: delete session messages failed", "id", id, "error", err)
		return fmt.Errorf("delete session messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		s.logger.Error("sqlite: delete session failed", "id", id, "error", err)
		return fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: delete session commit failed", "id", id, "error", err)
		return err
	}
	s.logger.Debug("sqlite: delete session ok", "id", id, "duration", time.Since(start))
	return nil
}

// AppendMessages appends messages to a session in a single transaction,
// continuing the session's sequence numbering and bumping updated_at.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs []hashiru.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: append messages", "session_id", sessionID, "count", len(msgs))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	now := hashiru.NowUnix()
	for _, m := range msgs {
		seq++
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, seq, role, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			hashiru.NewID(), sessionID, seq, string(m.Role), string(payload), now,
		)
		if err != nil {
			s.logger.Error("sqlite: append message failed", "session_id", sessionID, "seq", seq, "error", err)
			return fmt.Errorf("append message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at=? WHERE id=?`, now, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: append messages commit failed", "session_id", sessionID, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: append messages ok", "session_id", sessionID, "count", len(msgs), "duration", time.Since(start))
	return nil
}

// ReplaceMessages atomically rewrites a session's transcript. Used after a
// turn completes so the stored conversation matches the orchestrator's
// committed history exactly.
func (s *Store) ReplaceMessages(ctx context.Context, sessionID string, msgs []hashiru.Message) error {
	start := time.Now()
	s.logger.Debug("sqlite: replace messages", "session_id", sessionID, "count", len(msgs))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	now := hashiru.NowUnix()
	for i, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, seq, role, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			hashiru.NewID(), sessionID, i, string(m.Role), string(payload), now,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at=? WHERE id=?`, now, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: replace messages commit failed", "session_id", sessionID, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: replace messages ok", "session_id", sessionID, "count", len(msgs), "duration", time.Since(start))
	return nil
}

// GetMessages returns a session's messages in sequence order.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]hashiru.Message, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get messages", "session_id", sessionID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM messages WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		s.logger.Error("sqlite: get messages failed", "session_id", sessionID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []hashiru.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var m hashiru.Message
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	s.logger.Debug("sqlite: get messages ok", "session_id", sessionID, "count", len(messages), "duration", time.Since(start))
	return messages, nil
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get config", "key", key)

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		s.logger.Debug("sqlite: get config not found", "key", key, "duration", time.Since(start))
		return "", nil
	}
	if err != nil {
		s.logger.Error("sqlite: get config failed", "key", key, "error", err, "duration", time.Since(start))
		return "", fmt.Errorf("get config: %w", err)
	}
	s.logger.Debug("sqlite: get config ok", "key", key, "duration", time.Since(start))
	return value, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	start := time.Now()
	s.logger.Debug("sqlite: set config", "key", key)

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`,
		key, value,
	)
	if err != nil {
		s.logger.Error("sqlite: set config failed", "key", key, "error", err, "duration", time.Since(start))
		return fmt.Errorf("set config: %w", err)
	}
	s.logger.Debug("sqlite: set config ok", "key", key, "duration", time.Since(start))
	return nil
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}
