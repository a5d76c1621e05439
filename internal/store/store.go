package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
	log "github.com/sirupsen/logrus"
)

var ErrNotFound = errors.New("not found")

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store persists chat sessions and their messages.
// All reads and writes go through WithTx.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to databaseURL. postgres:// and postgresql:// URLs select PostgreSQL,
// anything else is treated as a SQLite data source name.
func Open(databaseURL string) (*Store, error) {
	d, driver := dialectSQLite, "sqlite3"
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		d, driver = dialectPostgres, "pgx"
	}

	db, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d == dialectSQLite {
		// One connection keeps :memory: databases shared and avoids SQLITE_BUSY on writes.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, dialect: d}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
    PRAGMA foreign_keys = ON;

    CREATE TABLE IF NOT EXISTS chat_sessions (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        manufacturer TEXT NOT NULL,
        model TEXT NOT NULL,
        year INTEGER NOT NULL,
        created_at DATETIME NOT NULL,
        text_size TEXT NOT NULL DEFAULT 'xxlarge'
    );
    CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions (user_id);

    CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant')),
        content TEXT NOT NULL,
        timestamp DATETIME NOT NULL,
        products TEXT, -- JSON list of recommended products
        FOREIGN KEY (session_id) REFERENCES chat_sessions (id) ON DELETE CASCADE
    );
    CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, timestamp);
    `
	if s.dialect == dialectPostgres {
		schema = `
    CREATE TABLE IF NOT EXISTS chat_sessions (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        manufacturer TEXT NOT NULL,
        model TEXT NOT NULL,
        year INTEGER NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        text_size TEXT NOT NULL DEFAULT 'xxlarge'
    );
    CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions (user_id);

    CREATE TABLE IF NOT EXISTS messages (
        id BIGSERIAL PRIMARY KEY,
        session_id TEXT NOT NULL REFERENCES chat_sessions (id) ON DELETE CASCADE,
        role TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant')),
        content TEXT NOT NULL,
        timestamp TIMESTAMPTZ NOT NULL,
        products TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, timestamp);
    `
	}
	_, err := s.db.Exec(schema)
	return err
}

// WithTx runs fn inside a transaction. The transaction commits when fn returns nil
// and rolls back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Warnf("Rollback failed: %v", rbErr)
			}
			return
		}
		if err = sqlTx.Commit(); err != nil {
			err = fmt.Errorf("failed to commit transaction: %w", err)
		}
	}()

	return fn(&Tx{tx: sqlTx, dialect: s.dialect})
}

// Tx exposes the store operations bound to one transaction.
type Tx struct {
	tx      *sql.Tx
	dialect dialect
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (t *Tx) rebind(query string) string {
	if t.dialect != dialectPostgres {
		return query
	}
	return sqlx.Rebind(sqlx.DOLLAR, query)
}

// Session methods

// CreateSession inserts sess, assigning its ID, creation time and default text size.
func (t *Tx) CreateSession(ctx context.Context, sess *ChatSession) error {
	sess.ID = uuid.NewString()
	sess.CreatedAt = time.Now().UTC()
	if sess.TextSize == "" {
		sess.TextSize = DefaultTextSize
	}

	_, err := t.tx.ExecContext(ctx,
		t.rebind("INSERT INTO chat_sessions (id, user_id, manufacturer, model, year, created_at, text_size) VALUES (?, ?, ?, ?, ?, ?, ?)"),
		sess.ID, sess.UserID, sess.Vehicle.Manufacturer, sess.Vehicle.Model, sess.Vehicle.Year, sess.CreatedAt, sess.TextSize)
	if err != nil {
		return fmt.Errorf("failed to insert chat session: %w", err)
	}
	return nil
}

// GetSession returns ErrNotFound when no session has the given id.
func (t *Tx) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	var sess ChatSession
	err := t.tx.QueryRowContext(ctx,
		t.rebind("SELECT id, user_id, manufacturer, model, year, created_at, text_size FROM chat_sessions WHERE id = ?"), id).
		Scan(&sess.ID, &sess.UserID, &sess.Vehicle.Manufacturer, &sess.Vehicle.Model, &sess.Vehicle.Year, &sess.CreatedAt, &sess.TextSize)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat session: %w", err)
	}
	return &sess, nil
}

// ListSessionsByUser returns the user's sessions, newest first.
func (t *Tx) ListSessionsByUser(ctx context.Context, userID string) ([]SessionSummary, error) {
	query := `
        SELECT s.id, s.user_id, s.manufacturer, s.model, s.year, s.created_at, s.text_size,
               COALESCE((SELECT m.content FROM messages m WHERE m.session_id = s.id
                         ORDER BY m.timestamp DESC, m.id DESC LIMIT 1), ''),
               (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
        FROM chat_sessions s
        WHERE s.user_id = ?
        ORDER BY s.created_at DESC
    `
	rows, err := t.tx.QueryContext(ctx, t.rebind(query), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.ID, &s.UserID, &s.Vehicle.Manufacturer, &s.Vehicle.Model, &s.Vehicle.Year,
			&s.CreatedAt, &s.TextSize, &s.LastMessage, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan chat session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (t *Tx) UpdateTextSize(ctx context.Context, id, size string) error {
	res, err := t.tx.ExecContext(ctx, t.rebind("UPDATE chat_sessions SET text_size = ? WHERE id = ?"), size, id)
	if err != nil {
		return fmt.Errorf("failed to update text size: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes the session and all of its messages.
func (t *Tx) DeleteSession(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, t.rebind("DELETE FROM messages WHERE session_id = ?"), id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, t.rebind("DELETE FROM chat_sessions WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete chat session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSessionsByUser removes every session of userID with their messages.
func (t *Tx) DeleteSessionsByUser(ctx context.Context, userID string) (int64, error) {
	_, err := t.tx.ExecContext(ctx,
		t.rebind("DELETE FROM messages WHERE session_id IN (SELECT id FROM chat_sessions WHERE user_id = ?)"), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, t.rebind("DELETE FROM chat_sessions WHERE user_id = ?"), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chat sessions: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// Message methods

// AppendMessage stores msg, assigning its ID and timestamp.
func (t *Tx) AppendMessage(ctx context.Context, msg *Message) error {
	msg.Timestamp = time.Now().UTC()

	err := t.tx.QueryRowContext(ctx,
		t.rebind("INSERT INTO messages (session_id, role, content, timestamp, products) VALUES (?, ?, ?, ?, ?) RETURNING id"),
		msg.SessionID, msg.Role, msg.Content, msg.Timestamp, msg.Products).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListMessages returns the session's messages in conversation order.
func (t *Tx) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := t.tx.QueryContext(ctx,
		t.rebind("SELECT id, session_id, role, content, timestamp, products FROM messages WHERE session_id = ? ORDER BY timestamp ASC, id ASC"),
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var products sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.Timestamp, &products); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if products.Valid {
			msg.Products = &products.String
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
