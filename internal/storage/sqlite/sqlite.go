package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"gephgui/internal/storage"
	"gephgui/internal/storage/models"
	pkgerrors "gephgui/pkg/errors"
)

// dbHandle is the common interface between *sql.DB and *sql.Tx.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Both the CLI and a long-running shell may open the file.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	storage := &DB{db: db}

	if err := runMigrations(storage); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) handle() dbHandle { return d.db }

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements the Transaction interface
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error    { return t.tx.Commit() }
func (t *Tx) Rollback() error  { return t.tx.Rollback() }
func (t *Tx) handle() dbHandle { return t.tx }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *Tx) Close() error { return nil }

// ─── Settings operations ────────────────────────────────────────────────────

func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, d.handle(), key)
}
func (t *Tx) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, t.handle(), key)
}

func getSetting(ctx context.Context, h dbHandle, key string) (string, error) {
	var value string
	err := h.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", pkgerrors.ErrSettingNotFound, key)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, d.handle(), key, value)
}
func (t *Tx) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, t.handle(), key, value)
}

func setSetting(ctx context.Context, h dbHandle, key, value string) error {
	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := h.ExecContext(ctx, query, key, value)
	return err
}

func (d *DB) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, d.handle())
}
func (t *Tx) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, t.handle())
}

func getAllSettings(ctx context.Context, h dbHandle) (map[string]string, error) {
	rows, err := h.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// ─── Session operations ─────────────────────────────────────────────────────

func (d *DB) StartSession(ctx context.Context, session *models.Session) error {
	return startSession(ctx, d.handle(), session)
}
func (t *Tx) StartSession(ctx context.Context, session *models.Session) error {
	return startSession(ctx, t.handle(), session)
}

func startSession(ctx context.Context, h dbHandle, session *models.Session) error {
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	query := `
		INSERT INTO daemon_sessions (id, started_at, vpn_mode, strategy)
		VALUES (?, ?, ?, ?)
	`
	_, err := h.ExecContext(ctx, query, session.ID, session.StartedAt.UTC(), session.VPNMode, session.Strategy)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	return nil
}

func (d *DB) EndSession(ctx context.Context, id, reason string) error {
	return endSession(ctx, d.handle(), id, reason)
}
func (t *Tx) EndSession(ctx context.Context, id, reason string) error {
	return endSession(ctx, t.handle(), id, reason)
}

func endSession(ctx context.Context, h dbHandle, id, reason string) error {
	query := `
		UPDATE daemon_sessions SET stopped_at = ?, exit_reason = ?
		WHERE id = ? AND stopped_at IS NULL
	`
	result, err := h.ExecContext(ctx, query, time.Now().UTC(), reason, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("session not found or already ended: %s", id)
	}
	return nil
}

const sessionColumns = `id, started_at, stopped_at, vpn_mode, strategy, exit_reason`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	session := &models.Session{}
	var stoppedAt sql.NullTime
	err := row.Scan(
		&session.ID, &session.StartedAt, &stoppedAt, &session.VPNMode,
		&session.Strategy, &session.ExitReason,
	)
	if err != nil {
		return nil, err
	}
	if stoppedAt.Valid {
		t := stoppedAt.Time
		session.StoppedAt = &t
	}
	return session, nil
}

func (d *DB) GetLastSession(ctx context.Context) (*models.Session, error) {
	return getLastSession(ctx, d.handle())
}
func (t *Tx) GetLastSession(ctx context.Context) (*models.Session, error) {
	return getLastSession(ctx, t.handle())
}

func getLastSession(ctx context.Context, h dbHandle) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM daemon_sessions ORDER BY started_at DESC LIMIT 1`
	session, err := scanSession(h.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (d *DB) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	return listSessions(ctx, d.handle(), limit)
}
func (t *Tx) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	return listSessions(ctx, t.handle(), limit)
}

func listSessions(ctx context.Context, h dbHandle, limit int) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM daemon_sessions ORDER BY started_at DESC LIMIT ?`
	rows, err := h.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// ─── Update history ─────────────────────────────────────────────────────────

func (d *DB) RecordUpdateEvent(ctx context.Context, event *models.UpdateEvent) error {
	return recordUpdateEvent(ctx, d.handle(), event)
}
func (t *Tx) RecordUpdateEvent(ctx context.Context, event *models.UpdateEvent) error {
	return recordUpdateEvent(ctx, t.handle(), event)
}

func recordUpdateEvent(ctx context.Context, h dbHandle, event *models.UpdateEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO update_events (result, version, message, created_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := h.ExecContext(ctx, query, event.Result, event.Version, event.Message, event.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record update event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

func (d *DB) GetUpdateHistory(ctx context.Context, limit int) ([]*models.UpdateEvent, error) {
	return getUpdateHistory(ctx, d.handle(), limit)
}
func (t *Tx) GetUpdateHistory(ctx context.Context, limit int) ([]*models.UpdateEvent, error) {
	return getUpdateHistory(ctx, t.handle(), limit)
}

func getUpdateHistory(ctx context.Context, h dbHandle, limit int) ([]*models.UpdateEvent, error) {
	query := `
		SELECT id, result, version, message, created_at
		FROM update_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := h.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.UpdateEvent
	for rows.Next() {
		event := &models.UpdateEvent{}
		if err := rows.Scan(&event.ID, &event.Result, &event.Version, &event.Message, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
