package storage

import (
	"context"

	"gephgui/internal/storage/models"
)

// Setting keys.
const (
	SettingLastDaemonArgs = "last_daemon_args"
	SettingLastUpdateTick = "last_update_tick"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetAllSettings(ctx context.Context) (map[string]string, error)

	// Session operations
	StartSession(ctx context.Context, session *models.Session) error
	EndSession(ctx context.Context, id, reason string) error
	GetLastSession(ctx context.Context) (*models.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*models.Session, error)

	// Update history
	RecordUpdateEvent(ctx context.Context, event *models.UpdateEvent) error
	GetUpdateHistory(ctx context.Context, limit int) ([]*models.UpdateEvent, error)

	// Transactions
	BeginTx(ctx context.Context) (Transaction, error)

	// Close closes the storage connection
	Close() error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}
