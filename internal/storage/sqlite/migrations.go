package sqlite

const schema = `
-- Application settings
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Supervised daemon runs
CREATE TABLE IF NOT EXISTS daemon_sessions (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    stopped_at TIMESTAMP,
    vpn_mode BOOLEAN NOT NULL DEFAULT 0,
    strategy TEXT NOT NULL,
    exit_reason TEXT NOT NULL DEFAULT ''
);

-- Autoupdate check and prompt outcomes
CREATE TABLE IF NOT EXISTS update_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    result TEXT NOT NULL,
    version TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_daemon_sessions_started_at ON daemon_sessions(started_at);
CREATE INDEX IF NOT EXISTS idx_update_events_created_at ON update_events(created_at);

CREATE TRIGGER IF NOT EXISTS update_settings_timestamp AFTER UPDATE ON settings
BEGIN
    UPDATE settings SET updated_at = CURRENT_TIMESTAMP WHERE key = NEW.key;
END;
`

const defaultData = `
INSERT OR IGNORE INTO settings (key, value) VALUES
    ('last_daemon_args', ''),
    ('last_update_tick', '');
`

// RunMigrations executes the database schema and default data
func runMigrations(db *DB) error {
	if _, err := db.db.Exec(schema); err != nil {
		return err
	}

	if _, err := db.db.Exec(defaultData); err != nil {
		return err
	}

	return nil
}
