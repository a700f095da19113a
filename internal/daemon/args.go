package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gephgui/internal/storage"
	pkgerrors "gephgui/pkg/errors"
)

// SettingsStore is the part of storage that remembers the last config.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// LoadLastArgs returns the config of the last start, or ok=false when none
// was saved.
func LoadLastArgs(ctx context.Context, s SettingsStore) (cfg DaemonConfig, ok bool, err error) {
	raw, err := s.GetSetting(ctx, storage.SettingLastDaemonArgs)
	if errors.Is(err, pkgerrors.ErrSettingNotFound) || (err == nil && raw == "") {
		return DaemonConfig{Exit: AutoExit()}, false, nil
	}
	if err != nil {
		return DaemonConfig{}, false, err
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return DaemonConfig{}, false, fmt.Errorf("saved daemon args: %w", err)
	}
	return cfg, true, nil
}

// SaveLastArgs remembers cfg for the next start.
func SaveLastArgs(ctx context.Context, s SettingsStore, cfg DaemonConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrConfigSerializationFailed, err)
	}
	return s.SetSetting(ctx, storage.SettingLastDaemonArgs, string(data))
}
