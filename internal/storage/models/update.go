package models

import "time"

// Update check results.
const (
	UpdateNoUpdate   = "no_update"
	UpdateDownloaded = "downloaded"
	UpdateFailed     = "failed"
	UpdateInstalled  = "installed"
	UpdateDeclined   = "declined"
)

// UpdateEvent records one autoupdate check or prompt outcome.
type UpdateEvent struct {
	ID        int64     `json:"id"`
	Result    string    `json:"result"`
	Version   string    `json:"version,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
