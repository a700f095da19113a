package models

import "time"

// Exit reasons recorded when a daemon session ends.
const (
	ExitStopped = "stopped"
	ExitCrashed = "crashed"
)

// Session is one supervised daemon run, from readiness to stop or crash.
type Session struct {
	ID         string     `json:"id"` // uuid
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"` // nil while running
	VPNMode    bool       `json:"vpn_mode"`
	Strategy   string     `json:"strategy"` // direct, pkexec, service
	ExitReason string     `json:"exit_reason,omitempty"`
}

// Running reports whether the session has not ended yet.
func (s *Session) Running() bool {
	return s.StoppedAt == nil
}
