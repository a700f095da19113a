package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// Supervisor errors
	ErrConfigSerializationFailed = errors.New("failed to serialize daemon config")
	ErrSpawnFailed               = errors.New("failed to spawn daemon")
	ErrStartupTimeout            = errors.New("daemon did not become reachable in time")
	ErrCrashedBeforeReady        = errors.New("daemon exited before becoming reachable")
	ErrAlreadyRunning            = errors.New("daemon is already running")
	ErrUnsupportedPlatform       = errors.New("operation not supported on this platform")
	ErrCannotRestartInVpnMode    = errors.New("cannot restart the daemon while in VPN mode")
	ErrElevationRequired         = errors.New("VPN mode requires administrator privileges")

	// Transport errors
	ErrTransportConnectFailed = errors.New("cannot connect to daemon control endpoint")
	ErrTransportTimeout       = errors.New("daemon RPC timed out")
	ErrMalformedResponse      = errors.New("malformed daemon RPC response")
	ErrRemoteRPC              = errors.New("daemon RPC returned an error")

	// Autoupdate errors
	ErrManifestFetchFailed = errors.New("failed to fetch update manifest")
	ErrManifestParseFailed = errors.New("failed to parse update manifest")
	ErrHashMismatch        = errors.New("downloaded file hash mismatch")
	ErrMetadataCorrupt     = errors.New("cached update metadata is corrupt")

	// Storage errors
	ErrSettingNotFound = errors.New("setting not found")

	// Application errors
	ErrInstanceLocked = errors.New("another gephgui instance owns the daemon")
)

// SpawnError is returned when the daemon process could not be started at all
// (binary missing, permission denied, ...).
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawnFailed, e.Err}
}

// CrashError reports a daemon that exited before its control endpoint
// became reachable. Stderr holds whatever diagnostic text was captured.
type CrashError struct {
	Stderr  string
	ExitErr error
}

func (e *CrashError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("daemon exited before becoming reachable:\n%s", e.Stderr)
	}
	if e.ExitErr != nil {
		return fmt.Sprintf("daemon exited before becoming reachable: %v", e.ExitErr)
	}
	return ErrCrashedBeforeReady.Error()
}

func (e *CrashError) Unwrap() error {
	return ErrCrashedBeforeReady
}

// RemoteError carries the message of a JSON-RPC error object.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return ErrRemoteRPC
}

// HashMismatchError represents a downloaded artifact that does not match its manifest digest.
type HashMismatchError struct {
	Path string
	Want string
	Got  string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("%s: sha256 %s, want %s", e.Path, e.Got, e.Want)
}

func (e *HashMismatchError) Unwrap() error {
	return ErrHashMismatch
}

// ManifestError represents a manifest fetch or parse failure.
type ManifestError struct {
	URL string
	Err error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest '%s': %v", e.URL, e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}
