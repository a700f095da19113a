package autoupdate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gephgui/internal/daemon"
	"gephgui/internal/rpc"
	pkgerrors "gephgui/pkg/errors"
)

// ManifestFile is fetched from the update server's base URL.
const ManifestFile = "metadata.yaml"

// ManifestMethod is the daemon RPC that returns [manifest, base_url].
const ManifestMethod = "get_update_manifest"

// Update tracks, one per platform.
const (
	TrackLinux   = "linux-stable"
	TrackWindows = "windows-stable"
	TrackMacOS   = "macos-stable"
)

// TrackFor returns the update track for platform.
func TrackFor(platform daemon.Platform) string {
	switch platform {
	case daemon.PlatformWindows:
		return TrackWindows
	case daemon.PlatformMacOS:
		return TrackMacOS
	default:
		return TrackLinux
	}
}

// ManifestEntry describes the newest build on one track.
type ManifestEntry struct {
	Version  string `json:"version" yaml:"version"`
	SHA256   string `json:"sha256" yaml:"sha256"`
	Filename string `json:"filename" yaml:"filename"`
}

// Manifest maps track names to their newest build.
type Manifest map[string]ManifestEntry

// ParseManifest decodes a manifest document. JSON documents are accepted
// since they are valid YAML.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrManifestParseFailed, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: empty manifest", pkgerrors.ErrManifestParseFailed)
	}
	return m, nil
}

// Entry returns the validated entry for track.
func (m Manifest) Entry(track string) (ManifestEntry, error) {
	e, ok := m[track]
	if !ok {
		return ManifestEntry{}, fmt.Errorf("%w: no entry for track %s", pkgerrors.ErrManifestParseFailed, track)
	}
	if e.Version == "" || e.SHA256 == "" || e.Filename == "" {
		return ManifestEntry{}, fmt.Errorf("%w: incomplete entry for track %s", pkgerrors.ErrManifestParseFailed, track)
	}
	if _, err := hex.DecodeString(e.SHA256); err != nil {
		return ManifestEntry{}, fmt.Errorf("%w: sha256 is not hex", pkgerrors.ErrManifestParseFailed)
	}
	// The filename becomes a path component of the cache.
	if filepath.Base(e.Filename) != e.Filename || e.Filename == "." || e.Filename == ".." {
		return ManifestEntry{}, fmt.Errorf("%w: invalid filename %q", pkgerrors.ErrManifestParseFailed, e.Filename)
	}
	e.SHA256 = strings.ToLower(e.SHA256)
	return e, nil
}

// ArtifactURL is <base>/<track>/<version>/<filename>.
func ArtifactURL(base, track string, e ManifestEntry) string {
	return fmt.Sprintf("%s/%s/%s/%s", strings.TrimRight(base, "/"), track, e.Version, e.Filename)
}

// Source yields the current manifest and the base URL artifacts live under.
type Source interface {
	Manifest(ctx context.Context) (Manifest, string, error)
}

// HTTPSource fetches <BaseURL>/metadata.yaml directly.
type HTTPSource struct {
	BaseURL string
	Fetcher *Fetcher
	Timeout time.Duration
}

func (s *HTTPSource) Manifest(ctx context.Context) (Manifest, string, error) {
	base := strings.TrimRight(s.BaseURL, "/")
	url := base + "/" + ManifestFile
	data, err := s.Fetcher.Fetch(ctx, url, s.Timeout)
	if err != nil {
		return nil, "", &pkgerrors.ManifestError{URL: url, Err: fmt.Errorf("%w: %w", pkgerrors.ErrManifestFetchFailed, err)}
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, "", &pkgerrors.ManifestError{URL: url, Err: err}
	}
	return m, base, nil
}

// Handler serves the manifest RPC for the in-process fallback service.
func (s *HTTPSource) Handler() rpc.Handler {
	return func(ctx context.Context, _ []json.RawMessage) (any, error) {
		m, base, err := s.Manifest(ctx)
		if err != nil {
			return nil, err
		}
		return []any{m, base}, nil
	}
}

// Caller sends RPCs through the bridge.
type Caller interface {
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// BridgeSource asks the daemon (or its in-process fallback) for the manifest.
type BridgeSource struct {
	Caller Caller
}

func (s *BridgeSource) Manifest(ctx context.Context) (Manifest, string, error) {
	raw, err := s.Caller.Call(ctx, ManifestMethod)
	if err != nil {
		return nil, "", &pkgerrors.ManifestError{URL: ManifestMethod, Err: fmt.Errorf("%w: %w", pkgerrors.ErrManifestFetchFailed, err)}
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return nil, "", &pkgerrors.ManifestError{URL: ManifestMethod, Err: fmt.Errorf("%w: want [manifest, base_url]", pkgerrors.ErrManifestParseFailed)}
	}
	var (
		m    Manifest
		base string
	)
	if err := json.Unmarshal(pair[0], &m); err != nil || m == nil {
		return nil, "", &pkgerrors.ManifestError{URL: ManifestMethod, Err: fmt.Errorf("%w: bad manifest", pkgerrors.ErrManifestParseFailed)}
	}
	if err := json.Unmarshal(pair[1], &base); err != nil || base == "" {
		return nil, "", &pkgerrors.ManifestError{URL: ManifestMethod, Err: fmt.Errorf("%w: bad base url", pkgerrors.ErrManifestParseFailed)}
	}
	return m, base, nil
}
