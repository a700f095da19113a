package autoupdate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	pkgerrors "gephgui/pkg/errors"
)

// MetadataFile records the verified pending update inside the cache root.
const MetadataFile = "update-metadata.json"

// UpdateMetadata describes a downloaded, verified installer.
type UpdateMetadata struct {
	Version      string `json:"version"`
	SHA256       string `json:"sha256"`
	Filename     string `json:"filename"`
	DownloadPath string `json:"download_path"`
}

// Cache is the content-addressed download directory:
// <root>/<sha256>/<filename> plus <root>/update-metadata.json.
type Cache struct {
	root string
}

func NewCache(root string) *Cache {
	return &Cache{root: root}
}

func (c *Cache) Root() string { return c.root }

// ArtifactPath returns where the artifact for e is stored.
func (c *Cache) ArtifactPath(e ManifestEntry) string {
	return filepath.Join(c.root, e.SHA256, e.Filename)
}

// Verify reports whether path exists and hashes to want.
func (c *Cache) Verify(path, want string) (bool, error) {
	got, err := fileSHA256(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// Store writes data to path atomically and re-hashes the written file. On a
// mismatch the file is removed and a *HashMismatchError returned.
func (c *Cache) Store(path, want string, data []byte) error {
	if err := writeAtomic(path, data, 0o755); err != nil {
		return err
	}
	got, err := fileSHA256(path)
	if err != nil {
		return err
	}
	if got != want {
		os.Remove(path)
		return &pkgerrors.HashMismatchError{Path: path, Want: want, Got: got}
	}
	return nil
}

func (c *Cache) metadataPath() string {
	return filepath.Join(c.root, MetadataFile)
}

// LoadMetadata returns nil when no update is pending. An unreadable
// record is removed and reported as ErrMetadataCorrupt.
func (c *Cache) LoadMetadata() (*UpdateMetadata, error) {
	data, err := os.ReadFile(c.metadataPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m UpdateMetadata
	if err := json.Unmarshal(data, &m); err != nil || m.Version == "" || m.DownloadPath == "" {
		c.ClearMetadata()
		if err == nil {
			err = errors.New("missing fields")
		}
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrMetadataCorrupt, err)
	}
	return &m, nil
}

func (c *Cache) WriteMetadata(m *UpdateMetadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return writeAtomic(c.metadataPath(), data, 0o644)
}

// ClearMetadata removes the pending-update record. Cached artifacts stay.
func (c *Cache) ClearMetadata() error {
	err := os.Remove(c.metadataPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
