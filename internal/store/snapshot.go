// ABOUTME: Atomic file writes and timestamped backup snapshots of the document file
// ABOUTME: Each snapshot gets a BLAKE2b manifest that is verified before callers may clear data

package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// SnapshotManifest records what a backup file must contain. It is written
// next to the backup, with ".json" replaced by ".manifest.json".
type SnapshotManifest struct {
	File      string    `json:"file"`
	Bytes     int       `json:"bytes"`
	BLAKE2b   string    `json:"blake2b_256"`
	CreatedAt time.Time `json:"created_at"`
}

// ManifestPath returns the manifest location for a backup file
func ManifestPath(backupPath string) string {
	return strings.TrimSuffix(backupPath, filepath.Ext(backupPath)) + ".manifest.json"
}

func blake2bHex(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// backupTimeLayout is ISO-8601 with millisecond precision in UTC
const backupTimeLayout = "2006-01-02T15:04:05.000Z"

// BackupFileName returns "<base>-backup-<timestamp>.json" where base is the source
// file name without extension and the timestamp has ':' and '.' replaced by '-'.
func BackupFileName(sourcePath string, now time.Time) string {
	base := filepath.Base(sourcePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "store"
	}
	stamp := now.UTC().Format(backupTimeLayout)
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return base + "-backup-" + stamp + ".json"
}

// Snapshot writes a copy of the document file into dir and verifies it.
// Memory-only stores write a fresh serialization of their contents instead.
func (s *DocumentStore) Snapshot(ctx context.Context, dir string, now time.Time) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}

	var source []byte
	var err error
	if s.path != "" {
		source, err = os.ReadFile(s.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("reading document file for backup: %w", err)
		}
	}
	if source == nil {
		source, err = s.encode("", nil)
		if err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	target := filepath.Join(dir, BackupFileName(s.path, now))
	manifest := SnapshotManifest{
		File:      filepath.Base(target),
		Bytes:     len(source),
		BLAKE2b:   blake2bHex(source),
		CreatedAt: now.UTC(),
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding backup manifest: %w", err)
	}

	if err := writeFileAtomic(target, source); err != nil {
		return "", fmt.Errorf("writing backup: %w", err)
	}
	if err := writeFileAtomic(ManifestPath(target), manifestData); err != nil {
		return "", fmt.Errorf("writing backup manifest: %w", err)
	}
	if _, err := VerifySnapshot(target); err != nil {
		return "", err
	}

	s.logger.Info("wrote backup snapshot", "path", target, "bytes", len(source), "blake2b", manifest.BLAKE2b)
	return target, nil
}

// VerifySnapshot checks a backup file against its manifest and returns the manifest.
func VerifySnapshot(path string) (*SnapshotManifest, error) {
	raw, err := os.ReadFile(ManifestPath(path))
	if err != nil {
		return nil, fmt.Errorf("reading backup manifest: %w", err)
	}
	var manifest SnapshotManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("decoding backup manifest: %w", err)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading back backup: %w", err)
	}
	if len(written) != manifest.Bytes || blake2bHex(written) != manifest.BLAKE2b {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotMismatch, path)
	}
	return &manifest, nil
}

// writeFileAtomic writes data to path via a temp file in the same directory,
// fsync and rename, so readers never see a partially written file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
