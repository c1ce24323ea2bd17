// ABOUTME: Tests for backup file naming and verified document snapshots

package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestBackupFileName(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 123_000_000, time.UTC)

	tests := []struct {
		source string
		want   string
	}{
		{"/data/store.json", "store-backup-2024-03-09T14-05-07-123Z.json"},
		{"/data/bot.db.json", "bot.db-backup-2024-03-09T14-05-07-123Z.json"},
		{"plain", "plain-backup-2024-03-09T14-05-07-123Z.json"},
		{"", "store-backup-2024-03-09T14-05-07-123Z.json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BackupFileName(tt.source, now), "source %q", tt.source)
	}
}

func TestBackupFileName_ConvertsToUTC(t *testing.T) {
	zone := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2024, 3, 9, 16, 5, 7, 0, zone)
	assert.Equal(t, "store-backup-2024-03-09T14-05-07-000Z.json", BackupFileName("store.json", now))
}

func TestSnapshot_CopiesFileBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	ctx := context.Background()

	s, err := OpenDocumentStore(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = collection(t, s, CollectionChannel).SetItem(ctx, "c1", map[string]any{"name": "general"})
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	backupDir := filepath.Join(dir, "backups")
	backup, err := s.Snapshot(ctx, backupDir, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(backupDir, "store-backup-2024-01-01T00-00-00-000Z.json"), backup)

	original, err := os.ReadFile(path)
	require.NoError(t, err)
	copied, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, original, copied)
}

func TestSnapshot_MemoryStoreSerializes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()
	_, err := collection(t, s, CollectionTools).SetItem(ctx, "t1", map[string]any{"name": "calc"})
	require.NoError(t, err)

	backup, err := s.Snapshot(ctx, t.TempDir(), time.Now())
	require.NoError(t, err)

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	var raw map[string][]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []map[string]any{{"id": "t1", "name": "calc"}}, raw[CollectionTools])
}

func TestSnapshot_UnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "backups")
	require.NoError(t, os.WriteFile(blocker, []byte("file"), 0644))

	s := NewMemoryStore()
	defer s.Close()

	_, err := s.Snapshot(context.Background(), blocker, time.Now())
	assert.Error(t, err)
}

func TestSnapshot_WritesManifest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()
	_, err := collection(t, s, CollectionChannel).SetItem(ctx, "c1", map[string]any{"name": "general"})
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	backup, err := s.Snapshot(ctx, dir, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "store-backup-2024-01-01T00-00-00-000Z.manifest.json"), ManifestPath(backup))

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	sum := blake2b.Sum256(data)

	manifest, err := VerifySnapshot(backup)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(backup), manifest.File)
	assert.Equal(t, len(data), manifest.Bytes)
	assert.Equal(t, hex.EncodeToString(sum[:]), manifest.BLAKE2b)
	assert.True(t, now.Equal(manifest.CreatedAt))
}

func TestVerifySnapshot_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()
	_, err := collection(t, s, CollectionTools).SetItem(ctx, "t1", map[string]any{"name": "calc"})
	require.NoError(t, err)

	backup, err := s.Snapshot(ctx, t.TempDir(), time.Now())
	require.NoError(t, err)

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	// Same length, different content.
	data[len(data)-2] ^= 0x01
	require.NoError(t, os.WriteFile(backup, data, 0644))

	_, err = VerifySnapshot(backup)
	assert.ErrorIs(t, err, ErrSnapshotMismatch)
}

func TestVerifySnapshot_MissingManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0644))

	_, err := VerifySnapshot(path)
	assert.Error(t, err)
}
