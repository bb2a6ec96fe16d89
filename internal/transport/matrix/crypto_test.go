// ABOUTME: Tests for Matrix E2EE helpers
// ABOUTME: Covers crypto database naming, key derivation and device change detection

package matrix

import (
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCryptoDBPath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("/data", "matrix-crypto-flyme_example.org.db"),
		cryptoDBPath("/data", "@flyme:example.org"))
	assert.Equal(t,
		filepath.Join("/data", "matrix-crypto-weird_host.db"),
		cryptoDBPath("/data", "@we/ird:host"))
}

func TestStoreKey(t *testing.T) {
	a := storeKey("@a:example.org")
	assert.Len(t, a, 32)
	assert.Equal(t, a, storeKey("@a:example.org"))
	assert.NotEqual(t, a, storeKey("@b:example.org"))
}

func writeCryptoDB(t *testing.T, path, deviceID string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE crypto_account (device_id TEXT)`)
	require.NoError(t, err)
	if deviceID != "" {
		_, err = db.Exec(`INSERT INTO crypto_account (device_id) VALUES (?)`, deviceID)
		require.NoError(t, err)
	}
}

func TestStoredDeviceID(t *testing.T) {
	dir := t.TempDir()

	got, err := storedDeviceID(filepath.Join(dir, "missing.db"))
	require.NoError(t, err)
	assert.Empty(t, got)

	empty := filepath.Join(dir, "empty.db")
	writeCryptoDB(t, empty, "")
	got, err = storedDeviceID(empty)
	require.NoError(t, err)
	assert.Empty(t, got)

	stored := filepath.Join(dir, "stored.db")
	writeCryptoDB(t, stored, "DEVICEA")
	got, err = storedDeviceID(stored)
	require.NoError(t, err)
	assert.Equal(t, "DEVICEA", got)
}

func TestResetOnDeviceChange(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	same := filepath.Join(dir, "same.db")
	writeCryptoDB(t, same, "DEVICEA")
	require.NoError(t, resetOnDeviceChange(same, "DEVICEA", logger))
	assert.FileExists(t, same)

	changed := filepath.Join(dir, "changed.db")
	writeCryptoDB(t, changed, "DEVICEA")
	require.NoError(t, os.WriteFile(changed+"-wal", nil, 0o600))
	require.NoError(t, resetOnDeviceChange(changed, "DEVICEB", logger))
	assert.NoFileExists(t, changed)
	assert.NoFileExists(t, changed+"-wal")
}
