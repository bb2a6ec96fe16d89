// ABOUTME: End-to-end encryption setup for the Matrix transport
// ABOUTME: Stores Olm state in a per-user SQLite database and verifies with a recovery key

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// CryptoManager owns the E2EE helper attached to a Matrix client.
type CryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// SetupCrypto enables E2EE for client. The crypto database lives in
// dataDir, one file per user. A database left behind by a different device
// is discarded. A failed recovery key verification is logged, not fatal.
func SetupCrypto(ctx context.Context, client *mautrix.Client, userID, recoveryKey, dataDir string, logger *slog.Logger) (*CryptoManager, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating crypto directory: %w", err)
	}

	dbPath := cryptoDBPath(dataDir, userID)
	logger.Info("setting up encryption", "db", dbPath)

	if err := resetOnDeviceChange(dbPath, client.DeviceID.String(), logger); err != nil {
		return nil, err
	}

	helper, err := cryptohelper.NewCryptoHelper(client, storeKey(userID), dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}

	// Outgoing messages to encrypted rooms are encrypted by the client from here on.
	client.Crypto = helper

	m := &CryptoManager{helper: helper, logger: logger}
	if recoveryKey == "" {
		logger.Info("encryption enabled without cross-signing")
		return m, nil
	}

	if err := m.verify(ctx, recoveryKey); err != nil {
		logger.Warn("recovery key verification failed, continuing without cross-signing", "error", err)
	} else {
		logger.Info("encryption enabled with cross-signing verification")
	}
	return m, nil
}

func (m *CryptoManager) verify(ctx context.Context, recoveryKey string) error {
	machine := m.helper.Machine()
	if machine == nil {
		return errors.New("crypto machine not initialized")
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		return fmt.Errorf("verifying with recovery key: %w", err)
	}
	return nil
}

// Close releases the crypto database.
func (m *CryptoManager) Close() error {
	if m.helper == nil {
		return nil
	}
	return m.helper.Close()
}

// cryptoDBPath names the database after the user so several accounts can
// share a data directory. "@flyme:example.org" becomes
// "matrix-crypto-flyme_example.org.db".
func cryptoDBPath(dataDir, userID string) string {
	var b strings.Builder
	for _, c := range strings.TrimPrefix(userID, "@") {
		switch {
		case c == ':':
			b.WriteByte('_')
		case c < 128 && (c == '.' || c == '-' || c == '_' ||
			('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')):
			b.WriteRune(c)
		}
	}
	return filepath.Join(dataDir, "matrix-crypto-"+b.String()+".db")
}

// storeKey derives the pickle key for the crypto store from the user ID.
func storeKey(userID string) []byte {
	sum := sha256.Sum256([]byte("flyme-matrix-crypto:" + userID))
	return sum[:]
}

// resetOnDeviceChange removes the crypto database when it belongs to a
// different device than the current login.
func resetOnDeviceChange(dbPath, deviceID string, logger *slog.Logger) error {
	stored, err := storedDeviceID(dbPath)
	if err != nil {
		logger.Debug("could not read stored device ID", "error", err)
		return nil
	}
	if stored == "" || stored == deviceID {
		return nil
	}

	logger.Warn("device ID changed, resetting crypto database", "stored", stored, "current", deviceID)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing old crypto database: %w", err)
		}
	}
	return nil
}

// storedDeviceID returns the device ID recorded in an existing crypto
// database, or "" when there is none.
func storedDeviceID(dbPath string) (string, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return "", nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var deviceID string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return deviceID, nil
}
