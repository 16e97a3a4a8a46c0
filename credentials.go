package gateway

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Import SQLite driver for database/sql
)

// minSecretLen is the smallest shared secret accepted at load time.
const minSecretLen = 16

// CredentialStore resolves device identifiers to their shared HMAC secrets.
// The store is loaded once from the devices table and is immutable afterwards;
// provisioning and refresh happen outside the gateway.
type CredentialStore struct {
	secrets map[string][]byte
}

// LoadCredentials opens the SQLite database at path, reads every device
// record into memory, and closes the database. Duplicate device identifiers
// and secrets shorter than 16 bytes are load-time errors.
func LoadCredentials(path string) (*CredentialStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open credentials db: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("open credentials db: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	rows, err := db.Query(`SELECT device_id, shared_secret FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("read devices table: %w", err)
	}
	defer rows.Close()

	secrets := make(map[string][]byte)
	for rows.Next() {
		var id, secret string
		if err := rows.Scan(&id, &secret); err != nil {
			return nil, fmt.Errorf("scan device record: %w", err)
		}
		if id == "" {
			return nil, fmt.Errorf("device record with empty device_id")
		}
		if len(secret) < minSecretLen {
			return nil, fmt.Errorf("device %q: shared secret shorter than %d bytes", id, minSecretLen)
		}
		if _, dup := secrets[id]; dup {
			return nil, fmt.Errorf("duplicate device_id %q", id)
		}
		secrets[id] = []byte(secret)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read devices table: %w", err)
	}

	return &CredentialStore{secrets: secrets}, nil
}

// Lookup returns the shared secret for deviceID, or false if the device is unknown.
func (s *CredentialStore) Lookup(deviceID string) ([]byte, bool) {
	secret, ok := s.secrets[deviceID]
	return secret, ok
}

// Len reports how many device records are loaded.
func (s *CredentialStore) Len() int { return len(s.secrets) }
