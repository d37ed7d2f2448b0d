// Package store implements persisted bot state: the per-account Bot
// Database, the shared Global Database, and an optional Postgres-backed
// drop ledger.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MobileAuthenticator holds the enrollment secrets for a bot's Mobile
// Authenticator.
type MobileAuthenticator struct {
	SharedSecret   string `json:"sharedSecret,omitempty"`
	IdentitySecret string `json:"identitySecret,omitempty"`
	DeviceID       string `json:"deviceId,omitempty"`
	SessionCookies string `json:"sessionCookies,omitempty"`
}

// Enrolled reports whether the authenticator secrets are present.
func (m MobileAuthenticator) Enrolled() bool {
	return m.SharedSecret != "" && m.IdentitySecret != ""
}

// BotDatabase is the mutable per-account persisted record. Every
// mutator persists synchronously via the owning path: the database is
// owned by its bot and written on every change.
type BotDatabase struct {
	mu sync.RWMutex

	path string

	SessionKey   []byte              `json:"sessionKey,omitempty"`
	SentryHash   []byte              `json:"sentryHash,omitempty"`
	SentryFile   []byte              `json:"sentryFile,omitempty"`
	Authenticator MobileAuthenticator `json:"authenticator"`
}

// OpenBotDatabase loads path if it exists, or returns a fresh zero-value
// database bound to path otherwise.
func OpenBotDatabase(path string) (*BotDatabase, error) {
	db := &BotDatabase{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bot database %s: %w", path, err)
	}

	var onDisk struct {
		SessionKey    []byte              `json:"sessionKey,omitempty"`
		SentryHash    []byte              `json:"sentryHash,omitempty"`
		SentryFile    []byte              `json:"sentryFile,omitempty"`
		Authenticator MobileAuthenticator `json:"authenticator"`
	}
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return nil, fmt.Errorf("decode bot database %s: %w", path, err)
	}

	db.SessionKey = onDisk.SessionKey
	db.SentryHash = onDisk.SentryHash
	db.SentryFile = onDisk.SentryFile
	db.Authenticator = onDisk.Authenticator
	return db, nil
}

// persist atomically replaces the on-disk record: write to a temp file in
// the same directory, then rename over the destination, so readers never
// observe a torn write.
func (db *BotDatabase) persist() error {
	snapshot := struct {
		SessionKey    []byte              `json:"sessionKey,omitempty"`
		SentryHash    []byte              `json:"sentryHash,omitempty"`
		SentryFile    []byte              `json:"sentryFile,omitempty"`
		Authenticator MobileAuthenticator `json:"authenticator"`
	}{db.SessionKey, db.SentryHash, db.SentryFile, db.Authenticator}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bot database: %w", err)
	}

	dir := filepath.Dir(db.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".botdb-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, db.path); err != nil {
		return fmt.Errorf("replace state file %s: %w", db.path, err)
	}
	return nil
}

// SetSessionKey stores a newly issued session key and persists it
// immediately, matching the Bot state machine's login-key callback handler.
func (db *BotDatabase) SetSessionKey(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.SessionKey = append([]byte(nil), key...)
	return db.persist()
}

// ClearSessionKey drops a now-expired session key, matching the
// InvalidPassword recovery path.
func (db *BotDatabase) ClearSessionKey() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.SessionKey = nil
	return db.persist()
}

// HasSessionKey reports whether a remembered session key is present, the
// condition under which password may be omitted on the next connect.
func (db *BotDatabase) HasSessionKey() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.SessionKey) > 0
}

// AppendSentryBytes appends data at offset to the sentry file, growing it
// if necessary, and returns the updated file. Matches the
// updateMachineAuth callback semantics.
func (db *BotDatabase) AppendSentryBytes(offset int64, data []byte) ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	needed := offset + int64(len(data))
	if int64(len(db.SentryFile)) < needed {
		grown := make([]byte, needed)
		copy(grown, db.SentryFile)
		db.SentryFile = grown
	}
	copy(db.SentryFile[offset:], data)

	if err := db.persist(); err != nil {
		return nil, err
	}
	return append([]byte(nil), db.SentryFile...), nil
}

// SetSentryHash stores the SHA-1 computed over the full sentry file.
func (db *BotDatabase) SetSentryHash(hash []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.SentryHash = append([]byte(nil), hash...)
	return db.persist()
}

// SetAuthenticator stores new Mobile Authenticator enrollment secrets.
func (db *BotDatabase) SetAuthenticator(auth MobileAuthenticator) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.Authenticator = auth
	return db.persist()
}

// GetAuthenticator returns a copy of the current authenticator secrets.
func (db *BotDatabase) GetAuthenticator() MobileAuthenticator {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.Authenticator
}

// SentryFileHash returns the currently persisted sentry hash, or nil.
func (db *BotDatabase) SentryFileHash() []byte {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]byte(nil), db.SentryHash...)
}

// SessionKeyBytes returns the currently persisted session key, or nil.
func (db *BotDatabase) SessionKeyBytes() []byte {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]byte(nil), db.SessionKey...)
}
