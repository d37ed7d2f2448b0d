package store

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestBotDatabaseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.db.json")

	db, err := OpenBotDatabase(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if db.HasSessionKey() {
		t.Fatal("expected no session key in fresh database")
	}

	if err := db.SetSessionKey([]byte("secret-session-key")); err != nil {
		t.Fatalf("set session key: %v", err)
	}
	if err := db.SetAuthenticator(MobileAuthenticator{
		SharedSecret:   "shared",
		IdentitySecret: "identity",
		DeviceID:       "device-1",
	}); err != nil {
		t.Fatalf("set authenticator: %v", err)
	}

	reopened, err := OpenBotDatabase(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !bytes.Equal(reopened.SessionKeyBytes(), []byte("secret-session-key")) {
		t.Fatalf("session key did not round-trip: %q", reopened.SessionKeyBytes())
	}
	if !reopened.GetAuthenticator().Enrolled() {
		t.Fatal("expected authenticator to be enrolled after round trip")
	}
}

func TestBotDatabaseClearSessionKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.db.json")

	db, _ := OpenBotDatabase(path)
	if err := db.SetSessionKey([]byte("k")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !db.HasSessionKey() {
		t.Fatal("expected session key to be set")
	}
	if err := db.ClearSessionKey(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if db.HasSessionKey() {
		t.Fatal("expected session key to be cleared")
	}
}

func TestBotDatabaseAppendSentryBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.db.json")
	db, _ := OpenBotDatabase(path)

	file, err := db.AppendSentryBytes(0, []byte("hello"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if string(file) != "hello" {
		t.Fatalf("expected 'hello', got %q", file)
	}

	file, err = db.AppendSentryBytes(5, []byte(" world"))
	if err != nil {
		t.Fatalf("append2: %v", err)
	}
	if string(file) != "hello world" {
		t.Fatalf("expected 'hello world', got %q", file)
	}

	// Sparse append: writing beyond current length should zero-fill the gap.
	file, err = db.AppendSentryBytes(20, []byte("!"))
	if err != nil {
		t.Fatalf("append3: %v", err)
	}
	if len(file) != 21 || file[20] != '!' {
		t.Fatalf("unexpected sparse append result: %q (len=%d)", file, len(file))
	}
}

func TestGlobalDatabaseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "global.json")

	db, err := OpenGlobalDatabase(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if db.Get() != 0 {
		t.Fatalf("expected zero-value cell id, got %d", db.Get())
	}

	if err := db.SetCellID(42); err != nil {
		t.Fatalf("set: %v", err)
	}

	reopened, err := OpenGlobalDatabase(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Get() != 42 {
		t.Fatalf("expected cell id 42, got %d", reopened.Get())
	}
}

func TestGlobalDatabaseIgnoresZeroCellID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "global.json")
	db, _ := OpenGlobalDatabase(path)

	if err := db.SetCellID(7); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.SetCellID(0); err != nil {
		t.Fatalf("set zero: %v", err)
	}
	if db.Get() != 7 {
		t.Fatalf("expected cell id to remain 7 after a zero SetCellID, got %d", db.Get())
	}
}

func TestLedgerNilIsNoOp(t *testing.T) {
	var l *Ledger
	if err := l.Record(LedgerEntry{BotName: "x", Type: EventCardDrop}); err != nil {
		t.Fatalf("expected nil ledger Record to no-op, got %v", err)
	}
	entries, err := l.RecentForBot("x", 10)
	if err != nil || entries != nil {
		t.Fatalf("expected nil ledger RecentForBot to no-op, got %v %v", entries, err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("expected nil ledger Close to no-op, got %v", err)
	}
}

func TestOpenLedgerRequiresPassword(t *testing.T) {
	if _, err := OpenLedger("localhost", "5432", "postgres", "", "farmhand"); err == nil {
		t.Fatal("expected error when password is empty")
	}
}
