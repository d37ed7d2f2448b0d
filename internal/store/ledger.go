package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// EventType enumerates the kinds of ledger rows recorded.
type EventType int

const (
	EventCardDrop EventType = iota + 1
	EventKeyRedeem
	EventTradeSent
	EventTradeAccepted
	EventGiftAccepted
)

// LedgerEntry is one row of the drop/redeem/trade history.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	BotName   string    `json:"botName"`
	Type      EventType `json:"type"`
	AppID     uint32    `json:"appId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ledger is an optional Postgres-backed append log. It degrades to a
// no-op when unset, continuing without ledger support rather than
// refusing to start.
type Ledger struct {
	db *sql.DB
}

// OpenLedger connects using the standard Postgres environment variables
// (DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME), repurposed
// from a skin-asset cache into a card-drop/redeem/trade event ledger.
func OpenLedger(host, port, user, password, dbname string) (*Ledger, error) {
	if password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required to enable the drop ledger")
	}
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}
	if user == "" {
		user = "postgres"
	}
	if dbname == "" {
		dbname = "farmhand"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	l := &Ledger{db: db}
	if err := l.ensureSchema(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) ensureSchema() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_entry (
			id SERIAL PRIMARY KEY,
			bot_name TEXT NOT NULL,
			type INTEGER NOT NULL,
			app_id INTEGER,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

// Record appends a ledger entry, an insert-with-timestamp shape.
func (l *Ledger) Record(entry LedgerEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	_, err := l.db.Exec(
		`INSERT INTO ledger_entry (bot_name, type, app_id, detail) VALUES ($1, $2, $3, $4)`,
		entry.BotName, int(entry.Type), entry.AppID, entry.Detail,
	)
	return err
}

// RecentForBot returns the most recent entries for a bot, newest first.
func (l *Ledger) RecentForBot(botName string, limit int) ([]LedgerEntry, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	rows, err := l.db.Query(
		`SELECT id, bot_name, type, app_id, detail, created_at
		 FROM ledger_entry WHERE bot_name = $1 ORDER BY created_at DESC LIMIT $2`,
		botName, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var appID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.BotName, &e.Type, &appID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if appID.Valid {
			e.AppID = uint32(appID.Int64)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying connection, a no-op if the ledger was never
// opened.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
