package store

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	// Immediate transactions take the write lock up front, so concurrent
	// read-modify-write sequences on the credit ledger serialize instead of
	// deadlocking on a SHARED-to-RESERVED upgrade.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	// Create events table
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		level TEXT,
		code TEXT,
		msg TEXT,
		meta TEXT
	)`); err != nil {
		return nil, err
	}

	// Credit ledger: one row per identity bucket and period kind
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS credit_ledger(
		key TEXT PRIMARY KEY,
		period TEXT,
		allocated INTEGER,
		used INTEGER,
		reset_at INTEGER
	)`); err != nil {
		return nil, err
	}

	// One usage record per completed comparison
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS usage_records(
		id TEXT PRIMARY KEY,
		ts REAL,
		req_id TEXT,
		identity_key TEXT,
		input_length INTEGER,
		models_requested INTEGER,
		models_successful INTEGER,
		models_failed INTEGER,
		tokens_in INTEGER,
		tokens_out INTEGER,
		effective_tokens INTEGER,
		credits_charged INTEGER,
		dur_ms INTEGER
	)`); err != nil {
		return nil, err
	}

	// Per-model transcripts of a comparison
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS transcripts(
		id TEXT PRIMARY KEY,
		ts REAL,
		req_id TEXT,
		model TEXT,
		input TEXT,
		output TEXT,
		error INTEGER
	)`); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

func (db *DB) Event(level, code, msg string, meta map[string]interface{}) {
	m := ""
	if meta != nil {
		b, _ := json.Marshal(meta)
		m = string(b)
	}
	_, _ = db.Exec(`INSERT INTO events(ts,level,code,msg,meta) VALUES(?,?,?,?,?)`,
		float64(time.Now().UnixNano())/1e9, level, code, msg, m)
}
