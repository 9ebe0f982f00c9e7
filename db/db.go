package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteClient keeps the history of sessions and per-iteration readings.
type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dbPath string) (*SQLiteClient, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %s", err)
	}
	// one writer; sqlite serialises anyway
	db.SetMaxOpenConns(1)
	err = createTables(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %s", err)
	}
	return &SQLiteClient{db: db}, nil
}

func (db *SQLiteClient) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createSessionsTable := `
    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        source TEXT NOT NULL,
        samplingRate REAL NOT NULL,
        channels INTEGER NOT NULL,
        band TEXT NOT NULL,
        threshold REAL NOT NULL,
        startedAtMs INTEGER NOT NULL,
        endedAtMs INTEGER
    );
    `

	createReadingsTable := `
    CREATE TABLE IF NOT EXISTS readings (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        sessionID TEXT NOT NULL REFERENCES sessions(id),
        timeMs INTEGER NOT NULL,
        band TEXT NOT NULL,
        mean REAL NOT NULL,
        channels INTEGER NOT NULL,
        decision TEXT
    );
    `

	createBandMeansTable := `
    CREATE TABLE IF NOT EXISTS band_means (
        readingID INTEGER NOT NULL REFERENCES readings(id),
        band TEXT NOT NULL,
        mean REAL NOT NULL,
        PRIMARY KEY (readingID, band)
    );
    `

	createReadingsIndex := `
    CREATE INDEX IF NOT EXISTS readings_session_time ON readings (sessionID, timeMs);
    `

	_, err := db.Exec(createSessionsTable)
	if err != nil {
		return fmt.Errorf("error creating sessions table: %s", err)
	}

	_, err = db.Exec(createReadingsTable)
	if err != nil {
		return fmt.Errorf("error creating readings table: %s", err)
	}

	_, err = db.Exec(createBandMeansTable)
	if err != nil {
		return fmt.Errorf("error creating band_means table: %s", err)
	}

	_, err = db.Exec(createReadingsIndex)
	if err != nil {
		return fmt.Errorf("error creating readings index: %s", err)
	}

	return nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }
