package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"bandlight/types"
)

var ErrSessionExists = errors.New("session already exists")

func (db *SQLiteClient) CreateSession(s types.Session) error {
	_, err := db.db.Exec(
		"INSERT INTO sessions (id, source, samplingRate, channels, band, threshold, startedAtMs) VALUES (?, ?, ?, ?, ?, ?, ?)",
		s.ID, s.Source, s.SamplingRate, s.Channels, s.Band, s.Threshold, toMillis(s.StartedAt),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s", ErrSessionExists, s.ID)
		}
		return fmt.Errorf("failed to create session: %v", err)
	}
	return nil
}

func (db *SQLiteClient) EndSession(id string, at time.Time) error {
	result, err := db.db.Exec("UPDATE sessions SET endedAtMs = ? WHERE id = ?", toMillis(at), id)
	if err != nil {
		return fmt.Errorf("error ending session: %s", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %s", err)
	}
	if n == 0 {
		return fmt.Errorf("unknown session %s", id)
	}
	return nil
}

// AddReading stores one decided iteration together with its report bands.
func (db *SQLiteClient) AddReading(sessionID string, r types.Reading) error {
	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %s", err)
	}

	var decision sql.NullString
	if r.Decision != nil {
		decision = sql.NullString{String: r.Decision.String(), Valid: true}
	}
	result, err := tx.Exec(
		"INSERT INTO readings (sessionID, timeMs, band, mean, channels, decision) VALUES (?, ?, ?, ?, ?, ?)",
		sessionID, toMillis(r.Time), r.Band, r.Mean, r.Channels, decision,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error adding reading: %s", err)
	}
	readingID, err := result.LastInsertId()
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error getting reading ID: %s", err)
	}

	if len(r.Others) > 0 {
		stmt, err := tx.Prepare("INSERT INTO band_means (readingID, band, mean) VALUES (?, ?, ?)")
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("error preparing statement: %s", err)
		}
		defer stmt.Close()

		for _, o := range r.Others {
			if _, err := stmt.Exec(readingID, o.Band, o.Mean); err != nil {
				tx.Rollback()
				return fmt.Errorf("error executing statement: %s", err)
			}
		}
	}

	return tx.Commit()
}

// RecentSessions returns up to limit sessions, newest first.
func (db *SQLiteClient) RecentSessions(limit int) ([]types.Session, error) {
	rows, err := db.db.Query(`
		SELECT id, source, samplingRate, channels, band, threshold, startedAtMs, endedAtMs
		FROM sessions
		ORDER BY startedAtMs DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying sessions: %s", err)
	}
	defer rows.Close()

	var sessions []types.Session
	for rows.Next() {
		var s types.Session
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&s.ID, &s.Source, &s.SamplingRate, &s.Channels, &s.Band, &s.Threshold, &started, &ended); err != nil {
			return nil, fmt.Errorf("error scanning row: %s", err)
		}
		s.StartedAt = fromMillis(started)
		if ended.Valid {
			s.EndedAt = fromMillis(ended.Int64)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SessionReadings returns the last limit readings of a session in time order.
func (db *SQLiteClient) SessionReadings(sessionID string, limit int) ([]types.Reading, error) {
	rows, err := db.db.Query(`
		SELECT id, timeMs, band, mean, channels, decision FROM (
			SELECT id, timeMs, band, mean, channels, decision
			FROM readings
			WHERE sessionID = ?
			ORDER BY timeMs DESC, id DESC
			LIMIT ?
		) ORDER BY timeMs ASC, id ASC
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying readings: %s", err)
	}

	var readings []types.Reading
	var ids []int64
	for rows.Next() {
		var r types.Reading
		var id, ms int64
		var decision sql.NullString
		if err := rows.Scan(&id, &ms, &r.Band, &r.Mean, &r.Channels, &decision); err != nil {
			rows.Close() // close before returning error
			return nil, fmt.Errorf("error scanning row: %s", err)
		}
		r.Time = fromMillis(ms)
		if decision.Valid {
			s := types.Off
			if decision.String == types.On.String() {
				s = types.On
			}
			r.Decision = &s
		}
		readings = append(readings, r)
		ids = append(ids, id)
	}
	rows.Close() // close explicitly after reading
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading rows: %s", err)
	}

	for i, id := range ids {
		others, err := db.bandMeans(id)
		if err != nil {
			return nil, err
		}
		readings[i].Others = others
	}
	return readings, nil
}

func (db *SQLiteClient) bandMeans(readingID int64) ([]types.BandMean, error) {
	rows, err := db.db.Query("SELECT band, mean FROM band_means WHERE readingID = ? ORDER BY rowid", readingID)
	if err != nil {
		return nil, fmt.Errorf("error querying band means: %s", err)
	}
	defer rows.Close()

	var out []types.BandMean
	for rows.Next() {
		var m types.BandMean
		if err := rows.Scan(&m.Band, &m.Mean); err != nil {
			return nil, fmt.Errorf("error scanning row: %s", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
