package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ericogr/serial-env-uploader/pkg/sensor"
	_ "github.com/mattn/go-sqlite3"
)

// Archive mirrors readings into a local SQLite table.
type Archive struct {
	db *sql.DB
}

func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp REAL NOT NULL,
			temperature REAL NOT NULL,
			humidity REAL NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create readings table: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) Insert(ctx context.Context, r sensor.Reading) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO readings (timestamp, temperature, humidity) VALUES (?, ?, ?)`,
		r.Timestamp, r.Temperature, r.Humidity,
	)
	return err
}

func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n)
	return n, err
}

// Backfill seeds an empty archive with readings already in the JSON log.
// It returns the number of rows inserted.
func (a *Archive) Backfill(ctx context.Context, readings []sensor.Reading) (int, error) {
	n, err := a.Count(ctx)
	if err != nil || n > 0 {
		return 0, err
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO readings (timestamp, temperature, humidity) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, r.Timestamp, r.Temperature, r.Humidity); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(readings), nil
}

// Range returns readings with from <= timestamp <= to, oldest first.
func (a *Archive) Range(ctx context.Context, from, to float64) ([]sensor.Reading, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT timestamp, temperature, humidity
		FROM readings
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC, id ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sensor.Reading
	for rows.Next() {
		var r sensor.Reading
		if err := rows.Scan(&r.Timestamp, &r.Temperature, &r.Humidity); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
