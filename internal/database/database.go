package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/vincentbai/gazetrace-agent/internal/models"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

var ErrNotFound = errors.New("not found")

type Database struct {
	db *sql.DB
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS gaze_points(
	  id          INTEGER PRIMARY KEY,
	  session_id  TEXT    NOT NULL,
	  ts_ms       REAL    NOT NULL,
	  elapsed_ms  REAL    NOT NULL,
	  x           REAL    NOT NULL,
	  y           REAL    NOT NULL,
	  page        TEXT    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_gaze_session ON gaze_points(session_id, ts_ms);
	CREATE INDEX IF NOT EXISTS idx_gaze_page    ON gaze_points(page);

	CREATE TABLE IF NOT EXISTS calibrations(
	  id          INTEGER PRIMARY KEY,
	  session_id  TEXT    NOT NULL,
	  ts_ms       REAL    NOT NULL,
	  completed   INTEGER NOT NULL CHECK (completed IN (0, 1)),
	  data_json   TEXT    NOT NULL CHECK (json_valid(data_json))
	);
	CREATE INDEX IF NOT EXISTS idx_calibrations_session ON calibrations(session_id);

	CREATE TABLE IF NOT EXISTS exports(
	  id          TEXT    PRIMARY KEY,
	  session_id  TEXT    NOT NULL,
	  created_utc INTEGER NOT NULL,
	  points      INTEGER NOT NULL,
	  bytes       INTEGER NOT NULL,
	  calibrated  INTEGER NOT NULL CHECK (calibrated IN (0, 1)),
	  data_json   TEXT    NOT NULL CHECK (json_valid(data_json))
	);
	CREATE INDEX IF NOT EXISTS idx_exports_created ON exports(created_utc);

	CREATE TABLE IF NOT EXISTS session_state(
	  session_id  TEXT    NOT NULL,
	  key         TEXT    NOT NULL,
	  value       TEXT    NOT NULL,
	  updated_utc INTEGER NOT NULL,
	  PRIMARY KEY (session_id, key)
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (d *Database) ValidateGazePoint(point models.GazePoint) error {
	if !finite(point.X) || !finite(point.Y) {
		return fmt.Errorf("coordinates must be finite")
	}
	if !finite(point.Timestamp) || point.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be positive")
	}
	if !finite(point.ElapsedTime) || point.ElapsedTime < 0 {
		return fmt.Errorf("elapsed time must not be negative")
	}
	return nil
}

// InsertGazePoints stores points in one transaction; one invalid point
// rolls back the whole batch.
func (d *Database) InsertGazePoints(ctx context.Context, sessionID string, points []models.GazePoint) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	transaction, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	statement, err := transaction.PrepareContext(ctx, `INSERT INTO gaze_points(session_id, ts_ms, elapsed_ms, x, y, page) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	for _, point := range points {
		if err := d.ValidateGazePoint(point); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("invalid gaze point: %w", err)
		}
		if _, err := statement.ExecContext(ctx, sessionID, point.Timestamp, point.ElapsedTime, point.X, point.Y, point.Page); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *Database) CountGazePoints(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gaze_points WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count gaze points: %w", err)
	}
	return count, nil
}

func (d *Database) SaveCalibration(ctx context.Context, sessionID string, record models.CalibrationRecord) error {
	jsonData, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO calibrations(session_id, ts_ms, completed, data_json) VALUES(?,?,?,json(?))`,
		sessionID, record.Timestamp, boolToInt(record.Completed), string(jsonData))
	if err != nil {
		return fmt.Errorf("failed to insert calibration: %w", err)
	}
	return nil
}

func (d *Database) SaveExport(ctx context.Context, sessionID string, record models.ExportRecord) (models.StoredExport, error) {
	jsonData, err := json.Marshal(record)
	if err != nil {
		return models.StoredExport{}, fmt.Errorf("failed to marshal export: %w", err)
	}

	stored := models.StoredExport{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		CreatedUTC: time.Now().UTC().Unix(),
		Points:     len(record.GazeData),
		Bytes:      len(jsonData),
		Calibrated: record.CalibrationData != nil && record.CalibrationData.Completed,
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO exports(id, session_id, created_utc, points, bytes, calibrated, data_json) VALUES(?,?,?,?,?,?,json(?))`,
		stored.ID, stored.SessionID, stored.CreatedUTC, stored.Points, stored.Bytes, boolToInt(stored.Calibrated), string(jsonData))
	if err != nil {
		return models.StoredExport{}, fmt.Errorf("failed to insert export: %w", err)
	}
	return stored, nil
}

// ListExports returns the newest exports first.
func (d *Database) ListExports(ctx context.Context, limit int) ([]models.StoredExport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, session_id, created_utc, points, bytes, calibrated FROM exports ORDER BY created_utc DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exports: %w", err)
	}
	defer rows.Close()

	var exports []models.StoredExport
	for rows.Next() {
		var e models.StoredExport
		var calibrated int
		if err := rows.Scan(&e.ID, &e.SessionID, &e.CreatedUTC, &e.Points, &e.Bytes, &calibrated); err != nil {
			return nil, fmt.Errorf("failed to scan export: %w", err)
		}
		e.Calibrated = calibrated == 1
		exports = append(exports, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exports: %w", err)
	}
	return exports, nil
}

func (d *Database) GetExport(ctx context.Context, id string) (*models.ExportRecord, error) {
	var dataJSON string
	err := d.db.QueryRowContext(ctx, `SELECT data_json FROM exports WHERE id = ?`, id).Scan(&dataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("export %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query export: %w", err)
	}

	var record models.ExportRecord
	if err := json.Unmarshal([]byte(dataJSON), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal export: %w", err)
	}
	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
