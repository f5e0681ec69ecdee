package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"equipment-diagnosis/internal/diagnosis"
	readings "equipment-diagnosis/internal/readings/domain"
)

const defaultReadingTable = "sensor_readings"

// ReadingRepository is a Postgres implementation of the record store.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// NewReadingRepository constructs a repository with default table name.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// EnsureSchema creates the readings table and its lookup index when missing.
func (r *ReadingRepository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	equipment_id TEXT NOT NULL,
	temp DOUBLE PRECISION NOT NULL,
	vibration DOUBLE PRECISION NOT NULL,
	pressure DOUBLE PRECISION NOT NULL,
	failure_type SMALLINT NOT NULL,
	analysis JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, r.table)); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
CREATE INDEX IF NOT EXISTS %[1]s_equipment_latest_idx ON %[1]s (equipment_id, ts DESC, id DESC)`, r.table))
	return err
}

// Append inserts a batch in one transaction, preserving row order.
func (r *ReadingRepository) Append(ctx context.Context, batch []readings.Reading) ([]readings.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if len(batch) == 0 {
		return nil, nil
	}
	for _, reading := range batch {
		if err := reading.Validate(); err != nil {
			return nil, err
		}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	ts,
	equipment_id,
	temp,
	vibration,
	pressure,
	failure_type
) VALUES (
	$1, $2, $3, $4, $5, $6
)
RETURNING id`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	defer stmt.Close()

	stored := make([]readings.Reading, 0, len(batch))
	for _, reading := range batch {
		reading.Timestamp = reading.Timestamp.UTC()
		if err := stmt.QueryRowContext(
			ctx,
			reading.Timestamp,
			reading.EquipmentID,
			reading.Temp,
			reading.Vibration,
			reading.Pressure,
			reading.FailureType,
		).Scan(&reading.ID); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		reading.Analysis = nil
		stored = append(stored, reading)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

// Latest returns the newest reading for an equipment.
func (r *ReadingRepository) Latest(ctx context.Context, equipmentID string) (*readings.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT id, ts, equipment_id, temp, vibration, pressure, failure_type, analysis
FROM %s
WHERE equipment_id = $1
ORDER BY ts DESC, id DESC
LIMIT 1`, r.table), equipmentID)

	reading, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, readings.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

// All returns every reading ordered by id.
func (r *ReadingRepository) All(ctx context.Context) ([]readings.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, ts, equipment_id, temp, vibration, pressure, failure_type, analysis
FROM %s
ORDER BY id ASC`, r.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]readings.Reading, 0)
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AttachAnalysis stores the diagnosis JSON on a reading.
func (r *ReadingRepository) AttachAnalysis(ctx context.Context, id int64, result diagnosis.Result) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET analysis = $2::jsonb, updated_at = NOW()
WHERE id = $1`, r.table), id, string(payload))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return readings.ErrNotFound
	}
	return nil
}

// Count returns the number of stored readings.
func (r *ReadingRepository) Count(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("reading repo: nil db")
	}
	var count int
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.table)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (readings.Reading, error) {
	var (
		reading  readings.Reading
		ts       time.Time
		analysis []byte
	)
	if err := row.Scan(
		&reading.ID,
		&ts,
		&reading.EquipmentID,
		&reading.Temp,
		&reading.Vibration,
		&reading.Pressure,
		&reading.FailureType,
		&analysis,
	); err != nil {
		return readings.Reading{}, err
	}
	reading.Timestamp = ts.UTC()
	if len(analysis) > 0 {
		var result diagnosis.Result
		if err := json.Unmarshal(analysis, &result); err != nil {
			return readings.Reading{}, fmt.Errorf("reading repo: decode analysis for id %d: %w", reading.ID, err)
		}
		reading.Analysis = &result
	}
	return reading, nil
}
