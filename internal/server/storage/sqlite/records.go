package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/internal/server/storage"
)

const recordColumns = `id, fields, version, last_modified_by, last_modified_at`

// CreateRecord inserts a new record at version 1
func (s *Storage) CreateRecord(ctx context.Context, rec *models.Record) error {
	fields, err := encodeJSON(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	if rec.Version == 0 {
		rec.Version = 1
	}

	query := `
		INSERT INTO records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		fields,
		rec.Version,
		rec.LastModifiedBy,
		timeToNanos(rec.LastModifiedAt),
	)

	if err != nil {
		// Проверяем на duplicate id
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return storage.ErrRecordExists
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}

	return nil
}

// GetRecord retrieves a record by ID
func (s *Storage) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	return getRecord(ctx, s.db, id)
}

// ListRecords returns records ordered by ID
func (s *Storage) ListRecords(ctx context.Context, limit int) ([]*models.Record, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + recordColumns + ` FROM records ORDER BY id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}

// UpdateRecord applies patch atomically and returns the committed record
// together with the previous values of the patched fields
func (s *Storage) UpdateRecord(ctx context.Context, id string, patch models.Patch, at time.Time) (*models.UpdateResult, error) {
	var result *models.UpdateResult

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecord(ctx, tx, id)
		if err != nil {
			return err
		}

		result, err = writePatch(ctx, tx, rec, patch, at)
		return err
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// writePatch commits patch on top of rec inside the caller's transaction
func writePatch(ctx context.Context, q querier, rec *models.Record, patch models.Patch, at time.Time) (*models.UpdateResult, error) {
	result := models.ApplyPatch(rec, patch, at)

	fields, err := encodeJSON(result.Record.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}

	query := `
		UPDATE records
		SET fields = ?, version = ?, last_modified_by = ?, last_modified_at = ?
		WHERE id = ? AND version = ?
	`

	res, err := q.ExecContext(ctx, query,
		fields,
		result.Record.Version,
		result.Record.LastModifiedBy,
		timeToNanos(result.Record.LastModifiedAt),
		rec.ID,
		rec.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("record %s changed concurrently", rec.ID)
	}

	return result, nil
}

func getRecord(ctx context.Context, q querier, id string) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = ?`

	rec, err := scanRecord(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	rec := &models.Record{}
	var fields string
	var modifiedAt int64

	if err := row.Scan(&rec.ID, &fields, &rec.Version, &rec.LastModifiedBy, &modifiedAt); err != nil {
		return nil, err
	}

	decoded, err := decodeFields(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode fields of record %s: %w", rec.ID, err)
	}
	rec.Fields = decoded
	rec.LastModifiedAt = nanosToTime(modifiedAt)

	return rec, nil
}
