package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/internal/server/storage"
)

const entryColumns = `seq, id, record_id, action_type, before_values, after_values,
		       actor_id, created_at, record_version, metadata`

// AppendEntry appends an entry to the change log.
// A retried append of an already stored ID returns the stored entry.
func (s *Storage) AppendEntry(ctx context.Context, entry *models.ChangeLogEntry) (*models.ChangeLogEntry, error) {
	var stored *models.ChangeLogEntry

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stored, err = appendEntry(ctx, tx, entry)
		return err
	})

	if err != nil {
		return nil, err
	}

	return stored, nil
}

// GetEntry retrieves a single entry by ID
func (s *Storage) GetEntry(ctx context.Context, id string) (*models.ChangeLogEntry, error) {
	return getEntry(ctx, s.db, id)
}

// ListEntries returns a page of one record's entries, most recent first.
// Order is by commit: record version, then append sequence.
func (s *Storage) ListEntries(ctx context.Context, q models.HistoryQuery) ([]*models.ChangeLogEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = models.DefaultHistoryLimit
	}

	query := `SELECT ` + entryColumns + ` FROM change_log WHERE record_id = ?`
	args := []any{q.RecordID}

	if !q.Before.IsZero() {
		query += ` AND (record_version < ? OR (record_version = ? AND seq < ?))`
		args = append(args, q.Before.RecordVersion, q.Before.RecordVersion, q.Before.Seq)
	}

	query += ` ORDER BY record_version DESC, seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	entries := make([]*models.ChangeLogEntry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, nil
}

func appendEntry(ctx context.Context, q querier, entry *models.ChangeLogEntry) (*models.ChangeLogEntry, error) {
	if entry.ID == "" || entry.RecordID == "" || !entry.ActionType.Valid() {
		return nil, storage.ErrInvalidEntry
	}

	existing, err := getEntry(ctx, q, entry.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrEntryNotFound) {
		return nil, err
	}

	before, err := encodeJSON(nonNilFields(entry.Before))
	if err != nil {
		return nil, fmt.Errorf("failed to encode before values: %w", err)
	}
	after, err := encodeJSON(nonNilFields(entry.After))
	if err != nil {
		return nil, fmt.Errorf("failed to encode after values: %w", err)
	}

	var meta sql.NullString
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		meta = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO change_log (
			id, record_id, action_type, before_values, after_values,
			actor_id, created_at, record_version, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := q.ExecContext(ctx, query,
		entry.ID,
		entry.RecordID,
		string(entry.ActionType),
		before,
		after,
		entry.ActorID,
		timeToNanos(entry.CreatedAt),
		entry.RecordVersion,
		meta,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert entry: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get entry seq: %w", err)
	}

	stored := entry.Clone()
	stored.Seq = seq
	stored.CreatedAt = nanosToTime(timeToNanos(entry.CreatedAt))
	return stored, nil
}

func getEntry(ctx context.Context, q querier, id string) (*models.ChangeLogEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM change_log WHERE id = ?`

	entry, err := scanEntry(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	return entry, nil
}

func scanEntry(row scanner) (*models.ChangeLogEntry, error) {
	entry := &models.ChangeLogEntry{}
	var action, before, after string
	var meta sql.NullString
	var createdAt int64

	err := row.Scan(
		&entry.Seq,
		&entry.ID,
		&entry.RecordID,
		&action,
		&before,
		&after,
		&entry.ActorID,
		&createdAt,
		&entry.RecordVersion,
		&meta,
	)
	if err != nil {
		return nil, err
	}

	entry.ActionType = models.ActionType(action)
	entry.CreatedAt = nanosToTime(createdAt)

	if entry.Before, err = decodeFields(before); err != nil {
		return nil, fmt.Errorf("failed to decode before values: %w", err)
	}
	if entry.After, err = decodeFields(after); err != nil {
		return nil, fmt.Errorf("failed to decode after values: %w", err)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}

	return entry, nil
}

func nonNilFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return fields
}

// RestoreFromLog restores the fields documented by the target entry to their
// "before" values and appends the restore entry, in one transaction.
func (s *Storage) RestoreFromLog(ctx context.Context, req models.RestoreRequest, entryID string, at time.Time) (*models.RestoreResult, error) {
	if entryID == "" {
		return nil, storage.ErrInvalidEntry
	}

	var result *models.RestoreResult

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Повтор уже примененного восстановления ничего не пишет
		if done, err := getEntry(ctx, tx, entryID); err == nil {
			rec, err := getRecord(ctx, tx, done.RecordID)
			if err != nil {
				return err
			}
			result = models.ReplayedRestore(done, rec)
			return nil
		} else if !errors.Is(err, storage.ErrEntryNotFound) {
			return err
		}

		source, err := getEntry(ctx, tx, req.TargetLogEntryID)
		if err != nil {
			return err
		}

		values, missing := models.RestoreTarget(source, req.Fields)
		if len(missing) > 0 {
			return fmt.Errorf("%w: %v", storage.ErrFieldNotInEntry, missing)
		}

		rec, err := getRecord(ctx, tx, source.RecordID)
		if err != nil {
			return err
		}

		updated, err := writePatch(ctx, tx, rec, models.Patch{Fields: values, ActorID: req.ActorID}, at)
		if err != nil {
			return err
		}

		fields := models.SortedKeys(values)
		entry, err := appendEntry(ctx, tx, models.NewRestoreEntry(entryID, source, updated, fields))
		if err != nil {
			return err
		}

		result = &models.RestoreResult{
			Status:         models.RestoreSuccess,
			Record:         updated.Record,
			Entry:          entry,
			NewValues:      values,
			RestoredFields: fields,
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}
