package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/iudanet/rollcall/internal/client/storage"
	"github.com/iudanet/rollcall/internal/models"
)

const keyLastEventAt = "last_event_at"

// cachedRecord is the msgpack form of a cached record
type cachedRecord struct {
	LastModifiedAt time.Time      `msgpack:"modified_at"`
	Fields         map[string]any `msgpack:"fields"`
	ID             string         `msgpack:"id"`
	LastModifiedBy string         `msgpack:"modified_by"`
	Version        int64          `msgpack:"version"`
}

// PutRecord stores a full record unless a newer version is cached
func (s *Storage) PutRecord(ctx context.Context, rec *models.Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return fmt.Errorf("records bucket not found")
		}

		cached, err := loadRecord(bucket, rec.ID)
		if err != nil {
			return err
		}
		if cached != nil && cached.Version > rec.Version {
			return nil
		}

		return saveRecord(bucket, &cachedRecord{
			ID:             rec.ID,
			Fields:         models.CloneFields(rec.Fields),
			Version:        rec.Version,
			LastModifiedBy: rec.LastModifiedBy,
			LastModifiedAt: rec.LastModifiedAt,
		})
	})
}

// ApplyEvent merges a feed event into the cached record.
// Событие для незнакомой записи создает частичную копию только с изменившимися полями.
func (s *Storage) ApplyEvent(ctx context.Context, ev models.ChangeEvent) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return fmt.Errorf("records bucket not found")
		}

		cached, err := loadRecord(bucket, ev.RecordID)
		if err != nil {
			return err
		}
		if cached == nil {
			cached = &cachedRecord{ID: ev.RecordID, Fields: make(map[string]any, len(ev.ChangedFields))}
		}
		if ev.Version <= cached.Version {
			return nil
		}

		for name, v := range ev.ChangedFields {
			cached.Fields[name] = models.CloneValue(v)
		}
		cached.Version = ev.Version
		cached.LastModifiedBy = ev.ActorID
		cached.LastModifiedAt = ev.At

		if err := saveRecord(bucket, cached); err != nil {
			return err
		}

		return touchLastEventAt(tx, ev.At)
	})
}

// GetRecord returns a cached record
func (s *Storage) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	var rec *models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return fmt.Errorf("records bucket not found")
		}

		cached, err := loadRecord(bucket, id)
		if err != nil {
			return err
		}
		if cached == nil {
			return storage.ErrRecordNotFound
		}
		rec, err = cached.toModel()
		return err
	})

	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRecords returns cached records ordered by ID
func (s *Storage) ListRecords(ctx context.Context) ([]*models.Record, error) {
	var records []*models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return fmt.Errorf("records bucket not found")
		}

		// Ключи bbolt отсортированы побайтно
		return bucket.ForEach(func(k, v []byte) error {
			var cached cachedRecord
			if err := msgpack.Unmarshal(v, &cached); err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %w", k, err)
			}
			rec, err := cached.toModel()
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteRecord drops a record from the cache
func (s *Storage) DeleteRecord(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return fmt.Errorf("records bucket not found")
		}
		return bucket.Delete([]byte(id))
	})
}

// LastEventAt returns the commit time of the newest applied event
func (s *Storage) LastEventAt(ctx context.Context) (time.Time, error) {
	var at time.Time

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		raw := bucket.Get([]byte(keyLastEventAt))
		if raw == nil {
			return nil
		}
		at = time.Unix(0, int64(binary.BigEndian.Uint64(raw))).UTC()
		return nil
	})

	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last event time: %w", err)
	}
	return at, nil
}

func touchLastEventAt(tx *bbolt.Tx, at time.Time) error {
	bucket := tx.Bucket(bucketMetadata)
	if bucket == nil {
		return fmt.Errorf("metadata bucket not found")
	}

	if raw := bucket.Get([]byte(keyLastEventAt)); raw != nil {
		if int64(binary.BigEndian.Uint64(raw)) >= at.UnixNano() {
			return nil
		}
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(at.UnixNano()))
	if err := bucket.Put([]byte(keyLastEventAt), buf); err != nil {
		return fmt.Errorf("failed to save last event time: %w", err)
	}
	return nil
}

func loadRecord(bucket *bbolt.Bucket, id string) (*cachedRecord, error) {
	raw := bucket.Get([]byte(id))
	if raw == nil {
		return nil, nil
	}

	var cached cachedRecord
	if err := msgpack.Unmarshal(raw, &cached); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}
	if cached.Fields == nil {
		cached.Fields = map[string]any{}
	}
	return &cached, nil
}

func saveRecord(bucket *bbolt.Bucket, cached *cachedRecord) error {
	data, err := msgpack.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", cached.ID, err)
	}
	if err := bucket.Put([]byte(cached.ID), data); err != nil {
		return fmt.Errorf("failed to save record %s: %w", cached.ID, err)
	}
	return nil
}

// toModel приводит значения к JSON-совместимым типам:
// msgpack возвращает целые числа как int8..int64
func (c *cachedRecord) toModel() (*models.Record, error) {
	fields := make(map[string]any, len(c.Fields))
	for name, v := range c.Fields {
		norm, err := models.NormalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize field %s of record %s: %w", name, c.ID, err)
		}
		fields[name] = norm
	}

	return &models.Record{
		ID:             c.ID,
		Fields:         fields,
		Version:        c.Version,
		LastModifiedBy: c.LastModifiedBy,
		LastModifiedAt: c.LastModifiedAt.UTC(),
	}, nil
}
