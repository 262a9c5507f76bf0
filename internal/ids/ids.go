// Package ids generates identifiers for records, change log entries and
// flush correlation tokens.
package ids

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewEntryID returns a ULID for a change log entry created at t.
// ULIDs sort lexically by creation time, and entries minted within the same
// millisecond stay strictly increasing.
func NewEntryID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// NewWriteID returns a correlation token for one coalesced flush.
func NewWriteID() string {
	return ulid.Make().String()
}

// NewRecordID returns a random record identifier.
func NewRecordID() string {
	return uuid.New().String()
}

// EntryTime extracts the creation time encoded in an entry id.
func EntryTime(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
