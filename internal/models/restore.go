package models

// RestoreStatus is the outcome of a restore operation.
type RestoreStatus string

// RestoreStatus values.
const (
	RestoreSuccess RestoreStatus = "success"
	RestoreError   RestoreStatus = "error"
)

// RestoreRequest asks the Record Store to put the fields documented by a
// change log entry back to the entry's "before" values.
// Fields narrows a compound entry to a subset; empty means every field.
// EntryID optionally fixes the id of the restore entry; a retried request with
// the same EntryID is answered from the already committed restore.
type RestoreRequest struct {
	TargetLogEntryID string   `json:"target_log_entry_id"`
	ActorID          string   `json:"actor_id"`
	EntryID          string   `json:"entry_id,omitempty"`
	Fields           []string `json:"fields,omitempty"`
}

// RestoreResult describes a committed (or failed) restore.
// Entry is the new change log entry of action type "restore"; it can itself
// be the target of a later restore.
type RestoreResult struct {
	Record         *Record         `json:"record,omitempty"`
	Entry          *ChangeLogEntry `json:"entry,omitempty"`
	NewValues      map[string]any  `json:"new_values,omitempty"`
	Status         RestoreStatus   `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	RestoredFields []string        `json:"restored_fields,omitempty"`
	Replayed       bool            `json:"replayed,omitempty"` // ответ на повтор уже примененного восстановления
}

// RestoreTarget computes the values a restore of entry writes: the entry's
// "before" value for each selected field. Fields absent from the entry are
// reported back in missing.
func RestoreTarget(entry *ChangeLogEntry, fields []string) (values map[string]any, missing []string) {
	if len(fields) == 0 {
		fields = entry.Fields()
	}
	values = make(map[string]any, len(fields))
	for _, f := range fields {
		if !entry.Touches(f) {
			missing = append(missing, f)
			continue
		}
		values[f] = CloneValue(entry.Before[f])
	}
	return values, missing
}

// NewRestoreEntry builds the log entry documenting a committed restore.
func NewRestoreEntry(id string, source *ChangeLogEntry, res *UpdateResult, fields []string) *ChangeLogEntry {
	return &ChangeLogEntry{
		ID:            id,
		RecordID:      res.Record.ID,
		ActionType:    ActionRestore,
		Before:        CloneFields(res.Previous),
		After:         res.After(fields),
		ActorID:       res.Record.LastModifiedBy,
		CreatedAt:     res.Record.LastModifiedAt,
		RecordVersion: res.Record.Version,
		Metadata:      map[string]string{MetaRestoredFrom: source.ID},
	}
}

// ReplayedRestore rebuilds the result of a restore that was already committed
// under the same entry id, so that a retried request is answered without a
// second write.
func ReplayedRestore(entry *ChangeLogEntry, rec *Record) *RestoreResult {
	return &RestoreResult{
		Status:         RestoreSuccess,
		Record:         rec,
		Entry:          entry,
		NewValues:      CloneFields(entry.After),
		RestoredFields: SortedKeys(entry.After),
		Replayed:       true,
	}
}
