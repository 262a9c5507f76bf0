package models

import (
	"sort"
	"time"
)

// Record представляет изменяемую сущность (например, участника мероприятия)
// с плоским набором именованных полей.
// Каждая зафиксированная запись несет LastModifiedBy/LastModifiedAt,
// которые обновляются атомарно вместе с любым изменением полей.
type Record struct {
	LastModifiedAt time.Time      `json:"last_modified_at"` // LastModifiedAt время последней фиксации
	Fields         map[string]any `json:"fields"`           // Fields значения полей (JSON-совместимые)
	ID             string         `json:"id"`               // ID уникальный идентификатор записи
	LastModifiedBy string         `json:"last_modified_by"` // LastModifiedBy идентификатор актора
	Version        int64          `json:"version"`          // Version монотонно растущая версия записи
}

// IsNewerThan reports whether the record carries a later committed version
// than the given one. Versions are assigned by the Record Store on every write.
func (r *Record) IsNewerThan(version int64) bool {
	return r.Version > version
}

// Field returns the value of the named field.
func (r *Record) Field(name string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[name]
	return v, ok
}

// FieldNames returns the record's field names in lexical order.
func (r *Record) FieldNames() []string {
	return SortedKeys(r.Fields)
}

// Clone создает глубокую копию записи
func (r *Record) Clone() *Record {
	return &Record{
		ID:             r.ID,
		Fields:         CloneFields(r.Fields),
		Version:        r.Version,
		LastModifiedBy: r.LastModifiedBy,
		LastModifiedAt: r.LastModifiedAt,
	}
}

// Patch is a set of field writes applied to one record in a single round trip.
type Patch struct {
	Fields  map[string]any `json:"fields"`
	ActorID string         `json:"actor_id"`
}

// Empty reports whether the patch writes nothing.
func (p Patch) Empty() bool {
	return len(p.Fields) == 0
}

// UpdateResult is what the Record Store returns for a committed patch.
// Previous holds the values the patched fields had right before the write,
// which is what the audit trail records as "before".
type UpdateResult struct {
	Record   *Record        `json:"record"`
	Previous map[string]any `json:"previous"`
}

// After returns the committed values of the patched fields.
func (u *UpdateResult) After(fields []string) map[string]any {
	after := make(map[string]any, len(fields))
	for _, f := range fields {
		v, _ := u.Record.Field(f)
		after[f] = CloneValue(v)
	}
	return after
}

// ApplyPatch returns the record that results from committing patch at time at.
// Fields, version and last-modified stamps move together.
func ApplyPatch(rec *Record, patch Patch, at time.Time) *UpdateResult {
	next := rec.Clone()
	if next.Fields == nil {
		next.Fields = make(map[string]any, len(patch.Fields))
	}

	previous := make(map[string]any, len(patch.Fields))
	for name, v := range patch.Fields {
		old, _ := rec.Field(name)
		previous[name] = CloneValue(old)
		next.Fields[name] = CloneValue(v)
	}

	next.Version++
	next.LastModifiedBy = patch.ActorID
	next.LastModifiedAt = at

	return &UpdateResult{Record: next, Previous: previous}
}

// SortedKeys returns map keys in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
