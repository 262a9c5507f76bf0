// Package draft holds the per-session local edit state of open records.
//
// A draft field is dirty from the moment it is edited until the flush that
// carried that exact edit is confirmed by the record store. Drafts live only
// as long as the session; they are never persisted.
package draft

import (
	"maps"
	"sync"

	"github.com/iudanet/rollcall/internal/models"
)

// ResultKind tags the outcome of the last write attempt of a field.
type ResultKind int

// ResultKind values.
const (
	ResultOK ResultKind = iota
	ResultPending
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultPending:
		return "pending"
	case ResultFailed:
		return "failed"
	}
	return "unknown"
}

// Result is Ok(confirmed) | Pending | Failed(reason).
type Result struct {
	Confirmed any
	Reason    string
	Kind      ResultKind
}

// Entry is a snapshot of one field's draft state.
type Entry struct {
	Value          any
	Confirmed      any
	Result         Result
	PendingWriteID string
	Dirty          bool
}

type remote struct {
	value   any
	version int64
}

type field struct {
	value     any
	confirmed any
	remote    *remote // значение, пришедшее извне, пока поле было грязным
	result    Result
	writeID   string
	gen       uint64 // поколение последней правки
	flushGen  uint64 // поколение, отправленное текущим flush
	dirty     bool
	inFlight  bool
}

type record struct {
	fields  map[string]*field
	version int64
	open    bool
}

// Buffer is the draft store of one session. It is safe for concurrent use.
type Buffer struct {
	records map[string]*record
	mu      sync.Mutex
	gen     uint64
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{records: make(map[string]*record)}
}

// Open loads the confirmed state of a record. Drafts that already exist for
// the record are kept; clean fields take the loaded values.
func (b *Buffer) Open(rec *models.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.record(rec.ID)
	r.open = true
	b.refreshLocked(r, rec)
}

// IsOpen reports whether a view of the record is open.
func (b *Buffer) IsOpen(recordID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[recordID]
	return ok && r.open
}

// Version returns the latest committed version the buffer knows of.
func (b *Buffer) Version(recordID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.records[recordID]; ok {
		return r.version
	}
	return 0
}

// Set records a local edit and marks the field dirty.
func (b *Buffer) Set(recordID, name string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gen++
	f := b.field(b.record(recordID), name)
	f.value = models.CloneValue(value)
	f.dirty = true
	f.gen = b.gen
	if !f.inFlight {
		f.result = Result{Kind: ResultPending}
	}
}

// Get returns the dirty local value if there is one, else the last confirmed value.
func (b *Buffer) Get(recordID, name string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.records[recordID]
	if !ok {
		return nil, false
	}
	f, ok := r.fields[name]
	if !ok {
		return nil, false
	}
	if f.dirty {
		return models.CloneValue(f.value), true
	}
	return models.CloneValue(f.confirmed), true
}

// Entry returns the draft state of one field.
func (b *Buffer) Entry(recordID, name string) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.records[recordID]
	if !ok {
		return Entry{}, false
	}
	f, ok := r.fields[name]
	if !ok {
		return Entry{}, false
	}
	return f.snapshot(), true
}

// Fields returns the current view of the record: drafts over confirmed values.
func (b *Buffer) Fields(recordID string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.records[recordID]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(r.fields))
	for name, f := range r.fields {
		if f.dirty {
			out[name] = models.CloneValue(f.value)
		} else {
			out[name] = models.CloneValue(f.confirmed)
		}
	}
	return out
}

// Dirty returns the names of dirty fields in lexical order.
func (b *Buffer) Dirty(recordID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.records[recordID]
	if !ok {
		return nil
	}
	dirty := make(map[string]struct{})
	for name, f := range r.fields {
		if f.dirty {
			dirty[name] = struct{}{}
		}
	}
	return models.SortedKeys(dirty)
}

// HasDirty reports whether the record has at least one dirty field.
func (b *Buffer) HasDirty(recordID string) bool {
	return len(b.Dirty(recordID)) > 0
}

// Flush is one coalesced write: the union of fields edited since the last
// flush started, at the generation each had when this flush began.
type Flush struct {
	Fields   map[string]any
	gens     map[string]uint64
	RecordID string
	WriteID  string
}

// Names returns the flushed field names in lexical order.
func (f *Flush) Names() []string {
	return models.SortedKeys(f.Fields)
}

// BeginFlush collects the dirty fields of a record into a flush.
// Fields whose draft equals the newest known store value are cleaned without
// a write: the remote value kept while the field was dirty, else the confirmed one.
// ok is false when nothing needs writing.
func (b *Buffer) BeginFlush(recordID, writeID string) (flush *Flush, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, exists := b.records[recordID]
	if !exists {
		return nil, false
	}

	flush = &Flush{
		RecordID: recordID,
		WriteID:  writeID,
		Fields:   make(map[string]any),
		gens:     make(map[string]uint64),
	}
	for name, f := range r.fields {
		if !f.dirty {
			continue
		}
		latest := f.confirmed
		if f.remote != nil {
			latest = f.remote.value
		}
		if models.ValuesEqual(f.value, latest) {
			f.confirmed = models.CloneValue(latest)
			f.remote = nil
			f.dirty = false
			f.result = Result{Kind: ResultOK, Confirmed: models.CloneValue(f.confirmed)}
			continue
		}
		flush.Fields[name] = models.CloneValue(f.value)
		flush.gens[name] = f.gen
		f.flushGen = f.gen
		f.inFlight = true
		f.writeID = writeID
		f.result = Result{Kind: ResultPending}
	}

	if len(flush.Fields) == 0 {
		return nil, false
	}
	return flush, true
}

// CompleteFlush confirms a committed flush. A field stays dirty when it was
// edited again after the flush began. Remote values seen while a field was
// dirty are compared with the outcome and reported as conflicts.
func (b *Buffer) CompleteFlush(flush *Flush, res *models.UpdateResult) []*models.ConflictWarning {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Запись могла быть закрыта, пока flush был в полете
	r, ok := b.records[flush.RecordID]
	if !ok {
		return nil
	}
	var conflicts []*models.ConflictWarning

	for _, name := range flush.Names() {
		f := b.field(r, name)
		f.inFlight = false
		f.writeID = ""

		committed, _ := res.Record.Field(name)
		local := flush.Fields[name]
		f.confirmed = models.CloneValue(committed)

		if rv := f.remote; rv != nil && !models.ValuesEqual(rv.value, local) {
			// Более поздняя внешняя запись перекрывает нашу
			if rv.version > res.Record.Version {
				f.confirmed = models.CloneValue(rv.value)
			}
			conflicts = append(conflicts, &models.ConflictWarning{
				RecordID: flush.RecordID,
				Field:    name,
				Local:    models.CloneValue(local),
				Remote:   models.CloneValue(rv.value),
				Kept:     rv.version < res.Record.Version,
			})
		}

		f.remote = nil
		switch {
		case f.gen == flush.gens[name]:
			f.dirty = false
			f.value = models.CloneValue(f.confirmed)
			f.result = Result{Kind: ResultOK, Confirmed: models.CloneValue(f.confirmed)}
		case f.dirty:
			// Правка во время flush уйдет следующим flush
			f.result = Result{Kind: ResultPending}
		default:
			// Черновик сброшен, пока flush был в полете
			f.value = models.CloneValue(f.confirmed)
			f.result = Result{Kind: ResultOK, Confirmed: models.CloneValue(f.confirmed)}
		}
	}

	// Остальные поля берем из зафиксированной записи
	b.refreshLocked(r, res.Record)

	return conflicts
}

// FailFlush marks the fields of a failed flush. Drafts stay dirty so the
// write can be retried.
func (b *Buffer) FailFlush(flush *Flush, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.records[flush.RecordID]
	if !ok {
		return
	}
	for name := range flush.Fields {
		f := b.field(r, name)
		f.inFlight = false
		f.writeID = ""
		f.result = Result{Kind: ResultFailed, Reason: reason}
	}
}

// Applied describes how a remote change event was merged.
type Applied struct {
	Overwritten []string // чистые поля, принявшие удаленное значение
	Kept        []string // грязные поля, сохранившие локальную правку
	Ignored     bool     // запись не открыта
	Stale       bool     // дубликат или устаревшая версия
}

// ApplyRemote merges a change event into an open record. Clean fields take
// the remote value; dirty fields keep the draft and remember the remote value.
// Events at or below the known version are dropped.
func (b *Buffer) ApplyRemote(ev models.ChangeEvent) Applied {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.records[ev.RecordID]
	if !ok || !r.open {
		return Applied{Ignored: true}
	}
	if ev.Version <= r.version {
		return Applied{Stale: true}
	}
	r.version = ev.Version

	var applied Applied
	for _, name := range models.SortedKeys(ev.ChangedFields) {
		v := ev.ChangedFields[name]
		f := b.field(r, name)
		if f.dirty {
			if f.remote == nil || f.remote.version < ev.Version {
				f.remote = &remote{value: models.CloneValue(v), version: ev.Version}
			}
			applied.Kept = append(applied.Kept, name)
			continue
		}
		f.confirmed = models.CloneValue(v)
		f.value = models.CloneValue(v)
		f.result = Result{Kind: ResultOK, Confirmed: models.CloneValue(v)}
		applied.Overwritten = append(applied.Overwritten, name)
	}
	return applied
}

// Refresh replaces the confirmed state of a record with a freshly read copy,
// as after a feed reconnect. Dirty fields keep their drafts; a differing
// remote value is remembered for conflict reporting.
func (b *Buffer) Refresh(rec *models.Record) Applied {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.records[rec.ID]
	if !ok || !r.open {
		return Applied{Ignored: true}
	}
	if rec.Version <= r.version {
		return Applied{Stale: true}
	}
	return b.refreshLocked(r, rec)
}

func (b *Buffer) refreshLocked(r *record, rec *models.Record) Applied {
	var applied Applied
	if rec.Version < r.version {
		return Applied{Stale: true}
	}
	r.version = rec.Version

	for _, name := range models.SortedKeys(rec.Fields) {
		v := rec.Fields[name]
		f := b.field(r, name)
		if f.dirty {
			if !f.inFlight && !models.ValuesEqual(v, f.confirmed) &&
				(f.remote == nil || f.remote.version < rec.Version) {
				f.remote = &remote{value: models.CloneValue(v), version: rec.Version}
				applied.Kept = append(applied.Kept, name)
			}
			continue
		}
		if !models.ValuesEqual(v, f.confirmed) {
			applied.Overwritten = append(applied.Overwritten, name)
		}
		f.confirmed = models.CloneValue(v)
		f.value = models.CloneValue(v)
		if f.result.Kind != ResultFailed {
			f.result = Result{Kind: ResultOK, Confirmed: models.CloneValue(v)}
		}
	}
	return applied
}

// Discard drops dirty drafts and returns the dropped values. An empty names
// list discards every dirty field of the record. Fields carried by an
// in-flight flush are dropped too; the flush outcome then only updates the
// confirmed value.
func (b *Buffer) Discard(recordID string, names ...string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.records[recordID]
	if !ok {
		return nil
	}

	dropped := make(map[string]any)
	drop := func(name string, f *field) {
		if !f.dirty {
			return
		}
		dropped[name] = models.CloneValue(f.value)
		f.dirty = false
		f.remote = nil
		f.value = models.CloneValue(f.confirmed)
		f.result = Result{Kind: ResultOK, Confirmed: models.CloneValue(f.confirmed)}
		// Новое поколение: результат текущего flush не должен считаться правкой
		b.gen++
		f.gen = b.gen
	}

	if len(names) == 0 {
		for name, f := range r.fields {
			drop(name, f)
		}
	} else {
		for _, name := range names {
			if f, ok := r.fields[name]; ok {
				drop(name, f)
			}
		}
	}
	return dropped
}

// Close tears down the record's drafts. Callers flush or discard first.
func (b *Buffer) Close(recordID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, recordID)
}

// Records returns the ids of all records held in the buffer.
func (b *Buffer) Records() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.SortedKeys(b.records)
}

// OpenRecords returns ids of records with an open view.
func (b *Buffer) OpenRecords() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	open := maps.Clone(b.records)
	maps.DeleteFunc(open, func(_ string, r *record) bool { return !r.open })
	return models.SortedKeys(open)
}

func (b *Buffer) record(id string) *record {
	r, ok := b.records[id]
	if !ok {
		r = &record{fields: make(map[string]*field)}
		b.records[id] = r
	}
	return r
}

func (b *Buffer) field(r *record, name string) *field {
	f, ok := r.fields[name]
	if !ok {
		f = &field{}
		r.fields[name] = f
	}
	return f
}

func (f *field) snapshot() Entry {
	e := Entry{
		Confirmed:      models.CloneValue(f.confirmed),
		Result:         f.result,
		PendingWriteID: f.writeID,
		Dirty:          f.dirty,
	}
	e.Result.Confirmed = models.CloneValue(f.result.Confirmed)
	if f.dirty {
		e.Value = models.CloneValue(f.value)
	} else {
		e.Value = models.CloneValue(f.confirmed)
	}
	return e
}
