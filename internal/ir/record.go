package ir

import "time"

// RecordVersion is the current deployment record schema version.
// Reading a record with an unknown version is a hard error, never a
// silent reset.
const RecordVersion = 1

// ContentHash is the deterministic digest of a unit's build inputs,
// including the folded-in hashes of its dependencies.
type ContentHash string

// Record is the persisted last-known-good deployment state per unit.
// It is the only long-lived state; single-writer, owned by the
// orchestrator, updated only after a unit's remote call is confirmed.
type Record struct {
	Version   int                     `json:"version"`
	UpdatedAt time.Time               `json:"updatedAt"`
	Units     map[string]*RecordEntry `json:"units"`
}

// RecordEntry is the last successful deployment of one unit.
type RecordEntry struct {
	ContentHash   ContentHash `json:"contentHash"`
	RemoteID      string      `json:"remoteId"`
	RemoteVersion string      `json:"remoteVersion,omitempty"`
	LastSuccess   time.Time   `json:"lastSuccess"`
}

// NewRecord returns an empty record at the current schema version.
func NewRecord() *Record {
	return &Record{
		Version: RecordVersion,
		Units:   make(map[string]*RecordEntry),
	}
}

// Entry looks up the recorded entry for a unit.
func (r *Record) Entry(id string) (*RecordEntry, bool) {
	e, ok := r.Units[id]
	return e, ok
}

// Clone returns a copy sharing the entry values. Entries are never
// mutated in place, so readers of a clone are isolated from concurrent
// Put and Drop calls on the original.
func (r *Record) Clone() *Record {
	units := make(map[string]*RecordEntry, len(r.Units))
	for id, e := range r.Units {
		units[id] = e
	}
	return &Record{Version: r.Version, UpdatedAt: r.UpdatedAt, Units: units}
}

// Put records a confirmed deployment for a unit.
func (r *Record) Put(id string, e *RecordEntry) {
	if r.Units == nil {
		r.Units = make(map[string]*RecordEntry)
	}
	r.Units[id] = e
	r.UpdatedAt = time.Now().UTC()
}

// Drop removes a unit's entry, forcing a rebuild on the next run.
func (r *Record) Drop(id string) {
	delete(r.Units, id)
	r.UpdatedAt = time.Now().UTC()
}
