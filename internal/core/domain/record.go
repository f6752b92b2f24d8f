package domain

import "time"

// Table maps a hardware model identifier (e.g. "iPhone10,3") to a
// human-readable device name (e.g. "iPhone X").
// A Table is never mutated once it has been published in a Record.
type Table map[string]string

// Lookup returns the display name for id, if present.
func (t Table) Lookup(id string) (string, bool) {
	name, ok := t[id]
	return name, ok
}

// Clone returns a shallow copy of the table.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Record is the unit that is persisted and loaded as a whole: the mapping
// table plus the time of the last successful refresh.
type Record struct {
	Table       Table `json:"table"`
	LastUpdated int64 `json:"last_updated"` // seconds since the Unix epoch
}

// UpdatedAt returns LastUpdated as a time.Time.
func (r Record) UpdatedAt() time.Time {
	return time.Unix(r.LastUpdated, 0)
}

// Age returns how many whole seconds have elapsed between the last refresh
// and now. Negative when now is before LastUpdated.
func (r Record) Age(now time.Time) int64 {
	return now.Unix() - r.LastUpdated
}

// IsStale reports whether rec must be refreshed at time now.
// An absent record is always stale; otherwise the record is stale once its
// age strictly exceeds ttl.
func IsStale(rec *Record, now time.Time, ttl time.Duration) bool {
	if rec == nil {
		return true
	}
	return rec.Age(now) > int64(ttl/time.Second)
}
