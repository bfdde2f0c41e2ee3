package catalog

import "time"

// Scope selects the slice of the catalog a query runs over.
type Scope struct {
	from *time.Time
}

// All is the unrestricted scope.
func All() Scope { return Scope{} }

// From restricts the scope to items scheduled at or after t.
func From(t time.Time) Scope { return Scope{from: &t} }

// IsRestricted reports whether the scope has a lower time bound.
func (s Scope) IsRestricted() bool { return s.from != nil }

// Since returns the lower time bound and whether one is set.
func (s Scope) Since() (time.Time, bool) {
	if s.from == nil {
		return time.Time{}, false
	}
	return *s.from, true
}

// Contains reports whether item falls inside the scope.
func (s Scope) Contains(item *Item) bool {
	if s.from == nil {
		return true
	}
	return item.ScheduledFrom(*s.from)
}
