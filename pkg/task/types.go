package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the logical state of a task shared by both systems
type Status string

const (
	StatusOpen Status = "OPEN"
	StatusDone Status = "DONE"
)

// Valid reports whether s is one of the two known states
func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusDone
}

// System identifies one side of the sync
type System string

const (
	// SystemList is the task-list service (Google Tasks)
	SystemList System = "google"
	// SystemDB is the document-database service (Notion)
	SystemDB System = "notion"
)

// Opposite returns the other side of the sync
func (s System) Opposite() System {
	if s == SystemList {
		return SystemDB
	}
	return SystemList
}

// DateLayout is the wire format of a date-only value
const DateLayout = "2006-01-02"

// Date is a calendar date without time-of-day
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate accepts "2006-01-02" or any RFC3339 timestamp and keeps only the
// calendar date as written, ignoring the offset.
func ParseDate(s string) (Date, error) {
	if len(s) < len(DateLayout) {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	t, err := time.Parse(DateLayout, s[:len(DateLayout)])
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// String formats the date as "2006-01-02"
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Midnight returns the date at 00:00:00 UTC
func (d Date) Midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// NormalizedTask is the system-agnostic representation used to move a task
// from one system to the other.
type NormalizedTask struct {
	ID                     string    `json:"id"`
	Title                  string    `json:"title"`
	Status                 Status    `json:"status"`
	Due                    *Date     `json:"due,omitempty"`
	LastEdited             time.Time `json:"last_edited"`
	LastEditedByAutomation bool      `json:"last_edited_by_automation"`
}

// CorrelationPair links a source task to the task created from it
type CorrelationPair struct {
	SourceID  string `json:"source_id"`
	CreatedID string `json:"created_id"`
}

// MappingEntry is one persisted identity link between the two systems.
// CompletedAt is reserved for pruning mappings of long-completed tasks.
type MappingEntry struct {
	ListID      string
	DBID        string
	CompletedAt *Date
}

// MarshalJSON encodes the entry as a [listId, dbId, completedAt?] tuple
func (m MappingEntry) MarshalJSON() ([]byte, error) {
	tuple := []interface{}{m.ListID, m.DBID}
	if m.CompletedAt != nil {
		tuple = append(tuple, m.CompletedAt.String())
	}
	return json.Marshal(tuple)
}

// UnmarshalJSON decodes a [listId, dbId, completedAt?] tuple
func (m *MappingEntry) UnmarshalJSON(data []byte) error {
	var tuple []*string
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("decoding mapping entry: %w", err)
	}
	if len(tuple) < 2 || len(tuple) > 3 || tuple[0] == nil || tuple[1] == nil {
		return fmt.Errorf("mapping entry must be a [listId, dbId, completedAt?] tuple, got %s", string(data))
	}
	m.ListID = *tuple[0]
	m.DBID = *tuple[1]
	m.CompletedAt = nil
	if len(tuple) == 3 && tuple[2] != nil {
		d, err := ParseDate(*tuple[2])
		if err != nil {
			return err
		}
		m.CompletedAt = &d
	}
	return nil
}

// Mapping is the append-only list of identity links for one user
type Mapping []MappingEntry

// Append returns a new mapping with pairs appended. sourceSide tells which
// system the pairs' source ids belong to.
func (m Mapping) Append(sourceSide System, pairs []CorrelationPair) Mapping {
	out := make(Mapping, 0, len(m)+len(pairs))
	out = append(out, m...)
	for _, p := range pairs {
		if sourceSide == SystemList {
			out = append(out, MappingEntry{ListID: p.SourceID, DBID: p.CreatedID})
		} else {
			out = append(out, MappingEntry{ListID: p.CreatedID, DBID: p.SourceID})
		}
	}
	return out
}
