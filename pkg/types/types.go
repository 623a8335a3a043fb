// Package types defines the core domain model shared across buildtrace.
package types

import "strconv"

// JobID identifies one generation of recorded state.
type JobID int64

// Valid reports whether the id can name a stored generation.
func (id JobID) Valid() bool { return id > 0 }

// Previous returns the generation before id.
func (id JobID) Previous() JobID { return id - 1 }

// String renders the id in base 10, the form used by the analytics sink.
func (id JobID) String() string { return strconv.FormatInt(int64(id), 10) }

// StateToken is the encoded attribute bundle of one entity in one snapshot.
// Layout: category_x_y_width_height.
type StateToken string

// StateMap maps entity id to its token for one snapshot.
type StateMap map[string]StateToken

// Snapshot is the full recorded state of all tracked entities at one job.
type Snapshot struct {
	JobID     JobID    `json:"job_id"`
	Timestamp string   `json:"timestamp"`
	LatencyMs int64    `json:"latency_ms"`
	State     StateMap `json:"state"`
}

// Empty reports whether the snapshot carries no entities.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.State) == 0
}

// DecodedToken is the structured view of a StateToken.
type DecodedToken struct {
	Category string `json:"category"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

// ChangeKind tags a ChangeRecord.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeRemoved   ChangeKind = "removed"
	ChangeModified  ChangeKind = "modified"
	ChangeUnchanged ChangeKind = "unchanged"
)

// ChangeRecord is the classification of a single entity between two snapshots.
// Description is set for ChangeAdded and ChangeModified. Decoded is set for
// ChangeAdded when the token's coordinates fit in an int.
type ChangeRecord struct {
	Kind        ChangeKind    `json:"kind"`
	EntityID    string        `json:"entity_id"`
	Decoded     *DecodedToken `json:"decoded,omitempty"`
	Description string        `json:"description,omitempty"`
}

// DiffReport is the human-readable change report for one job.
type DiffReport struct {
	JobID           JobID    `json:"job_id"`
	Added           []string `json:"added"`
	Removed         []string `json:"removed"`
	MovedOrModified []string `json:"moved_or_modified"`
	Summary         string   `json:"summary"`
	MetricsStatus   string   `json:"metrics_status"`
}

// MetricsRecord is the flattened quantitative view of a DiffReport, one row
// per report in the analytics sink.
type MetricsRecord struct {
	Timestamp      string `json:"timestamp"`
	JobID          string `json:"job_id"`
	LatencyMs      int64  `json:"latency_ms"`
	TotalAdded     int    `json:"total_added"`
	TotalRemoved   int    `json:"total_removed"`
	TotalModified  int    `json:"total_modified"`
	TotalUnchanged int    `json:"total_unchanged"`
}

// Total is the number of entities accounted for by the record.
func (m MetricsRecord) Total() int {
	return m.TotalAdded + m.TotalRemoved + m.TotalModified + m.TotalUnchanged
}
