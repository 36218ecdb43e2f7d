// Package rotation holds the data model shared by the rotation core's
// components: model metadata, rotation requests, memory snapshots, queue
// status, and the error taxonomy the Orchestrator surfaces.
package rotation

import "time"

// Priority orders queued rotation requests. Higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// ParsePriority maps a user-facing priority name to its Priority value.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "high":
		return PriorityHigh, true
	case "normal":
		return PriorityNormal, true
	case "low":
		return PriorityLow, true
	default:
		return 0, false
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ModelMetadata is the per-(provider, name) record the StateTracker keeps
// for every model it has ever observed.
type ModelMetadata struct {
	Name         string
	Provider     string
	LoadedAt     time.Time
	LastUsedAt   time.Time
	MemoryUsage  int64
	RequestCount int64
	ErrorCount   int64
}

// ActiveMap is the partial mapping provider -> currently active model name.
type ActiveMap map[string]string

// RotationRequest is one staged rotation in the Queue.
type RotationRequest struct {
	ID        string
	Provider  string
	ModelName string
	Priority  Priority
	Source    string
	Timestamp time.Time
}

// Key returns the deduplication identity of a request: two requests with
// the same Key are considered the same pending rotation.
func (r RotationRequest) Key() string {
	return r.Provider + "\x00" + r.ModelName + "\x00" + r.Source
}

// MemoryStats is a point-in-time snapshot of host and tracked-model memory.
type MemoryStats struct {
	TotalBytes     int64
	UsedBytes      int64
	AvailableBytes int64
	ModelBytes     int64
	Timestamp      time.Time
}

// PriorityBreakdown counts queued requests by priority.
type PriorityBreakdown struct {
	High   int
	Normal int
	Low    int
}

// QueueStatus summarizes the Queue's current state.
type QueueStatus struct {
	Size              int
	MaxSize           int
	IsProcessing      bool
	LastProcessedAt   time.Time
	PriorityBreakdown PriorityBreakdown
}

// Action describes what the Orchestrator actually did in response to a
// rotation request.
type Action string

const (
	ActionNoChange         Action = "no_change"
	ActionQueued           Action = "queued"
	ActionRotated          Action = "rotated"
	ActionForced           Action = "forced"
	ActionEmergencyCleanup Action = "emergency_cleanup"
	ActionNoCleanupNeeded  Action = "no_cleanup_needed"
)

// RotationOutcome is the result of a rotation request or cleanup action.
type RotationOutcome struct {
	Success      bool
	Provider     string
	Model        string
	Action       Action
	DurationMs   int64
	MemoryBefore MemoryStats
	MemoryAfter  MemoryStats
	Error        *RotationError
}

// HistoryEntry records one completed drain attempt, successful or not.
type HistoryEntry struct {
	Provider     string
	Model        string
	Start        time.Time
	End          time.Time
	DurationMs   int64
	IsForced     bool
	MemoryBefore MemoryStats
	MemoryAfter  MemoryStats
	Status       string // "success" | "failed"
}
