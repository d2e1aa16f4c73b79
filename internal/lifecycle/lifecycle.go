// Package lifecycle derives a document's processing status, progress and
// retry eligibility from its event log. Every function here is pure and
// accepts events in any order.
package lifecycle

import (
	"sort"
	"time"

	"github.com/sells-group/fin-ingest/internal/model"
)

// Status is the externally visible processing state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusUnknown    Status = "unknown"
)

// MaxRetries is the number of retry_initiated events after which a
// document may no longer be resubmitted.
const MaxRetries = 5

const unknownError = "Unknown error occurred"

// DeriveStatus applies a fixed precedence: a failed event wins over
// completion, which wins over in-flight work, which wins over queued.
func DeriveStatus(events []model.ProcessingEvent) Status {
	seen := eventSet(events)
	switch {
	case seen[model.EventFailed]:
		return StatusFailed
	case seen[model.EventValidationCompleted]:
		return StatusCompleted
	case seen[model.EventValidationStarted], seen[model.EventExtractionStarted]:
		return StatusProcessing
	case seen[model.EventQueued], seen[model.EventIngestionStarted]:
		return StatusQueued
	default:
		return StatusUnknown
	}
}

// Stage is one step of the pipeline as reported to callers.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageUpload     Stage = "upload"
	StageIngestion  Stage = "ingestion"
	StageExtraction Stage = "extraction"
	StageValidation Stage = "validation"
)

var stages = []struct {
	name     Stage
	triggers []model.EventType
}{
	{StageUpload, []model.EventType{model.EventQueued}},
	{StageIngestion, []model.EventType{model.EventIngestionStarted}},
	{StageExtraction, []model.EventType{model.EventExtractionStarted, model.EventExtractionCompleted}},
	{StageValidation, []model.EventType{model.EventValidationStarted, model.EventValidationCompleted}},
}

// Progress reports which stages have been reached.
type Progress struct {
	CurrentStage         Stage   `json:"current_stage"`
	StagesCompleted      []Stage `json:"stages_completed"`
	CompletionPercentage int     `json:"completion_percentage"`
}

// CalculateProgress counts a stage as done when any of its trigger events
// is present. Stages may be reached out of order.
func CalculateProgress(events []model.ProcessingEvent) Progress {
	seen := eventSet(events)
	p := Progress{CurrentStage: StageQueued, StagesCompleted: []Stage{}}
	for _, st := range stages {
		for _, et := range st.triggers {
			if seen[et] {
				p.StagesCompleted = append(p.StagesCompleted, st.name)
				p.CurrentStage = st.name
				break
			}
		}
	}
	p.CompletionPercentage = 100 * len(p.StagesCompleted) / len(stages)
	return p
}

// Timestamps are the milestones shown in the status payload.
type Timestamps struct {
	UploadedAt          *time.Time `json:"uploaded_at"`
	StartedProcessingAt *time.Time `json:"started_processing_at"`
	CompletedAt         *time.Time `json:"completed_at"`
}

// ExtractTimestamps takes the earliest upload and extraction start and the
// latest validation completion.
func ExtractTimestamps(events []model.ProcessingEvent) Timestamps {
	var ts Timestamps
	for _, e := range oldestFirst(events) {
		at := e.Timestamp
		switch e.EventType {
		case model.EventQueued, model.EventIngestionStarted:
			if ts.UploadedAt == nil {
				ts.UploadedAt = &at
			}
		case model.EventExtractionStarted:
			if ts.StartedProcessingAt == nil {
				ts.StartedProcessingAt = &at
			}
		case model.EventValidationCompleted:
			ts.CompletedAt = &at
		}
	}
	return ts
}

// ErrorMessage returns the error text of the most recent failed event,
// or "" when the document has not failed.
func ErrorMessage(events []model.ProcessingEvent) string {
	ordered := oldestFirst(events)
	for i := len(ordered) - 1; i >= 0; i-- {
		e := ordered[i]
		if e.EventType != model.EventFailed {
			continue
		}
		if e.Data.Error == "" {
			return unknownError
		}
		return e.Data.Error
	}
	return ""
}

// EstimatedCompletion projects the first extraction start forward by the
// processing timeout. It returns nil when extraction has not started or
// the projection is already in the past.
func EstimatedCompletion(events []model.ProcessingEvent, now time.Time, timeout time.Duration) *time.Time {
	for _, e := range oldestFirst(events) {
		if e.EventType != model.EventExtractionStarted {
			continue
		}
		eta := e.Timestamp.Add(timeout)
		if eta.After(now) {
			return &eta
		}
		return nil
	}
	return nil
}

// RetryCount is the number of retry_initiated events.
func RetryCount(events []model.ProcessingEvent) int {
	n := 0
	for _, e := range events {
		if e.EventType == model.EventRetryInitiated {
			n++
		}
	}
	return n
}

func eventSet(events []model.ProcessingEvent) map[model.EventType]bool {
	seen := make(map[model.EventType]bool, len(events))
	for _, e := range events {
		seen[e.EventType] = true
	}
	return seen
}

// oldestFirst returns a copy sorted by timestamp. Ties keep their input
// order reversed, since stores return logs newest first.
func oldestFirst(events []model.ProcessingEvent) []model.ProcessingEvent {
	out := make([]model.ProcessingEvent, len(events))
	for i, e := range events {
		out[len(events)-1-i] = e
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
