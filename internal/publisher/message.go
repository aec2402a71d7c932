// Package publisher defines the run-completed notification shared by the
// publisher implementations.
package publisher

import (
	"time"

	"github.com/JakeFAU/search-fetch/internal/crawler"
)

// RunCompleted is published once per successful run.
type RunCompleted struct {
	RunID      string    `json:"run_id"`
	Query      string    `json:"query"`
	Pages      int       `json:"pages"`
	Attempted  int       `json:"attempted"`
	SummaryURI string    `json:"summary_uri,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewRunCompleted builds the notification for a finished run.
func NewRunCompleted(run crawler.RunRecord) RunCompleted {
	return RunCompleted{
		RunID:      run.RunID,
		Query:      run.Query,
		Pages:      run.Succeeded,
		Attempted:  run.Attempted,
		SummaryURI: run.SummaryURI,
		Timestamp:  run.FinishedAt.UTC(),
	}
}
