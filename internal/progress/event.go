package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageFetchDone Stage = "FETCH_DONE"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
)

// Fetch task statuses carried by FETCH_DONE events.
const (
	StatusSuccess = "success"
	StatusEmpty   = "empty"
	StatusFailed  = "failed"
)

// Event captures a single milestone of a pipeline run.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Index is the rank of the fetched record; -1 for run-level events.
	Index int
	Site  string
	URL   string
	// Status is the fetch task outcome (success, empty, failed).
	Status string
	// Pages is the number of captured pages for FETCH_DONE, or the number of
	// result pages (or links found) for run-level events.
	Pages int
	Bytes int64
	Dur   time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageFetchDone:
		if e.URL == "" {
			return errors.New("fetch done requires url")
		}
		switch e.Status {
		case StatusSuccess, StatusEmpty, StatusFailed:
		default:
			return fmt.Errorf("fetch done has unknown status %q", e.Status)
		}
		if e.Index < 0 {
			return errors.New("fetch done requires index >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Message renders the event as a single human-readable progress line.
func (e Event) Message() string {
	switch e.Stage {
	case StageRunStart:
		return fmt.Sprintf("Found %d links to fetch (requested: %s)", e.Pages, e.Note)
	case StageFetchDone:
		switch e.Status {
		case StatusSuccess:
			return fmt.Sprintf("Fetched %s in %s, got %d pages", e.URL, e.Dur, e.Pages)
		case StatusEmpty:
			return fmt.Sprintf("Fetched %s in %s, but got no pages", e.URL, e.Dur)
		default:
			return fmt.Sprintf("Failed to fetch %s in %s", e.URL, e.Dur)
		}
	case StageRunDone:
		return fmt.Sprintf("Run finished in %s with %d pages", e.Dur, e.Pages)
	case StageRunError:
		return fmt.Sprintf("Run failed after %s: %s", e.Dur, e.Note)
	default:
		return string(e.Stage)
	}
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID converts a textual run ID into the Event form. Unparseable IDs
// yield the zero value.
func ParseRunID(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(parsed)
}
