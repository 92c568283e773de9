// Package pipeline turns uploaded media into fingerprints, faces,
// categories and watchlist alerts through a chain of queued tasks.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/casematch/internal/storage"
)

// Task names.
const (
	TaskProcess        = "media.process"
	TaskReprocess      = "media.reprocess"
	TaskDetectFaces    = "faces.detect"
	TaskImageSignature = "signatures.extract"
	TaskVideoSignature = "video.extract"
	TaskSignatureBatch = "signatures.batch"
	TaskCategorize     = "categorization.categorize"
	TaskWatchlistScan  = "watchlist.scan"
	TaskScanCase       = "watchlist.scan_case"
	TaskScanEntry      = "watchlist.scan_entry"
)

// Lanes. Each lane has its own worker pool.
const (
	LaneMedia          = "media"
	LaneFaces          = "faces"
	LaneSignatures     = "signatures"
	LaneCategorization = "categorization"
	LaneWatchlist      = "watchlist"
)

// Lanes lists every lane in a stable order.
var Lanes = []string{LaneMedia, LaneFaces, LaneSignatures, LaneCategorization, LaneWatchlist}

// TaskSpec describes where a task runs and how long it may take.
type TaskSpec struct {
	Lane    string
	Timeout time.Duration
}

// Specs maps task names to their lane and time budget.
var Specs = map[string]TaskSpec{
	TaskProcess:        {LaneMedia, 2 * time.Minute},
	TaskReprocess:      {LaneMedia, time.Minute},
	TaskDetectFaces:    {LaneFaces, 2 * time.Minute},
	TaskImageSignature: {LaneSignatures, 5 * time.Minute},
	TaskVideoSignature: {LaneSignatures, 10 * time.Minute},
	TaskSignatureBatch: {LaneSignatures, time.Minute},
	TaskCategorize:     {LaneCategorization, 2 * time.Minute},
	TaskWatchlistScan:  {LaneWatchlist, time.Minute},
	TaskScanCase:       {LaneWatchlist, time.Minute},
	TaskScanEntry:      {LaneWatchlist, 5 * time.Minute},
}

// Task is a unit of work handed to a Dispatcher.
type Task struct {
	Name    string
	Payload any
}

// MediaPayload addresses a single media item.
type MediaPayload struct {
	MediaID string `json:"media_id"`
}

// CasePayload addresses every media item of a case.
type CasePayload struct {
	CaseID string `json:"case_id"`
}

// EntryPayload addresses a watchlist entry.
type EntryPayload struct {
	EntryID string `json:"entry_id"`
}

// BatchPayload addresses a list of media items.
type BatchPayload struct {
	MediaIDs []string `json:"media_ids"`
}

func mediaTask(name, mediaID string) Task {
	return Task{Name: name, Payload: MediaPayload{MediaID: mediaID}}
}

// ProcessTask starts the pipeline for a media item.
func ProcessTask(mediaID string) Task { return mediaTask(TaskProcess, mediaID) }

// ReprocessTask resets a media item and runs the pipeline again.
func ReprocessTask(mediaID string) Task { return mediaTask(TaskReprocess, mediaID) }

// ScanTask checks a media item's faces against active watchlists.
func ScanTask(mediaID string) Task { return mediaTask(TaskWatchlistScan, mediaID) }

// ScanCaseTask scans every media item of a case.
func ScanCaseTask(caseID string) Task {
	return Task{Name: TaskScanCase, Payload: CasePayload{CaseID: caseID}}
}

// ScanEntryTask scans every stored face against one watchlist entry.
func ScanEntryTask(entryID string) Task {
	return Task{Name: TaskScanEntry, Payload: EntryPayload{EntryID: entryID}}
}

// SignatureBatchTask re-extracts signatures for the given media.
func SignatureBatchTask(mediaIDs []string) Task {
	return Task{Name: TaskSignatureBatch, Payload: BatchPayload{MediaIDs: mediaIDs}}
}

// Dispatcher hands tasks to the task queue and returns the task id.
type Dispatcher interface {
	Dispatch(ctx context.Context, t Task) (string, error)
}

// JobEnqueuer is the part of the job store used by QueueDispatcher.
type JobEnqueuer interface {
	EnqueueJob(job storage.Job) error
}

// QueueDispatcher enqueues tasks as rows of the SQLite jobs table.
type QueueDispatcher struct {
	Store       JobEnqueuer
	MaxAttempts int
}

func (d QueueDispatcher) Dispatch(_ context.Context, t Task) (string, error) {
	spec, ok := Specs[t.Name]
	if !ok {
		return "", fmt.Errorf("unknown task %q", t.Name)
	}
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return "", fmt.Errorf("encoding %s payload: %w", t.Name, err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        t.Name,
		Lane:        spec.Lane,
		PayloadJSON: string(payload),
		MaxAttempts: d.MaxAttempts,
	}
	if err := d.Store.EnqueueJob(job); err != nil {
		return "", fmt.Errorf("enqueueing %s: %w", t.Name, err)
	}
	return job.ID, nil
}
