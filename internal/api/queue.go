// ABOUTME: Queue endpoints on the huma API: list entries, per-status stats, enqueue.
// ABOUTME: Converts store.Entry rows to the JSON EntryItem shape.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms-sub004/internal/store"
)

// registerQueueRoutes wires the queue endpoints on the huma API.
//
//	GET  /queue                  entries, newest first, with filters
//	GET  /queue/stats            entry counts per status
//	POST /jobs/{job_id}/enqueue  add a pending entry for an existing job
func registerQueueRoutes(api huma.API, s QueueStore) {
	huma.Register(api, huma.Operation{
		OperationID: "list-queue-entries",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "List queue entries",
		Tags:        []string{"Queue"},
	}, listEntriesHandler(s))

	huma.Register(api, huma.Operation{
		OperationID: "get-queue-stats",
		Method:      http.MethodGet,
		Path:        "/queue/stats",
		Summary:     "Queue depth per status",
		Tags:        []string{"Queue"},
	}, statsHandler(s))

	huma.Register(api, huma.Operation{
		OperationID:   "enqueue-job",
		Method:        http.MethodPost,
		Path:          "/jobs/{job_id}/enqueue",
		Summary:       "Enqueue a generation job",
		Description:   "Adds a pending queue entry for an existing course generation job.",
		Tags:          []string{"Queue"},
		DefaultStatus: http.StatusCreated,
	}, enqueueHandler(s))
}

// ── Response types ────────────────────────────────────────────────────────────

// EntryItem is the API representation of a generation_queue row.
type EntryItem struct {
	EntryID     string  `json:"entry_id"`
	JobID       string  `json:"job_id"`
	Status      string  `json:"status"`
	OwnerID     *string `json:"owner_id,omitempty"`
	RetryCount  int     `json:"retry_count"`
	MaxRetries  *int    `json:"max_retries,omitempty"`
	ClaimedAt   *string `json:"claimed_at,omitempty"` // RFC3339
	AvailableAt string  `json:"available_at"`         // RFC3339
	LastError   *string `json:"last_error,omitempty"`
	CreatedAt   string  `json:"created_at"` // RFC3339
	UpdatedAt   string  `json:"updated_at"` // RFC3339
}

func entryToItem(e store.Entry) EntryItem {
	item := EntryItem{
		EntryID:     e.ID.String(),
		JobID:       e.JobID.String(),
		Status:      string(e.Status),
		RetryCount:  e.RetryCount,
		MaxRetries:  e.MaxRetries,
		AvailableAt: e.AvailableAt.UTC().Format(time.RFC3339),
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   e.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if e.OwnerID != "" {
		item.OwnerID = &e.OwnerID
	}
	if e.ClaimedAt != nil {
		ts := e.ClaimedAt.UTC().Format(time.RFC3339)
		item.ClaimedAt = &ts
	}
	if e.LastError != "" {
		item.LastError = &e.LastError
	}
	return item
}

// ── GET /queue ────────────────────────────────────────────────────────────────

// ListEntriesInput defines the queue list filters.
type ListEntriesInput struct {
	Status  string `query:"status" doc:"Filter by entry status: pending, claimed, done"`
	JobID   string `query:"job_id" doc:"Filter by course generation job ID"`
	OwnerID string `query:"owner_id" doc:"Filter by claiming worker ID"`
	Limit   int    `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Maximum entries to return"`
}

// ListEntriesOutput is the response wrapper for GET /queue.
type ListEntriesOutput struct {
	Body *ListEntriesBody
}

// ListEntriesBody is the JSON body of the list response.
type ListEntriesBody struct {
	Entries []EntryItem `json:"entries"`
}

func listEntriesHandler(s QueueStore) func(context.Context, *ListEntriesInput) (*ListEntriesOutput, error) {
	return func(ctx context.Context, input *ListEntriesInput) (*ListEntriesOutput, error) {
		switch store.EntryStatus(input.Status) {
		case "", store.EntryPending, store.EntryClaimed, store.EntryDone:
		default:
			return nil, huma.Error400BadRequest("invalid status; use pending, claimed or done", nil)
		}

		f := store.EntryFilter{
			Status:  store.EntryStatus(input.Status),
			OwnerID: input.OwnerID,
			Limit:   input.Limit,
		}
		if input.JobID != "" {
			id, err := uuid.Parse(input.JobID)
			if err != nil {
				return nil, huma.Error400BadRequest("invalid job_id", err)
			}
			f.JobID = id
		}

		entries, err := s.ListEntries(ctx, f)
		if err != nil {
			return nil, huma.Error500InternalServerError("list queue entries failed")
		}
		out := make([]EntryItem, 0, len(entries))
		for _, e := range entries {
			out = append(out, entryToItem(e))
		}
		return &ListEntriesOutput{Body: &ListEntriesBody{Entries: out}}, nil
	}
}

// ── GET /queue/stats ──────────────────────────────────────────────────────────

// StatsOutput is the response wrapper for GET /queue/stats.
type StatsOutput struct {
	Body *StatsBody
}

// StatsBody reports entry counts per status.
type StatsBody struct {
	Pending int `json:"pending"`
	Claimed int `json:"claimed"`
	Done    int `json:"done"`
}

func statsHandler(s QueueStore) func(context.Context, *struct{}) (*StatsOutput, error) {
	return func(ctx context.Context, _ *struct{}) (*StatsOutput, error) {
		stats, err := s.QueueStats(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("queue stats failed")
		}
		return &StatsOutput{Body: &StatsBody{
			Pending: stats[store.EntryPending],
			Claimed: stats[store.EntryClaimed],
			Done:    stats[store.EntryDone],
		}}, nil
	}
}

// ── POST /jobs/{job_id}/enqueue ───────────────────────────────────────────────

// EnqueueInput identifies the job and optionally overrides its retry ceiling.
type EnqueueInput struct {
	JobID string       `path:"job_id" doc:"Course generation job ID"`
	Body  *EnqueueBody `required:"false"`
}

// EnqueueBody is the optional JSON body of POST /jobs/{job_id}/enqueue.
type EnqueueBody struct {
	MaxRetries *int `json:"max_retries,omitempty" minimum:"0" doc:"Per-entry retry ceiling, omit to use the worker default"`
}

// EnqueueOutput returns the created entry.
type EnqueueOutput struct {
	Body *EntryItem
}

func enqueueHandler(s QueueStore) func(context.Context, *EnqueueInput) (*EnqueueOutput, error) {
	return func(ctx context.Context, input *EnqueueInput) (*EnqueueOutput, error) {
		jobID, err := uuid.Parse(input.JobID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid job_id", err)
		}
		var maxRetries *int
		if input.Body != nil {
			maxRetries = input.Body.MaxRetries
		}
		entry, err := s.Enqueue(ctx, jobID, maxRetries)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, huma.Error404NotFound("job not found", nil)
		case err != nil:
			return nil, huma.Error500InternalServerError("enqueue failed")
		}
		item := entryToItem(*entry)
		return &EnqueueOutput{Body: &item}, nil
	}
}
