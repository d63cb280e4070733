// ABOUTME: Integration tests for GetJob, UpdateJobStatus and CreateJob.
// ABOUTME: Uses testutil.NewTestDB (Postgres testcontainer).
package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbawebdesign/lailms-sub004/internal/store"
	"github.com/dbawebdesign/lailms-sub004/internal/testutil"
)

func TestGetJob_WithOutline(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	orgID := uuid.New()
	created, err := s.CreateJob(ctx, orgID, &store.NewOutline{
		Title:   "Algebra I",
		Content: json.RawMessage(`{"modules":[{"title":"Linear equations"}]}`),
	})
	require.NoError(t, err)

	got, err := s.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, orgID, got.OrgID)
	assert.Equal(t, store.JobPending, got.Status)
	require.NotNil(t, got.Outline)
	assert.Equal(t, "Algebra I", got.Outline.Title)
	assert.JSONEq(t, `{"modules":[{"title":"Linear equations"}]}`, string(got.Outline.Content))
}

func TestGetJob_WithoutOutline(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	created, err := s.CreateJob(ctx, uuid.New(), nil)
	require.NoError(t, err)

	got, err := s.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Outline)
}

func TestGetJob_NotFound(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, store.ErrNotFound), "err = %v", err)
}

func TestUpdateJobStatus_Failed(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	created, err := s.CreateJob(ctx, uuid.New(), nil)
	require.NoError(t, err)

	failedAt := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, s.UpdateJobStatus(ctx, created.ID, store.JobFailed, "outline missing", &failedAt))

	got, err := s.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, got.Status)
	assert.True(t, got.Status.Terminal())
	assert.Equal(t, "outline missing", got.ErrorMessage)
	require.NotNil(t, got.FailedAt)
	assert.True(t, failedAt.Equal(*got.FailedAt))
}

func TestUpdateJobStatus_NotFound(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)

	err := s.UpdateJobStatus(context.Background(), uuid.New(), store.JobFailed, "x", nil)
	assert.True(t, errors.Is(err, store.ErrNotFound), "err = %v", err)
}

func TestJobStatus_Terminal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status store.JobStatus
		want   bool
	}{
		{store.JobPending, false},
		{store.JobProcessing, false},
		{store.JobCompleted, true},
		{store.JobFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
