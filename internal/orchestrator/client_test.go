// ABOUTME: Tests for the pipeline client against an httptest server.
// ABOUTME: Checks request signing, payload shape and outcome interpretation.
package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbawebdesign/lailms-sub004/internal/orchestrator"
	"github.com/dbawebdesign/lailms-sub004/internal/store"
)

func testOutline() store.Outline {
	return store.Outline{
		ID:      uuid.New(),
		Title:   "World History",
		Content: json.RawMessage(`{"modules":[{"title":"Antiquity"}]}`),
	}
}

var testConfig = orchestrator.GenerationConfig{Model: "gpt-4o", Language: "en", MaxLessons: 8}

func TestStartOrchestration_SignsAndSendsJob(t *testing.T) {
	t.Parallel()

	const secret = "orchestrator-secret"
	jobID := uuid.New()
	outline := testOutline()

	var gotTS, gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTS = r.Header.Get("X-Coursegen-Timestamp")
		gotSig = r.Header.Get("X-Coursegen-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"completed"}`))
	}))
	defer srv.Close()

	c := orchestrator.NewClient(srv.URL, secret, srv.Client())
	require.NoError(t, c.StartOrchestration(context.Background(), jobID, outline, testConfig))

	tsInt, err := strconv.ParseInt(gotTS, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), tsInt, 5)
	assert.Equal(t, orchestrator.Sign(secret, gotTS, gotBody), gotSig)

	var req struct {
		JobID   uuid.UUID `json:"job_id"`
		Outline struct {
			ID      uuid.UUID       `json:"id"`
			Title   string          `json:"title"`
			Content json.RawMessage `json:"content"`
		} `json:"outline"`
		Config orchestrator.GenerationConfig `json:"config"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &req))
	assert.Equal(t, jobID, req.JobID)
	assert.Equal(t, outline.ID, req.Outline.ID)
	assert.Equal(t, "World History", req.Outline.Title)
	assert.JSONEq(t, string(outline.Content), string(req.Outline.Content))
	assert.Equal(t, testConfig, req.Config)
}

func TestStartOrchestration_NoSecretNoSignature(t *testing.T) {
	t.Parallel()

	var hadSig bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hadSig = r.Header.Get("X-Coursegen-Signature") != ""
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := orchestrator.NewClient(srv.URL, "", srv.Client())
	require.NoError(t, c.StartOrchestration(context.Background(), uuid.New(), testOutline(), testConfig))
	assert.False(t, hadSig)
}

func TestStartOrchestration_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"reported failure", http.StatusOK, `{"status":"failed","error":"lesson step crashed"}`, "lesson step crashed"},
		{"server error with json", http.StatusInternalServerError, `{"error":"out of credits"}`, "out of credits"},
		{"server error plain text", http.StatusBadGateway, `upstream unavailable`, "upstream unavailable"},
		{"server error empty", http.StatusServiceUnavailable, ``, "unexpected status 503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := orchestrator.NewClient(srv.URL, "", srv.Client())
			err := c.StartOrchestration(context.Background(), uuid.New(), testOutline(), testConfig)
			require.Error(t, err)
			assert.True(t, errors.Is(err, orchestrator.ErrPipelineFailed))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestStartOrchestration_ContextDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := orchestrator.NewClient(srv.URL, "", srv.Client())
	err := c.StartOrchestration(ctx, uuid.New(), testOutline(), testConfig)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
}
