// Package orchestrator calls the course generation pipeline. The pipeline is
// a remote service that runs every generation step for one job and reports a
// single outcome; this package only signs the request and interprets the
// reply.
package orchestrator

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms-sub004/internal/store"
)

// ErrPipelineFailed is wrapped by every error that reports a rejected run, as
// opposed to a transport problem.
var ErrPipelineFailed = errors.New("generation pipeline failed")

// maxResponseBytes caps how much of the pipeline's reply is read.
const maxResponseBytes = 64 << 10

// GenerationConfig is the process-wide generation settings forwarded with
// every job.
type GenerationConfig struct {
	Model      string `json:"model"`
	Language   string `json:"language"`
	MaxLessons int    `json:"max_lessons"`
}

// Client posts generation requests to the pipeline endpoint.
type Client struct {
	url    string
	secret string
	http   *http.Client
}

// NewClient returns a Client for url. Requests are signed with secret when it
// is non-empty. httpClient may be nil to use a client without its own timeout;
// the caller's context deadline then bounds each call.
func NewClient(url, secret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{url: url, secret: secret, http: httpClient}
}

type startRequest struct {
	JobID   uuid.UUID        `json:"job_id"`
	Outline outlinePayload   `json:"outline"`
	Config  GenerationConfig `json:"config"`
}

type outlinePayload struct {
	ID      uuid.UUID       `json:"id"`
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
}

type startResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// StartOrchestration runs the pipeline for jobID and blocks until it reports
// an outcome. A nil error means the pipeline finished and owns marking the
// job completed. Any other outcome, including ctx expiring, is an error.
func (c *Client) StartOrchestration(ctx context.Context, jobID uuid.UUID, outline store.Outline, cfg GenerationConfig) error {
	content := outline.Content
	if len(content) == 0 {
		content = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(startRequest{
		JobID:   jobID,
		Outline: outlinePayload{ID: outline.ID, Title: outline.Title, Content: content},
		Config:  cfg,
	})
	if err != nil {
		return fmt.Errorf("encode orchestration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build orchestration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("X-Coursegen-Timestamp", ts)
		req.Header.Set("X-Coursegen-Signature", Sign(c.secret, ts, body))
	}

	resp, err := c.http.Do(req) //nolint:gosec // G107: URL comes from operator configuration
	if err != nil {
		return fmt.Errorf("orchestration POST: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read orchestration response: %w", err)
	}

	var out startResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		// Non-JSON bodies are tolerated; the status code decides.
		_ = json.Unmarshal(raw, &out) //nolint:errcheck
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if msg == "" {
			return fmt.Errorf("%w: unexpected status %d", ErrPipelineFailed, resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d: %s", ErrPipelineFailed, resp.StatusCode, msg)
	}

	switch strings.ToLower(out.Status) {
	case "", "completed", "ok", "success":
		return nil
	default:
		msg := out.Error
		if msg == "" {
			msg = "status " + out.Status
		}
		return fmt.Errorf("%w: %s", ErrPipelineFailed, msg)
	}
}

// Sign returns the X-Coursegen-Signature value for body sent at timestamp ts:
// HMAC-SHA256 over "ts.body", hex encoded with a "sha256=" prefix.
func Sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(body)))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
