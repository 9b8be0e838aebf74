// Package usage reports run outcomes to an external metering collaborator.
// Reporting is fire-and-forget; a failed report never affects run semantics.
package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nodeflow-go/pkg/config"
	"github.com/nodeflow-go/pkg/logger"
)

// Record is one billable run outcome.
type Record struct {
	OrgID         string `json:"orgId"`
	WorkflowID    string `json:"workflowId"`
	ExecutionID   string `json:"executionId"`
	Status        string `json:"status"`
	DurationMs    int64  `json:"durationMs"`
	NodesExecuted int    `json:"nodesExecuted"`
}

// Tracker is what the executor sees.
type Tracker interface {
	Report(rec Record)
}

// HTTPTracker posts records to a usage endpoint asynchronously.
type HTTPTracker struct {
	endpoint string
	client   *http.Client
	logger   logger.Logger
}

// NewHTTPTracker builds a tracker from config. A blank endpoint yields a
// tracker that only logs.
func NewHTTPTracker(cfg config.UsageConfig, log logger.Logger) *HTTPTracker {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPTracker{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   log,
	}
}

// Report sends the record in the background.
func (t *HTTPTracker) Report(rec Record) {
	go t.post(rec)
}

func (t *HTTPTracker) post(rec Record) {
	if t.endpoint == "" {
		t.logger.Debug("Usage record (no endpoint configured)",
			"orgId", rec.OrgID, "workflowId", rec.WorkflowID, "status", rec.Status)
		return
	}

	body, err := json.Marshal(rec)
	if err != nil {
		t.logger.Error("Failed to marshal usage record", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		t.logger.Error("Failed to build usage request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("Usage report failed", "error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		t.logger.Warn("Usage endpoint rejected record", "status", resp.StatusCode)
	}
}

// Nop discards all records. For tests.
type Nop struct{}

func (Nop) Report(Record) {}
