package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/engine/errcode"
	"github.com/nodeflow-go/internal/engine/node"
)

// TriggerHandler materializes the trigger event as the entry node's output.
// Trigger nodes are the only handlers that read the trigger payload rather
// than upstream inputs.
type TriggerHandler struct {
	kind string
}

// NewTriggerHandler creates a trigger handler for the given kind
// (manual, webhook or schedule).
func NewTriggerHandler(kind string) *TriggerHandler {
	return &TriggerHandler{kind: kind}
}

func (h *TriggerHandler) Execute(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
	switch h.kind {
	case "schedule":
		return h.schedule(nc)
	case "webhook":
		return h.webhook(nc)
	default:
		return h.manual(nc)
	}
}

// manual passes the trigger payload through unchanged.
func (h *TriggerHandler) manual(nc *node.Context) (*workflow.NodeResult, error) {
	data := map[string]interface{}{
		"triggeredAt": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range nc.Trigger.Payload {
		data[k] = v
	}
	return workflow.Ok(data), nil
}

// webhook exposes the request payload plus the delivery envelope.
func (h *TriggerHandler) webhook(nc *node.Context) (*workflow.NodeResult, error) {
	data := map[string]interface{}{
		"receivedAt": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range nc.Trigger.Payload {
		data[k] = v
	}
	return workflow.Ok(data), nil
}

// schedule validates the cron spec and reports the next fire time. Actual
// scheduling happens upstream of the queue; by the time this node runs the
// tick already fired.
func (h *TriggerHandler) schedule(nc *node.Context) (*workflow.NodeResult, error) {
	spec, _ := nc.Config["cron"].(string)
	if spec == "" {
		return missingConfig("schedule trigger requires a cron expression"), nil
	}

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return workflow.Failure(errcode.Config(errcode.InvalidConfig,
			fmt.Sprintf("invalid cron expression %q: %v", spec, err))), nil
	}

	now := time.Now().UTC()
	data := map[string]interface{}{
		"cron":      spec,
		"firedAt":   now.Format(time.RFC3339),
		"nextRunAt": sched.Next(now).Format(time.RFC3339),
	}
	for k, v := range nc.Trigger.Payload {
		data[k] = v
	}
	return workflow.Ok(data), nil
}
