// Package handlers contains the built-in node handlers. Every handler
// classifies its own failures: configuration problems are terminal, runtime
// problems carry an explicit retry verdict.
package handlers

import (
	"encoding/json"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/engine/errcode"
	"github.com/nodeflow-go/internal/engine/node"
	"github.com/nodeflow-go/pkg/logger"
)

// RegisterAll wires every built-in handler into the registry. The returned
// cleanup releases pooled resources and belongs in the worker's shutdown
// path.
func RegisterAll(reg *node.Registry, log logger.Logger) (func(), error) {
	httpHandler := NewHTTPHandler(log)
	dbHandler := NewDatabaseHandler(log)
	conditional := NewConditionalHandler()
	switchHandler := NewSwitchHandler()
	codeHandler := NewCodeHandler(log)
	transform := NewTransformHandler()
	email := NewEmailHandler(log)
	manual := NewTriggerHandler("manual")
	webhook := NewTriggerHandler("webhook")
	scheduled := NewTriggerHandler("schedule")

	// Node types are accepted in both camelCase and kebab-case; aliases
	// share one handler instance.
	entries := []struct {
		meta    node.Metadata
		handler node.Handler
	}{
		{node.Metadata{Type: "manualTrigger", Name: "Manual Trigger", Category: "trigger"}, manual},
		{node.Metadata{Type: "manual-trigger", Name: "Manual Trigger", Category: "trigger"}, manual},
		{node.Metadata{Type: "webhookTrigger", Name: "Webhook Trigger", Category: "trigger"}, webhook},
		{node.Metadata{Type: "webhook-trigger", Name: "Webhook Trigger", Category: "trigger"}, webhook},
		{node.Metadata{Type: "scheduleTrigger", Name: "Schedule Trigger", Category: "trigger", ConfigSchema: scheduleSchema}, scheduled},
		{node.Metadata{Type: "schedule-trigger", Name: "Schedule Trigger", Category: "trigger", ConfigSchema: scheduleSchema}, scheduled},

		{node.Metadata{Type: "http", Name: "HTTP Request", Category: "action", ConfigSchema: httpSchema}, httpHandler},
		{node.Metadata{Type: "httpRequest", Name: "HTTP Request", Category: "action", ConfigSchema: httpSchema}, httpHandler},

		{node.Metadata{Type: "database", Name: "Database Query", Category: "action", ConfigSchema: databaseSchema}, dbHandler},
		{node.Metadata{Type: "postgres", Name: "PostgreSQL Query", Category: "action", ConfigSchema: databaseSchema}, dbHandler},
		{node.Metadata{Type: "mysql", Name: "MySQL Query", Category: "action", ConfigSchema: databaseSchema}, dbHandler},

		{node.Metadata{Type: "conditional", Name: "Conditional", Category: "logic", ConfigSchema: conditionalSchema}, conditional},
		{node.Metadata{Type: "if", Name: "Conditional", Category: "logic", ConfigSchema: conditionalSchema}, conditional},
		{node.Metadata{Type: "switch", Name: "Switch", Category: "logic"}, switchHandler},

		{node.Metadata{Type: "code", Name: "Code", Category: "logic", ConfigSchema: codeSchema}, codeHandler},
		{node.Metadata{Type: "transform", Name: "Transform", Category: "logic", ConfigSchema: transformSchema}, transform},
		{node.Metadata{Type: "email", Name: "Send Email", Category: "integration"}, email},
	}

	for _, entry := range entries {
		if err := reg.Register(entry.meta, entry.handler); err != nil {
			return nil, err
		}
	}
	return dbHandler.Close, nil
}

// parseConfig converts a loosely typed config map into a handler's typed
// config struct via a JSON round trip.
func parseConfig(config map[string]interface{}, target interface{}) error {
	data, err := json.Marshal(config)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// invalidConfig is a shorthand for the common parse failure path.
func invalidConfig(message string) *workflow.NodeResult {
	return workflow.Failure(errcode.Config(errcode.InvalidConfig, message))
}

// missingConfig reports an absent required field.
func missingConfig(message string) *workflow.NodeResult {
	return workflow.Failure(errcode.Config(errcode.MissingConfig, message))
}
