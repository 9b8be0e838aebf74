// Package errcode defines the fixed failure taxonomy shared by the executor
// and all node handlers. Codes split into two classes by convention:
// configuration errors can never succeed on retry, runtime errors may.
package errcode

import (
	"time"

	"github.com/nodeflow-go/internal/domain/workflow"
)

// Configuration-class codes. Always non-retryable.
const (
	MissingConfig     = "MISSING_CONFIG"
	InvalidConfig     = "INVALID_CONFIG"
	MissingConnection = "MISSING_CONNECTION"
	InvalidOperation  = "INVALID_OPERATION"
	HandlerNotFound   = "HANDLER_NOT_FOUND"
)

// Runtime-class codes. Retryability is handler-determined.
const (
	ConnectionFailed = "CONNECTION_FAILED"
	OperationFailed  = "OPERATION_FAILED"
	Timeout          = "TIMEOUT"
	RateLimit        = "RATE_LIMIT"
	HandlerException = "HANDLER_EXCEPTION"
)

var configClass = map[string]bool{
	MissingConfig:     true,
	InvalidConfig:     true,
	MissingConnection: true,
	InvalidOperation:  true,
	HandlerNotFound:   true,
}

// IsConfigClass reports whether a code belongs to the configuration class.
func IsConfigClass(code string) bool {
	return configClass[code]
}

// Config builds a configuration-class node error. Retryable is forced false
// regardless of how the failure surfaced.
func Config(code, message string) *workflow.NodeError {
	return &workflow.NodeError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// Runtime builds a runtime-class node error with the handler's retry verdict.
func Runtime(code, message string, retryable bool) *workflow.NodeError {
	return &workflow.NodeError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// Exception wraps an uncaught handler failure. Treated as transient, so
// always retryable.
func Exception(message string) *workflow.NodeError {
	return Runtime(HandlerException, message, true)
}
