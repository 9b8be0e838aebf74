package node

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nodeflow-go/pkg/logger"
)

type registration struct {
	meta    Metadata
	handler Handler
	schema  *jsonschema.Schema
}

// Registry maps node-type identifiers to handlers and their metadata. It is
// constructed explicitly and passed into the executor so tests can build
// isolated instances; it holds no per-run state.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]registration
	compiler *jsonschema.Compiler
	logger   logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{
		entries:  make(map[string]registration),
		compiler: jsonschema.NewCompiler(),
		logger:   log,
	}
}

// Register adds a handler under its metadata type. Registration is
// idempotent but noisy on overwrite: last registration wins, with a warning.
func (r *Registry) Register(meta Metadata, handler Handler) error {
	if meta.Type == "" {
		return fmt.Errorf("node metadata requires a type")
	}
	if handler == nil {
		return fmt.Errorf("nil handler for node type %s", meta.Type)
	}

	var schema *jsonschema.Schema
	if meta.ConfigSchema != "" {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(meta.ConfigSchema))
		if err != nil {
			return fmt.Errorf("invalid config schema for %s: %w", meta.Type, err)
		}
		resource := meta.Type + ".schema.json"
		if err := r.compiler.AddResource(resource, doc); err != nil {
			return fmt.Errorf("failed to add schema resource for %s: %w", meta.Type, err)
		}
		schema, err = r.compiler.Compile(resource)
		if err != nil {
			return fmt.Errorf("failed to compile config schema for %s: %w", meta.Type, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[meta.Type]; exists {
		r.logger.Warn("Overwriting node handler registration", "nodeType", meta.Type)
	}

	r.entries[meta.Type] = registration{meta: meta, handler: handler, schema: schema}
	return nil
}

// Get returns the handler for a node type, or nil when unknown. A missing
// handler is a configuration-class condition, not a crash.
func (r *Registry) Get(nodeType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if reg, ok := r.entries[nodeType]; ok {
		return reg.handler
	}
	return nil
}

// Has reports whether a node type is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[nodeType]
	return ok
}

// List returns metadata for all registered node types.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metas := make([]Metadata, 0, len(r.entries))
	for _, reg := range r.entries {
		metas = append(metas, reg.meta)
	}
	return metas
}

// ValidateConfig applies the registered JSON Schema to a node config. Types
// without a schema accept any config.
func (r *Registry) ValidateConfig(nodeType string, config map[string]interface{}) error {
	r.mu.RLock()
	reg, ok := r.entries[nodeType]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown node type: %s", nodeType)
	}
	if reg.schema == nil {
		return nil
	}

	var doc interface{} = map[string]interface{}{}
	if config != nil {
		doc = normalizeForSchema(config)
	}
	if err := reg.schema.Validate(doc); err != nil {
		return fmt.Errorf("config for node type %s: %w", nodeType, err)
	}
	return nil
}

// normalizeForSchema converts Go-native values into the shapes the schema
// validator expects (JSON numbers are float64).
func normalizeForSchema(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeForSchema(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeForSchema(item)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}
