package executor

import (
	"dario.cat/mergo"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/engine/template"
)

// gatherInputs assembles the input map for a node from its incoming edges.
// Unmapped outputs land under the edge's target handle; mapped fields are
// written straight into the inputs root so a handler reads them without
// knowing which edge carried them. Multiple edges into the same handle are
// deep-merged with the later edge winning on conflicts. Edges from a node
// that has not produced output (skipped, failed, or cyclic) are silently
// ignored.
func gatherInputs(nodeID string, edges []workflow.Edge, outputs map[string]interface{}) map[string]interface{} {
	inputs := make(map[string]interface{})

	for _, edge := range edges {
		if edge.Target != nodeID {
			continue
		}
		upstream, ok := outputs[edge.Source]
		if !ok {
			continue
		}

		if len(edge.Mapping) > 0 {
			applyMapping(inputs, upstream, edge.Mapping)
			continue
		}

		handle := edge.Handle()
		existing, hasPrior := inputs[handle].(map[string]interface{})
		next, mappable := upstream.(map[string]interface{})
		if hasPrior && mappable {
			// Merge into a fresh map; the originals are upstream outputs
			// and must not be mutated.
			merged := make(map[string]interface{}, len(existing)+len(next))
			if err := mergo.Merge(&merged, existing); err == nil {
				if err := mergo.Merge(&merged, next, mergo.WithOverride); err == nil {
					inputs[handle] = merged
					continue
				}
			}
		}
		inputs[handle] = upstream
	}

	return inputs
}

// applyMapping copies only the mapped fields from the upstream output into
// the inputs being assembled. Missing source paths write nothing rather
// than a nil placeholder; a later edge mapping the same target field wins.
func applyMapping(inputs map[string]interface{}, upstream interface{}, mapping []workflow.FieldMapping) {
	for _, m := range mapping {
		value := template.GetPath(upstream, m.SourceField)
		if value == nil {
			continue
		}
		template.SetPath(inputs, m.TargetField, value)
	}
}
