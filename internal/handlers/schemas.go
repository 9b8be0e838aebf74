package handlers

// JSON Schemas applied to node configs before a run starts. Schemas stay
// permissive on purpose: template strings must validate wherever a resolved
// value would, so only structure and required fields are pinned down.

const scheduleSchema = `{
	"type": "object",
	"properties": {
		"cron": {"type": "string", "minLength": 1}
	},
	"required": ["cron"]
}`

const httpSchema = `{
	"type": "object",
	"properties": {
		"method": {"type": "string"},
		"url": {"type": "string", "minLength": 1},
		"headers": {"type": "object"},
		"queryParams": {"type": "object"},
		"timeout": {"type": ["number", "string"], "minimum": 0}
	},
	"required": ["url"]
}`

const databaseSchema = `{
	"type": "object",
	"properties": {
		"connectionId": {"type": "string", "minLength": 1},
		"operation": {"type": "string"},
		"query": {"type": "string", "minLength": 1},
		"params": {"type": "array"}
	},
	"required": ["connectionId", "query"]
}`

const conditionalSchema = `{
	"type": "object",
	"properties": {
		"conditions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"field": {"type": "string"},
					"operator": {"type": "string"},
					"value": {}
				},
				"required": ["operator"]
			}
		},
		"combineMode": {"type": "string", "enum": ["and", "or"]}
	},
	"required": ["conditions"]
}`

const codeSchema = `{
	"type": "object",
	"properties": {
		"expression": {"type": "string", "minLength": 1},
		"assignTo": {"type": "string"}
	},
	"required": ["expression"]
}`

const transformSchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string", "minLength": 1}
	},
	"required": ["query"]
}`
