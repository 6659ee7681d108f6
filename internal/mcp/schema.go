package mcp

import (
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/fyrsmithlabs/taskmaster/internal/orchestrator"
)

// inputSchema describes the flat request. Capability, evidence and tasklist
// items accept either a bare string or an object, so their item schemas stay
// open; the dispatcher does the real validation.
func inputSchema() *jsonschema.Schema {
	actions := make([]any, len(orchestrator.Actions))
	for i, a := range orchestrator.Actions {
		actions[i] = string(a)
	}

	str := func(desc string) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "string", Description: desc}
	}
	strings := func(desc string) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "array", Description: desc, Items: &jsonschema.Schema{Type: "string"}}
	}
	mixed := func(desc string) *jsonschema.Schema {
		return &jsonschema.Schema{
			Type:        "array",
			Description: desc,
			Items:       &jsonschema.Schema{Types: []string{"string", "object"}},
		}
	}
	object := func(desc string) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "object", Description: desc}
	}

	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"action"},
		Properties: map[string]*jsonschema.Schema{
			"action": {
				Type:        "string",
				Description: "Command to run",
				Enum:        actions,
			},
			"session_id":            str("Target session; defaults to the most recently updated unfinished session"),
			"session_name":          str("Name for create_session"),
			"task_description":      str("Description for add_task"),
			"validation_criteria":   strings("Criteria for add_task, each a rule name with an optional argument: tests_passed, command_succeeded, min_evidence:2, output_contains:ok"),
			"evidence":              mixed("Validation evidence: strings or {type, content, source}"),
			"execution_evidence":    str("What execute_next accomplished"),
			"builtin_tools":         mixed("Built-in tools: names or {name, description}"),
			"mcp_tools":             mixed("MCP tools: names or {name, server, description}"),
			"user_resources":        mixed("User resources: names or {name, description}"),
			"tasklist":              mixed("Tasks for create_tasklist: descriptions or {description, validation_criteria, complexity, ...}"),
			"task_ids":              strings("Targets for edit_task and delete_task"),
			"updated_task_data":     object("Fields to change in edit_task"),
			"next_action_needed":    {Type: "boolean", Description: "false drops guidance text from the response"},
			"validation_result":     str("Reported outcome for validate_task: passed or failed"),
			"error_details":         str("What went wrong, for validation_error"),
			"collaboration_context": str("Question for the user, for collaboration_request"),
			"user_response":         str("The user's answer, for user_response"),
			"review":                object("Adversarial review: {content, generator, reviewer, approved, findings}"),
			"world_model_entry":     object("Fact for update_world_model: {type, content, source, file_path, verification, criticality}"),
			"grounding": {
				Type:        "array",
				Description: "Command runs for record_grounding: {command, exit_code, stdout, stderr}",
				Items:       &jsonschema.Schema{Type: "object"},
			},
		},
	}
}
