package orchestrator

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/fyrsmithlabs/taskmaster/internal/capability"
	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

// Request is a typed command addressed to a session. An empty SessionID
// targets the most recently updated unfinished session.
type Request struct {
	SessionID string
	Command   Command
	// Quiet suppresses guidance text in the response.
	Quiet bool
}

// FlatRequest is the wire form shared by every transport: one action tag and
// the union of all payload fields.
type FlatRequest struct {
	Action               string                 `json:"action" jsonschema:"the command to run"`
	SessionID            string                 `json:"session_id,omitempty" jsonschema:"target session; defaults to the most recent active session"`
	SessionName          string                 `json:"session_name,omitempty"`
	TaskDescription      string                 `json:"task_description,omitempty"`
	ValidationCriteria   []string               `json:"validation_criteria,omitempty"`
	Evidence             []EvidenceInput        `json:"evidence,omitempty"`
	ExecutionEvidence    string                 `json:"execution_evidence,omitempty"`
	BuiltinTools         []capability.Spec      `json:"builtin_tools,omitempty"`
	MCPTools             []capability.Spec      `json:"mcp_tools,omitempty"`
	UserResources        []capability.Spec      `json:"user_resources,omitempty"`
	Tasklist             []session.TaskSpec     `json:"tasklist,omitempty"`
	TaskIDs              []string               `json:"task_ids,omitempty"`
	UpdatedTaskData      *TaskUpdate            `json:"updated_task_data,omitempty"`
	NextActionNeeded     *bool                  `json:"next_action_needed,omitempty"`
	ValidationResult     string                 `json:"validation_result,omitempty"`
	ErrorDetails         string                 `json:"error_details,omitempty"`
	CollaborationContext string                 `json:"collaboration_context,omitempty"`
	UserResponse         string                 `json:"user_response,omitempty"`
	Review               *ReviewInput           `json:"review,omitempty"`
	WorldModelEntry      *WorldModelInput       `json:"world_model_entry,omitempty"`
	Grounding            []session.CommandRun   `json:"grounding,omitempty"`
}

// DecodeFlat parses the JSON wire form. Empty input decodes to the zero
// request; malformed input is INVALID_PAYLOAD.
func DecodeFlat(data []byte) (FlatRequest, error) {
	var f FlatRequest
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return f, nil
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, taskerr.Wrap(taskerr.KindCommand, taskerr.CodeInvalidPayload, err, "malformed request")
	}
	return f, nil
}

// Command converts the flat form into a validated typed Request.
func (f FlatRequest) Command() (Request, error) {
	req := Request{
		SessionID: strings.TrimSpace(f.SessionID),
		Quiet:     f.NextActionNeeded != nil && !*f.NextActionNeeded,
	}
	action := Action(strings.ToLower(strings.TrimSpace(f.Action)))

	var cmd Command
	switch action {
	case "":
		return req, missing("action")
	case ActionCreateSession:
		cmd = CreateSession{Name: strings.TrimSpace(f.SessionName)}
	case ActionDeclareCapabilities:
		cmd = DeclareCapabilities{Declaration: capability.Declaration{
			BuiltinTools:  f.BuiltinTools,
			MCPTools:      f.MCPTools,
			UserResources: f.UserResources,
		}}
	case ActionCreateTasklist:
		cmd = CreateTasklist{Tasks: f.specs()}
	case ActionAddTask:
		specs := f.specs()
		if len(specs) == 0 {
			return req, missing("tasklist or task_description")
		}
		if len(specs) > 1 {
			return req, taskerr.CommandError(taskerr.CodeInvalidPayload,
				"add_task takes one task, got %d", len(specs)).WithDetail("field", "tasklist")
		}
		cmd = AddTask{Task: specs[0]}
	case ActionEditTask:
		c := EditTask{}
		if len(f.TaskIDs) > 0 {
			c.TaskID = f.TaskIDs[0]
		}
		if f.UpdatedTaskData != nil {
			c.Update = *f.UpdatedTaskData
		}
		cmd = c
	case ActionDeleteTask:
		cmd = DeleteTask{TaskIDs: f.TaskIDs}
	case ActionExecuteNext:
		cmd = ExecuteNext{ExecutionEvidence: f.ExecutionEvidence, Review: f.Review}
	case ActionValidateTask:
		cmd = ValidateTask{
			Evidence:          f.Evidence,
			ExecutionEvidence: f.ExecutionEvidence,
			ReportedResult:    f.ValidationResult,
		}
	case ActionValidationError:
		cmd = ReportValidationError{Details: f.ErrorDetails}
	case ActionCollaborationRequest:
		cmd = CollaborationRequest{Context: f.CollaborationContext}
	case ActionUserResponse:
		cmd = UserResponse{Response: f.UserResponse}
	case ActionUpdateWorldModel:
		c := UpdateWorldModel{}
		if f.WorldModelEntry != nil {
			c.Entry = *f.WorldModelEntry
		}
		cmd = c
	case ActionRecordGrounding:
		cmd = RecordGrounding{Runs: f.Grounding}
	case ActionGetStatus:
		cmd = GetStatus{}
	case ActionEndSession:
		cmd = EndSession{}
	default:
		return req, taskerr.CommandError(taskerr.CodeUnknownCommand, "unknown action %q", f.Action).
			WithDetail("known_actions", Actions)
	}

	if err := cmd.validate(); err != nil {
		return req, err
	}
	req.Command = cmd
	return req, nil
}

// specs returns the tasklist, falling back to a single task built from
// task_description and validation_criteria.
func (f FlatRequest) specs() []session.TaskSpec {
	if len(f.Tasklist) > 0 {
		return f.Tasklist
	}
	if strings.TrimSpace(f.TaskDescription) == "" {
		return nil
	}
	return []session.TaskSpec{{
		Description:        f.TaskDescription,
		ValidationCriteria: f.ValidationCriteria,
	}}
}

// EvidenceInput is one submitted evidence item. On the wire it may be a bare
// string or an object.
type EvidenceInput struct {
	Description string               `json:"description"`
	Details     string               `json:"details,omitempty"`
	Type        session.EvidenceType `json:"type,omitempty"`
}

// UnmarshalJSON accepts "text" as shorthand for {"description":"text"}.
func (e *EvidenceInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = EvidenceInput{Description: s}
		return nil
	}
	type plain EvidenceInput
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = EvidenceInput(p)
	return nil
}
