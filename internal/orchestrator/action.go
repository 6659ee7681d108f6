package orchestrator

import (
	"strings"

	"github.com/fyrsmithlabs/taskmaster/internal/capability"
	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

// Action names a command.
type Action string

const (
	ActionCreateSession        Action = "create_session"
	ActionDeclareCapabilities  Action = "declare_capabilities"
	ActionCreateTasklist       Action = "create_tasklist"
	ActionAddTask              Action = "add_task"
	ActionEditTask             Action = "edit_task"
	ActionDeleteTask           Action = "delete_task"
	ActionExecuteNext          Action = "execute_next"
	ActionValidateTask         Action = "validate_task"
	ActionValidationError      Action = "validation_error"
	ActionCollaborationRequest Action = "collaboration_request"
	ActionUserResponse         Action = "user_response"
	ActionUpdateWorldModel     Action = "update_world_model"
	ActionRecordGrounding      Action = "record_grounding"
	ActionGetStatus            Action = "get_status"
	ActionEndSession           Action = "end_session"
)

// Actions lists every action in a stable order.
var Actions = []Action{
	ActionCreateSession,
	ActionDeclareCapabilities,
	ActionCreateTasklist,
	ActionAddTask,
	ActionEditTask,
	ActionDeleteTask,
	ActionExecuteNext,
	ActionValidateTask,
	ActionValidationError,
	ActionCollaborationRequest,
	ActionUserResponse,
	ActionUpdateWorldModel,
	ActionRecordGrounding,
	ActionGetStatus,
	ActionEndSession,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// ReadOnly reports whether a never commits.
func (a Action) ReadOnly() bool {
	return a == ActionGetStatus
}

// AllowedWhilePaused reports whether a may run on a paused session.
func (a Action) AllowedWhilePaused() bool {
	switch a {
	case ActionUserResponse, ActionEndSession, ActionGetStatus,
		ActionUpdateWorldModel, ActionDeclareCapabilities:
		return true
	}
	return false
}

// Command is a typed command payload. The set of implementations is closed.
type Command interface {
	Action() Action
	validate() error
}

// CreateSession starts a new session.
type CreateSession struct {
	Name string `json:"session_name"`
}

// DeclareCapabilities replaces the session's capability snapshot.
type DeclareCapabilities struct {
	capability.Declaration
}

// CreateTasklist replaces the pending tasks.
type CreateTasklist struct {
	Tasks []session.TaskSpec `json:"tasklist"`
}

// AddTask appends one task.
type AddTask struct {
	Task session.TaskSpec `json:"task"`
}

// EditTask changes a pending or in-progress task.
type EditTask struct {
	TaskID string     `json:"task_id"`
	Update TaskUpdate `json:"updated_task_data"`
}

// TaskUpdate holds the editable fields of a task. Nil fields are unchanged.
type TaskUpdate struct {
	Description               *string                                        `json:"description,omitempty"`
	ValidationCriteria        []string                                       `json:"validation_criteria,omitempty"`
	ValidationRequired        *bool                                          `json:"validation_required,omitempty"`
	Complexity                *session.Complexity                            `json:"complexity,omitempty"`
	RequiresAdversarialReview *bool                                          `json:"requires_adversarial_review,omitempty"`
	MaxCorrectionCycles       *int                                           `json:"max_correction_cycles,omitempty"`
	Steps                     []string                                       `json:"steps,omitempty"`
	Tools                     map[session.PhaseName][]session.ToolAssignment `json:"tools,omitempty"`
}

// Empty reports whether u changes nothing.
func (u TaskUpdate) Empty() bool {
	return u.Description == nil && u.ValidationCriteria == nil && u.ValidationRequired == nil &&
		u.Complexity == nil && u.RequiresAdversarialReview == nil && u.MaxCorrectionCycles == nil &&
		u.Steps == nil && u.Tools == nil
}

// DeleteTask removes tasks.
type DeleteTask struct {
	TaskIDs []string `json:"task_ids"`
}

// ExecuteNext advances the current task.
type ExecuteNext struct {
	ExecutionEvidence string       `json:"execution_evidence,omitempty"`
	Review            *ReviewInput `json:"review,omitempty"`
}

// ReviewInput carries review content and, optionally, a verdict on it.
type ReviewInput struct {
	Content   string                  `json:"content,omitempty"`
	Generator string                  `json:"generator,omitempty"`
	Reviewer  string                  `json:"reviewer,omitempty"`
	Approved  *bool                   `json:"approved,omitempty"`
	Findings  []session.ReviewFinding `json:"findings,omitempty"`
}

// HasVerdict reports whether a reviewer's decision is included.
func (r *ReviewInput) HasVerdict() bool {
	return r != nil && r.Approved != nil
}

// ValidateTask runs validation on the current task.
type ValidateTask struct {
	Evidence          []EvidenceInput `json:"evidence,omitempty"`
	ExecutionEvidence string          `json:"execution_evidence,omitempty"`
	// ReportedResult is the agent's own verdict. "failed" forces failure;
	// "passed" cannot override a failing rule.
	ReportedResult string `json:"validation_result,omitempty"`
}

// ReportValidationError blocks the current task.
type ReportValidationError struct {
	Details string `json:"error_details"`
}

// CollaborationRequest pauses the session for user input.
type CollaborationRequest struct {
	Context string `json:"collaboration_context"`
}

// UserResponse resumes a paused session.
type UserResponse struct {
	Response string `json:"user_response"`
}

// UpdateWorldModel appends a ledger entry.
type UpdateWorldModel struct {
	Entry WorldModelInput `json:"world_model_entry"`
}

// WorldModelInput is the client form of a WorldModelEntry.
type WorldModelInput struct {
	Type         session.EntryType    `json:"type"`
	Source       string               `json:"source"`
	Content      string               `json:"content"`
	FilePath     string               `json:"file_path,omitempty"`
	Verification session.Verification `json:"verification,omitempty"`
	Criticality  session.Criticality  `json:"criticality,omitempty"`
}

// RecordGrounding appends command runs to the current phase.
type RecordGrounding struct {
	Runs []session.CommandRun `json:"grounding"`
}

// GetStatus reads the session.
type GetStatus struct{}

// EndSession completes the session.
type EndSession struct{}

func (CreateSession) Action() Action         { return ActionCreateSession }
func (DeclareCapabilities) Action() Action   { return ActionDeclareCapabilities }
func (CreateTasklist) Action() Action        { return ActionCreateTasklist }
func (AddTask) Action() Action               { return ActionAddTask }
func (EditTask) Action() Action              { return ActionEditTask }
func (DeleteTask) Action() Action            { return ActionDeleteTask }
func (ExecuteNext) Action() Action           { return ActionExecuteNext }
func (ValidateTask) Action() Action          { return ActionValidateTask }
func (ReportValidationError) Action() Action { return ActionValidationError }
func (CollaborationRequest) Action() Action  { return ActionCollaborationRequest }
func (UserResponse) Action() Action          { return ActionUserResponse }
func (UpdateWorldModel) Action() Action      { return ActionUpdateWorldModel }
func (RecordGrounding) Action() Action       { return ActionRecordGrounding }
func (GetStatus) Action() Action             { return ActionGetStatus }
func (EndSession) Action() Action            { return ActionEndSession }

func missing(field string) error {
	return taskerr.CommandError(taskerr.CodeInvalidPayload, "%s is required", field).
		WithDetail("field", field)
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func (c CreateSession) validate() error {
	if blank(c.Name) {
		return missing("session_name")
	}
	return nil
}

func (c DeclareCapabilities) validate() error {
	if c.Declaration.Empty() {
		return missing("builtin_tools, mcp_tools or user_resources")
	}
	return nil
}

func (c CreateTasklist) validate() error {
	if len(c.Tasks) == 0 {
		return missing("tasklist")
	}
	for i, spec := range c.Tasks {
		if err := spec.Validate(); err != nil {
			if te, ok := taskerr.As(err); ok {
				return te.WithDetail("index", i)
			}
			return err
		}
	}
	return nil
}

func (c AddTask) validate() error {
	return c.Task.Validate()
}

func (c EditTask) validate() error {
	if blank(c.TaskID) {
		return missing("task_ids")
	}
	if c.Update.Empty() {
		return missing("updated_task_data")
	}
	if c.Update.Description != nil && blank(*c.Update.Description) {
		return taskerr.CommandError(taskerr.CodeInvalidPayload, "description cannot be empty").
			WithDetail("field", "updated_task_data.description")
	}
	if c.Update.MaxCorrectionCycles != nil && *c.Update.MaxCorrectionCycles < 1 {
		return taskerr.CommandError(taskerr.CodeInvalidPayload, "max_correction_cycles must be >= 1").
			WithDetail("field", "updated_task_data.max_correction_cycles")
	}
	if c.Update.Complexity != nil {
		if err := (session.TaskSpec{Description: "x", Complexity: *c.Update.Complexity}).Validate(); err != nil {
			return err
		}
	}
	for phase := range c.Update.Tools {
		if !phase.Valid() {
			return taskerr.CommandError(taskerr.CodeInvalidPayload, "unknown phase %q in tools", phase)
		}
	}
	return nil
}

func (c DeleteTask) validate() error {
	if len(c.TaskIDs) == 0 {
		return missing("task_ids")
	}
	seen := make(map[string]bool, len(c.TaskIDs))
	for _, id := range c.TaskIDs {
		if blank(id) {
			return missing("task_ids")
		}
		if seen[id] {
			return taskerr.CommandError(taskerr.CodeInvalidPayload, "task id %s listed twice", id).
				WithDetail("field", "task_ids")
		}
		seen[id] = true
	}
	return nil
}

func (c ExecuteNext) validate() error {
	if c.Review != nil && c.Review.HasVerdict() && !*c.Review.Approved && len(c.Review.Findings) == 0 {
		return taskerr.CommandError(taskerr.CodeInvalidPayload,
			"a rejecting review must include at least one finding").WithDetail("field", "review.findings")
	}
	return nil
}

func (c ValidateTask) validate() error {
	switch strings.ToLower(c.ReportedResult) {
	case "", "passed", "pass", "failed", "fail":
	default:
		return taskerr.CommandError(taskerr.CodeInvalidPayload,
			"validation_result must be passed or failed, got %q", c.ReportedResult).
			WithDetail("field", "validation_result")
	}
	return nil
}

func (c ReportValidationError) validate() error {
	if blank(c.Details) {
		return missing("error_details")
	}
	return nil
}

func (c CollaborationRequest) validate() error {
	if blank(c.Context) {
		return missing("collaboration_context")
	}
	return nil
}

func (c UserResponse) validate() error {
	if blank(c.Response) {
		return missing("user_response")
	}
	return nil
}

func (c UpdateWorldModel) validate() error {
	e := c.Entry
	if blank(e.Content) {
		return missing("world_model_entry.content")
	}
	switch e.Type {
	case session.EntryToolOutput, session.EntryFileState, session.EntryObservation, session.EntryClaim, session.EntryError:
	case "":
		return missing("world_model_entry.type")
	default:
		return taskerr.CommandError(taskerr.CodeInvalidPayload, "unknown world model entry type %q", e.Type).
			WithDetail("field", "world_model_entry.type")
	}
	switch e.Verification {
	case "", session.Verified, session.Unverified, session.Contradicted:
	default:
		return taskerr.CommandError(taskerr.CodeInvalidPayload, "unknown verification %q", e.Verification).
			WithDetail("field", "world_model_entry.verification")
	}
	switch e.Criticality {
	case "", session.CriticalityLow, session.CriticalityMedium, session.CriticalityHigh, session.CriticalityCritical:
	default:
		return taskerr.CommandError(taskerr.CodeInvalidPayload, "unknown criticality %q", e.Criticality).
			WithDetail("field", "world_model_entry.criticality")
	}
	return nil
}

func (c RecordGrounding) validate() error {
	if len(c.Runs) == 0 {
		return missing("grounding")
	}
	for _, run := range c.Runs {
		if blank(run.Command) {
			return missing("grounding.command")
		}
	}
	return nil
}

func (GetStatus) validate() error  { return nil }
func (EndSession) validate() error { return nil }
