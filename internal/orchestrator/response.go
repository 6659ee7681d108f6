package orchestrator

import (
	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
	"github.com/fyrsmithlabs/taskmaster/internal/validation"
)

// Status is the outcome reported in a Response.
type Status string

const (
	StatusSuccess            Status = "success"
	StatusPassed             Status = "passed"
	StatusFailed             Status = "failed"
	StatusInconclusive       Status = "inconclusive"
	StatusReviewRequired     Status = "review_required"
	StatusCorrectionRequired Status = "correction_required"
	StatusValidationError    Status = "validation_error"
	StatusPaused             Status = "paused"
	StatusError              Status = "error"
)

// Response is the envelope returned for every command, including failures.
type Response struct {
	Status       Status                   `json:"status"`
	Action       Action                   `json:"action,omitempty"`
	SessionID    string                   `json:"session_id,omitempty"`
	Session      *session.Session         `json:"session,omitempty"`
	CurrentTask  *session.Task            `json:"current_task,omitempty"`
	Messages     []string                 `json:"messages"`
	Warnings     []string                 `json:"warnings"`
	NextAction   Action                   `json:"next_action,omitempty"`
	Guidance     string                   `json:"guidance,omitempty"`
	ToolGuidance []session.ToolAssignment `json:"tool_guidance,omitempty"`
	Validation   *validation.Report       `json:"validation,omitempty"`
	Error        *ErrorBody               `json:"error,omitempty"`
}

// ErrorBody is the machine-readable part of a failed command.
type ErrorBody struct {
	Kind    taskerr.Kind   `json:"kind"`
	Code    taskerr.Code   `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// OK reports whether the command was accepted.
func (r *Response) OK() bool {
	return r.Status != StatusError
}

// ErrorBodyOf converts err into its wire form.
func ErrorBodyOf(err error) *ErrorBody {
	return newErrorBody(err)
}

func newErrorBody(err error) *ErrorBody {
	te := taskerr.From(err)
	return &ErrorBody{
		Kind:    te.Kind,
		Code:    te.Code,
		Message: te.Message,
		Details: te.Details,
	}
}

// Rejected builds the envelope for a request that never reached a session,
// such as one a transport could not decode.
func Rejected(action Action, err error) *Response {
	return errorResponse(action, nil, err)
}

// errorResponse builds the envelope for a failed command. s may be nil when
// the session could not be resolved.
func errorResponse(action Action, s *session.Session, err error) *Response {
	resp := &Response{
		Status:   StatusError,
		Action:   action,
		Messages: []string{taskerr.From(err).Error()},
		Warnings: []string{},
		Error:    newErrorBody(err),
	}
	if s != nil {
		resp.SessionID = s.ID
		resp.Session = s
		resp.CurrentTask = s.CurrentTask()
		resp.NextAction, resp.Guidance, resp.ToolGuidance = guide(s)
	}
	if next, ok := recoveryAction(taskerr.CodeOf(err)); ok {
		resp.NextAction = next
	}
	return resp
}

// recoveryAction maps precondition failures onto the action that clears them.
func recoveryAction(code taskerr.Code) (Action, bool) {
	switch code {
	case taskerr.CodeCapabilitiesNotDeclared, taskerr.CodeUnknownCapability:
		return ActionDeclareCapabilities, true
	case taskerr.CodeNoSession, taskerr.CodeSessionNotFound:
		return ActionCreateSession, true
	case taskerr.CodeSessionPaused:
		return ActionUserResponse, true
	case taskerr.CodeValidationPending:
		return ActionValidateTask, true
	case taskerr.CodeReviewNotApproved:
		return ActionExecuteNext, true
	case taskerr.CodeNoActiveTask:
		return ActionEndSession, true
	case taskerr.CodeEmptyTaskList:
		return ActionCreateTasklist, true
	case taskerr.CodeSessionCompleted:
		return ActionCreateSession, true
	}
	return "", false
}
