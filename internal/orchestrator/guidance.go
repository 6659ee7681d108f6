package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/taskmaster/internal/review"
	"github.com/fyrsmithlabs/taskmaster/internal/session"
)

// guide derives the recommended next action, guidance text, and the tool
// assignments of the current phase from session state alone.
func guide(s *session.Session) (Action, string, []session.ToolAssignment) {
	switch {
	case s.Status == session.StatusCompleted:
		return "", "Session is completed. Start a new session to continue working.", nil
	case s.Status == session.StatusPaused:
		reason := s.PauseReason
		if reason == "" {
			reason = "waiting for the user"
		}
		return ActionUserResponse, fmt.Sprintf("Session is paused (%s). Relay the user's answer with user_response.", reason), nil
	case !s.CapabilitiesDeclared:
		return ActionDeclareCapabilities, "Declare the builtin tools, MCP tools and user resources you actually have before planning.", nil
	case len(s.Tasks) == 0:
		return ActionCreateTasklist, "Create a task list. Give each task validation criteria so completion can be checked.", nil
	}

	t := s.CurrentTask()
	if t == nil {
		if s.NextPending() != nil {
			return ActionExecuteNext, "Start the next pending task.", nil
		}
		return ActionEndSession, "All tasks are completed. End the session.", nil
	}

	phase := t.CurrentPhaseRecord()
	tools := phase.Assignments
	var b strings.Builder
	fmt.Fprintf(&b, "Task %q is in %s. %s.", t.Description, t.CurrentPhase, phase.Description)
	if len(tools) > 0 {
		names := make([]string, 0, len(tools))
		for _, a := range tools {
			names = append(names, a.Name)
		}
		fmt.Fprintf(&b, " Use only: %s.", strings.Join(names, ", "))
	}
	if len(phase.Steps) > 0 {
		fmt.Fprintf(&b, " Steps: %s.", strings.Join(phase.Steps, "; "))
	}

	switch t.CurrentPhase {
	case session.PhasePlanning:
		b.WriteString(" When the plan is ready, call execute_next.")
		return ActionExecuteNext, b.String(), tools

	case session.PhaseExecution:
		if phase.RequiresStaticAnalysis {
			b.WriteString(" Run static analysis on the changes before finishing.")
		}
		if t.RequiresAdversarialReview {
			switch r := t.AdversarialReview; {
			case r != nil && r.Approved:
				b.WriteString(" Review approved; call execute_next to enter validation.")
			case review.NeedsContent(t) && r != nil:
				fmt.Fprintf(&b, " Review requested corrections (cycle %d of %d); fix the findings and resubmit with execute_next.",
					r.CorrectionCycles, r.MaxCorrectionCycles)
			case review.NeedsContent(t):
				b.WriteString(" This task needs an adversarial review: submit the produced work with execute_next.")
			default:
				b.WriteString(" Critically review the submitted work and call execute_next with review.approved and findings.")
			}
			return ActionExecuteNext, b.String(), tools
		}
		b.WriteString(" When the work is done, call execute_next with execution_evidence.")
		return ActionExecuteNext, b.String(), tools

	default:
		if len(t.ValidationCriteria) > 0 {
			fmt.Fprintf(&b, " Submit evidence satisfying: %s.", strings.Join(t.ValidationCriteria, ", "))
		} else {
			b.WriteString(" Submit evidence that the result works.")
		}
		return ActionValidateTask, b.String(), tools
	}
}
