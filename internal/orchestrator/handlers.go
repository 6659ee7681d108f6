package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/capability"
	"github.com/fyrsmithlabs/taskmaster/internal/review"
	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
	"github.com/fyrsmithlabs/taskmaster/internal/validation"
)

// maxGroundingSummary bounds the output copied into world-model entries.
const maxGroundingSummary = 512

func (d *Dispatcher) apply(ctx context.Context, s *session.Session, cmd Command, out *outcome) error {
	now := d.now().UTC()
	switch c := cmd.(type) {
	case DeclareCapabilities:
		return d.declareCapabilities(s, c, out)
	case CreateTasklist:
		return d.createTasklist(s, c, out, now)
	case AddTask:
		return d.addTask(s, c, out, now)
	case EditTask:
		return d.editTask(s, c, out, now)
	case DeleteTask:
		return d.deleteTask(s, c, out, now)
	case ExecuteNext:
		return d.executeNext(ctx, s, c, out, now)
	case ValidateTask:
		return d.validateTask(ctx, s, c, out, now)
	case ReportValidationError:
		return d.reportValidationError(s, c, out, now)
	case CollaborationRequest:
		return d.collaborationRequest(s, c, out, now)
	case UserResponse:
		return d.userResponse(s, c, out, now)
	case UpdateWorldModel:
		return d.updateWorldModel(s, c, out, now)
	case RecordGrounding:
		return d.recordGrounding(s, c, out, now)
	case GetStatus:
		return d.getStatus(s, out)
	case EndSession:
		return d.endSession(s, out, now)
	}
	return taskerr.CommandError(taskerr.CodeUnknownCommand, "no handler for %s", cmd.Action())
}

func (d *Dispatcher) declareCapabilities(s *session.Session, c DeclareCapabilities, out *outcome) error {
	reg, err := capability.Declare(s, c.Declaration)
	if err != nil {
		return err
	}
	out.say("declared %d capabilities", reg.Len())

	// Assignments pointing at tools that are no longer declared fall back to
	// defaults derived from the new snapshot.
	for _, t := range s.Tasks {
		if t.Status == session.TaskCompleted {
			continue
		}
		for _, phase := range session.PhaseOrder {
			if reg.Verify(t, phase) == nil {
				continue
			}
			assigned, err := reg.Assign(phase, nil)
			if err != nil {
				return err
			}
			t.Phases.Get(phase).Assignments = assigned
			out.warn("task %s: %s tools were reassigned because earlier assignments are no longer declared", t.ID, phase)
		}
	}
	out.task = s.CurrentTask()
	return nil
}

func (d *Dispatcher) buildTask(reg *capability.Registry, spec session.TaskSpec, now time.Time) (*session.Task, error) {
	t := session.NewTask(spec, d.reviews.MaxCycles(), now)
	if err := reg.AssignTask(t, spec.Tools); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Dispatcher) createTasklist(s *session.Session, c CreateTasklist, out *outcome, now time.Time) error {
	if err := capability.Require(s, string(ActionCreateTasklist)); err != nil {
		return err
	}
	reg := capability.New(s.Capabilities)

	created := make([]*session.Task, 0, len(c.Tasks))
	for i, spec := range c.Tasks {
		t, err := d.buildTask(reg, spec, now)
		if err != nil {
			if te, ok := taskerr.As(err); ok {
				return te.WithDetail("index", i)
			}
			return err
		}
		if len(t.ValidationCriteria) == 0 {
			out.warn("task %q has no validation criteria; validation will only check that evidence exists", t.Description)
		}
		created = append(created, t)
	}

	kept := make([]*session.Task, 0, len(s.Tasks)+len(created))
	replaced := 0
	for _, t := range s.Tasks {
		if t.Status == session.TaskPending {
			replaced++
			continue
		}
		kept = append(kept, t)
	}
	s.Tasks = append(kept, created...)
	if replaced > 0 {
		out.warn("replaced %d pending tasks", replaced)
	}
	out.say("created %d tasks", len(created))

	if started := s.ActivateNext(now); started != nil {
		out.say("task %q started in planning", started.Description)
	}
	out.task = s.CurrentTask()
	return nil
}

func (d *Dispatcher) addTask(s *session.Session, c AddTask, out *outcome, now time.Time) error {
	if err := capability.Require(s, string(ActionAddTask)); err != nil {
		return err
	}
	t, err := d.buildTask(capability.New(s.Capabilities), c.Task, now)
	if err != nil {
		return err
	}
	s.Tasks = append(s.Tasks, t)
	out.say("task %s added at position %d", t.ID, len(s.Tasks))
	if len(t.ValidationCriteria) == 0 {
		out.warn("task %q has no validation criteria; validation will only check that evidence exists", t.Description)
	}
	if started := s.ActivateNext(now); started != nil {
		out.say("task %q started in planning", started.Description)
	}
	out.task = t
	return nil
}

func (d *Dispatcher) editTask(s *session.Session, c EditTask, out *outcome, now time.Time) error {
	t, _ := s.FindTask(c.TaskID)
	if t == nil {
		return taskNotFound(c.TaskID)
	}
	if t.Status == session.TaskCompleted || t.Status == session.TaskBlocked {
		return taskerr.TaskError(taskerr.CodeTaskNotEditable,
			"task %s is %s and cannot be edited", t.ID, t.Status).WithDetail("task_id", t.ID)
	}

	u := c.Update
	hadReview := t.RequiresAdversarialReview
	if u.Description != nil {
		t.Description = strings.TrimSpace(*u.Description)
	}
	if u.ValidationCriteria != nil {
		t.ValidationCriteria = append([]string{}, u.ValidationCriteria...)
	}
	if u.ValidationRequired != nil {
		t.ValidationRequired = *u.ValidationRequired
	}
	if u.Complexity != nil {
		t.Complexity = *u.Complexity
		t.Phases.Execution.RequiresStaticAnalysis = t.Complexity == session.ComplexityComplex ||
			t.Complexity == session.ComplexityArchitectural
		if t.Complexity == session.ComplexityArchitectural {
			t.RequiresAdversarialReview = true
		}
	}
	if u.RequiresAdversarialReview != nil {
		if !*u.RequiresAdversarialReview && t.Complexity == session.ComplexityArchitectural {
			out.warn("architectural tasks always require adversarial review")
		} else {
			t.RequiresAdversarialReview = *u.RequiresAdversarialReview
		}
	}
	if t.RequiresAdversarialReview && !hadReview && t.CurrentPhase == session.PhaseValidation {
		return taskerr.TaskError(taskerr.CodePhaseOrder,
			"task %s already left execution; adversarial review can no longer be enabled", t.ID).
			WithDetail("task_id", t.ID).
			WithDetail("current_phase", t.CurrentPhase)
	}
	t.Phases.Execution.RequiresAdversarialReview = t.RequiresAdversarialReview

	if u.MaxCorrectionCycles != nil {
		limit := *u.MaxCorrectionCycles
		if r := t.AdversarialReview; r != nil {
			if limit < r.CorrectionCycles {
				return taskerr.TaskError(taskerr.CodeInvalidState,
					"task %s already used %d correction cycles", t.ID, r.CorrectionCycles).
					WithDetail("task_id", t.ID)
			}
			r.MaxCorrectionCycles = limit
		}
		t.MaxCorrectionCycles = limit
	}
	if u.Steps != nil {
		t.Phases.Planning.Steps = append([]string{}, u.Steps...)
	}
	if u.Tools != nil {
		if err := capability.Require(s, string(ActionEditTask)); err != nil {
			return err
		}
		reg := capability.New(s.Capabilities)
		for phase, requested := range u.Tools {
			assigned, err := reg.Assign(phase, requested)
			if err != nil {
				return err
			}
			t.Phases.Get(phase).Assignments = assigned
		}
	}
	t.UpdatedAt = now
	out.task = t
	out.say("task %s updated", t.ID)
	return nil
}

func (d *Dispatcher) deleteTask(s *session.Session, c DeleteTask, out *outcome, now time.Time) error {
	drop := make(map[string]bool, len(c.TaskIDs))
	for _, id := range c.TaskIDs {
		t, _ := s.FindTask(id)
		if t == nil {
			return taskNotFound(id)
		}
		if t.Status == session.TaskCompleted {
			return taskerr.TaskError(taskerr.CodeTaskNotEditable,
				"task %s is completed and cannot be deleted", id).WithDetail("task_id", id)
		}
		drop[id] = true
	}

	kept := make([]*session.Task, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		if !drop[t.ID] {
			kept = append(kept, t)
		}
	}
	s.Tasks = kept
	out.say("deleted %d tasks", len(drop))

	if s.Status == session.StatusActive {
		if started := s.ActivateNext(now); started != nil {
			out.say("task %q started in planning", started.Description)
		}
	}
	out.task = s.CurrentTask()
	return nil
}

func (d *Dispatcher) executeNext(ctx context.Context, s *session.Session, c ExecuteNext, out *outcome, now time.Time) error {
	if err := capability.Require(s, string(ActionExecuteNext)); err != nil {
		return err
	}
	t := s.CurrentTask()
	if t == nil {
		if next := s.ActivateNext(now); next != nil {
			out.task = next
			out.say("task %q started in planning", next.Description)
			return nil
		}
		if len(s.Tasks) == 0 {
			return taskerr.TaskError(taskerr.CodeEmptyTaskList, "session has no tasks; call create_tasklist first")
		}
		return taskerr.TaskError(taskerr.CodeNoActiveTask, "all tasks are completed")
	}
	out.task = t
	evidence := d.redactor.Redact(strings.TrimSpace(c.ExecutionEvidence))

	switch t.CurrentPhase {
	case session.PhasePlanning:
		if err := capability.New(s.Capabilities).Verify(t, session.PhaseExecution); err != nil {
			return err
		}
		if evidence != "" {
			t.AddEvidence(session.Evidence{
				Type:        session.EvidenceCompletion,
				Description: "plan",
				Details:     evidence,
			}, now)
		}
		if _, err := t.Advance(now); err != nil {
			return err
		}
		out.say("task %q entered execution", t.Description)
		return nil

	case session.PhaseExecution:
		if evidence != "" {
			t.AddEvidence(session.Evidence{
				Type:        session.EvidenceExecution,
				Description: "execution evidence",
				Details:     evidence,
			}, now)
		}
		if t.RequiresAdversarialReview {
			return d.runReview(ctx, s, t, c.Review, evidence, out, now)
		}
		if evidence == "" && !hasEvidence(t, session.EvidenceExecution) {
			out.warn("task %s leaves execution without execution evidence", t.ID)
		}
		if _, err := t.Advance(now); err != nil {
			return err
		}
		out.say("task %q entered validation", t.Description)
		return nil
	}

	return taskerr.ValidationError(taskerr.CodeValidationPending,
		"task %s is in validation; call validate_task", t.ID).
		WithDetail("task_id", t.ID).
		WithDetail("validation_criteria", t.ValidationCriteria)
}

// runReview drives one step of the adversarial review loop for a task in
// execution.
func (d *Dispatcher) runReview(ctx context.Context, s *session.Session, t *session.Task, in *ReviewInput, evidence string, out *outcome, now time.Time) error {
	content, generator := evidence, ""
	if in != nil {
		if rc := d.redactor.Redact(strings.TrimSpace(in.Content)); rc != "" {
			content = rc
		}
		generator = in.Generator
	}

	if r := t.AdversarialReview; r != nil && r.Approved {
		if _, err := t.Advance(now); err != nil {
			return err
		}
		out.say("review already approved; task %q entered validation", t.Description)
		return nil
	}

	switch {
	case review.NeedsContent(t) && content == "":
		if in.HasVerdict() {
			return missing("review.content or execution_evidence")
		}
		out.status = StatusReviewRequired
		out.say("task %s requires adversarial review; submit the produced work", t.ID)
		return nil
	case content != "":
		if _, err := d.reviews.Generate(t, content, generator); err != nil {
			return err
		}
	}

	r := t.AdversarialReview
	if !in.HasVerdict() {
		out.status = StatusReviewRequired
		out.say("review content recorded (correction cycle %d of %d); submit a verdict with findings",
			r.CorrectionCycles, r.MaxCorrectionCycles)
		return nil
	}

	result, err := d.reviews.Submit(t, review.Verdict{
		Approved: *in.Approved,
		Reviewer: in.Reviewer,
		Findings: in.Findings,
	})
	if err != nil {
		return err
	}
	d.metrics.recordReview(ctx, result)
	t.AddEvidence(session.Evidence{
		Type:        session.EvidenceReview,
		Description: fmt.Sprintf("adversarial review %s", result),
		Details:     describeFindings(review.NormalizeFindings(in.Findings)),
	}, now)

	switch result {
	case review.Approved:
		if _, err := t.Advance(now); err != nil {
			return err
		}
		out.say("review approved; task %q entered validation", t.Description)

	case review.CorrectionRequired:
		out.status = StatusCorrectionRequired
		out.say("review requested corrections (cycle %d of %d)", r.CorrectionCycles, r.MaxCorrectionCycles)
		for _, f := range review.NormalizeFindings(in.Findings) {
			out.say("%s", describeFinding(f))
		}

	case review.Exhausted:
		reason := fmt.Sprintf("adversarial review of task %s exhausted %d correction cycles", t.ID, r.MaxCorrectionCycles)
		t.ErrorDetails = reason
		if err := t.SetStatus(session.TaskBlocked, now); err != nil {
			return err
		}
		if err := s.SetStatus(session.StatusPaused, reason, now); err != nil {
			return err
		}
		out.status = StatusValidationError
		out.notice = taskerr.ValidationError(taskerr.CodeReviewExhausted, "%s", reason).
			WithDetail("task_id", t.ID).
			WithDetail("correction_cycles", r.CorrectionCycles).
			WithDetail("max_correction_cycles", r.MaxCorrectionCycles)
		out.say("%s; session paused for the user", reason)
		d.logger.Warn(ctx, "adversarial review exhausted", zap.Int("cycles", r.CorrectionCycles))
	}
	return nil
}

func (d *Dispatcher) validateTask(ctx context.Context, s *session.Session, c ValidateTask, out *outcome, now time.Time) error {
	t := s.CurrentTask()
	if t == nil {
		return taskerr.TaskError(taskerr.CodeNoActiveTask, "no task is in progress")
	}
	out.task = t
	if t.CurrentPhase == session.PhasePlanning {
		return taskerr.TaskError(taskerr.CodePhaseOrder,
			"task %s is still in planning; call execute_next first", t.ID).
			WithDetail("task_id", t.ID).
			WithDetail("current_phase", t.CurrentPhase)
	}
	if err := review.RequireApproved(t); err != nil {
		return err
	}
	if t.CurrentPhase == session.PhaseExecution {
		if _, err := t.Advance(now); err != nil {
			return err
		}
	}

	submitted := make([]session.Evidence, 0, len(c.Evidence)+1)
	for _, e := range c.Evidence {
		desc := d.redactor.Redact(strings.TrimSpace(e.Description))
		details := d.redactor.Redact(strings.TrimSpace(e.Details))
		if desc == "" && details == "" {
			continue
		}
		typ := e.Type
		if typ == "" {
			typ = session.EvidenceValidation
		}
		submitted = append(submitted, session.Evidence{Description: desc, Details: details, Type: typ})
	}
	execEvidence := d.redactor.Redact(strings.TrimSpace(c.ExecutionEvidence))

	in := &validation.Input{
		TaskDescription:   t.Description,
		Evidence:          submitted,
		ExecutionEvidence: execEvidence,
		Grounding:         groundingRuns(t),
		WorldModel:        s.WorldModel,
		Capabilities:      s.Capabilities,
	}
	if len(submitted) == 0 && execEvidence == "" {
		in.Evidence = t.Evidence
	}

	report := d.engine.Evaluate(ctx, t.ValidationCriteria, in)
	if r := strings.ToLower(c.ReportedResult); r == "failed" || r == "fail" {
		report.Outcome = validation.Failed
		report.Messages = append(report.Messages, "agent reported validation_result=failed")
	}
	d.metrics.recordValidation(ctx, report.Outcome)
	out.report = report
	out.warnings = append(out.warnings, report.Warnings...)

	passed := report.Outcome == validation.Passed
	if execEvidence != "" {
		submitted = append(submitted, session.Evidence{
			Type:        session.EvidenceExecution,
			Description: "execution evidence",
			Details:     execEvidence,
		})
	}
	if len(submitted) == 0 {
		submitted = append(submitted, session.Evidence{
			Type:        session.EvidenceValidation,
			Description: fmt.Sprintf("validation %s", report.Outcome),
			Details:     strings.Join(report.Messages, "\n"),
		})
	}
	for _, e := range submitted {
		e.Passed = passed
		t.AddEvidence(e, now)
	}

	if !passed && t.ValidationRequired {
		out.messages = append(out.messages, report.Messages...)
		if report.Outcome == validation.Inconclusive {
			out.status = StatusInconclusive
		} else {
			out.status = StatusFailed
		}
		out.say("task %s stays in validation; address the findings and call validate_task again", t.ID)
		return nil
	}

	if passed {
		out.messages = append(out.messages, report.Messages...)
	} else {
		out.warnings = append(out.warnings, report.Messages...)
		out.warn("validation was %s but is not required for task %s", report.Outcome, t.ID)
	}
	if err := t.Complete(now); err != nil {
		return err
	}
	d.metrics.recordCompleted(ctx)
	out.status = StatusPassed
	out.say("task %q completed", t.Description)

	if next := s.ActivateNext(now); next != nil {
		out.say("task %q started in planning", next.Description)
	} else if s.Unfinished() == 0 {
		out.say("all tasks are completed")
	}
	return nil
}

func (d *Dispatcher) reportValidationError(s *session.Session, c ReportValidationError, out *outcome, now time.Time) error {
	t := s.CurrentTask()
	if t == nil {
		return taskerr.TaskError(taskerr.CodeNoActiveTask, "no task is in progress")
	}
	details := d.redactor.Redact(strings.TrimSpace(c.Details))
	t.ErrorDetails = details
	if err := t.SetStatus(session.TaskBlocked, now); err != nil {
		return err
	}
	if err := s.SetStatus(session.StatusPaused, fmt.Sprintf("task %s is blocked: %s", t.ID, details), now); err != nil {
		return err
	}
	out.task = t
	out.status = StatusValidationError
	out.say("task %q blocked; session paused until user_response", t.Description)
	return nil
}

func (d *Dispatcher) collaborationRequest(s *session.Session, c CollaborationRequest, out *outcome, now time.Time) error {
	reason := d.redactor.Redact(strings.TrimSpace(c.Context))
	if err := s.SetStatus(session.StatusPaused, reason, now); err != nil {
		return err
	}
	out.task = s.CurrentTask()
	out.status = StatusPaused
	out.say("session paused for collaboration")
	return nil
}

func (d *Dispatcher) userResponse(s *session.Session, c UserResponse, out *outcome, now time.Time) error {
	if s.Status != session.StatusPaused {
		return taskerr.SessionError(taskerr.CodeSessionNotPaused,
			"session %s is not waiting for a user response", s.ID)
	}
	answer := d.redactor.Redact(strings.TrimSpace(c.Response))
	if err := s.SetStatus(session.StatusActive, "", now); err != nil {
		return err
	}

	t := s.CurrentTask()
	if t == nil {
		if next := s.ActivateNext(now); next != nil {
			out.say("task %q started in planning", next.Description)
		}
		out.task = s.CurrentTask()
		out.say("session resumed")
		return nil
	}

	if t.Status == session.TaskBlocked {
		if err := t.SetStatus(session.TaskInProgress, now); err != nil {
			return err
		}
		out.say("task %q resumed in %s", t.Description, t.CurrentPhase)
		if d.reviews.Reopen(t) {
			out.say("adversarial review reopened with %d correction cycles", t.AdversarialReview.MaxCorrectionCycles)
		}
	}
	t.AddEvidence(session.Evidence{
		Type:        session.EvidenceUser,
		Description: "user response",
		Details:     answer,
	}, now)
	out.task = t
	out.say("session resumed")
	return nil
}

func (d *Dispatcher) updateWorldModel(s *session.Session, c UpdateWorldModel, out *outcome, now time.Time) error {
	in := c.Entry
	e := session.WorldModelEntry{
		ID:           uuid.New().String(),
		At:           now,
		Type:         in.Type,
		Source:       strings.TrimSpace(in.Source),
		Content:      d.redactor.Redact(strings.TrimSpace(in.Content)),
		FilePath:     strings.TrimSpace(in.FilePath),
		Verification: in.Verification,
		Criticality:  in.Criticality,
	}
	if e.Source == "" {
		e.Source = "agent"
	}
	if e.Verification == "" {
		e.Verification = session.Unverified
	}
	if e.Criticality == "" {
		e.Criticality = session.CriticalityMedium
	}
	s.WorldModel = append(s.WorldModel, e)

	out.task = s.CurrentTask()
	out.say("recorded %s entry %s", e.Type, e.ID)
	if e.Verification == session.Contradicted &&
		(e.Criticality == session.CriticalityHigh || e.Criticality == session.CriticalityCritical) {
		out.warn("contradicted %s entry will fail world_model_consistent validation", e.Criticality)
	}
	return nil
}

func (d *Dispatcher) recordGrounding(s *session.Session, c RecordGrounding, out *outcome, now time.Time) error {
	t := s.CurrentTask()
	if t == nil {
		return taskerr.TaskError(taskerr.CodeNoActiveTask, "no task is in progress")
	}
	p := t.CurrentPhaseRecord()
	if p.Grounding == nil {
		p.Grounding = &session.Grounding{Runs: []session.CommandRun{}}
	}
	for _, run := range c.Runs {
		run.Command = strings.TrimSpace(run.Command)
		run.Stdout = d.redactor.Redact(run.Stdout)
		run.Stderr = d.redactor.Redact(run.Stderr)
		if run.At.IsZero() {
			run.At = now
		}
		p.Grounding.Runs = append(p.Grounding.Runs, run)

		entry := session.WorldModelEntry{
			ID:           uuid.New().String(),
			At:           run.At,
			Type:         session.EntryToolOutput,
			Source:       run.Command,
			Content:      summarizeRun(run),
			Verification: session.Verified,
			Criticality:  session.CriticalityLow,
		}
		if run.ExitCode != 0 {
			entry.Type = session.EntryError
			entry.Criticality = session.CriticalityMedium
			out.warn("command %q exited with status %d", run.Command, run.ExitCode)
		}
		s.WorldModel = append(s.WorldModel, entry)
	}
	t.UpdatedAt = now
	out.task = t
	out.say("recorded %d command runs on the %s phase", len(c.Runs), t.CurrentPhase)
	return nil
}

func (d *Dispatcher) getStatus(s *session.Session, out *outcome) error {
	out.task = s.CurrentTask()
	out.say("%d tasks: %d completed, %d in progress, %d pending, %d blocked",
		len(s.Tasks),
		s.CountStatus(session.TaskCompleted),
		s.CountStatus(session.TaskInProgress),
		s.CountStatus(session.TaskPending),
		s.CountStatus(session.TaskBlocked),
	)
	return nil
}

func (d *Dispatcher) endSession(s *session.Session, out *outcome, now time.Time) error {
	unfinished := s.Unfinished()
	if err := s.SetStatus(session.StatusCompleted, "", now); err != nil {
		return err
	}
	if unfinished > 0 {
		out.warn("session ended with %d unfinished tasks", unfinished)
	}
	out.say("session ended")
	return nil
}

func taskNotFound(id string) error {
	return taskerr.TaskError(taskerr.CodeTaskNotFound, "task %s not found", id).
		WithDetail("task_id", id)
}

func hasEvidence(t *session.Task, typ session.EvidenceType) bool {
	for _, e := range t.Evidence {
		if e.Type == typ {
			return true
		}
	}
	return false
}

// groundingRuns collects command runs from every phase of t.
func groundingRuns(t *session.Task) []session.CommandRun {
	var runs []session.CommandRun
	for _, name := range session.PhaseOrder {
		if g := t.Phases.Get(name).Grounding; g != nil {
			runs = append(runs, g.Runs...)
		}
	}
	return runs
}

func summarizeRun(run session.CommandRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "exit %d", run.ExitCode)
	for _, part := range []string{run.Stdout, run.Stderr} {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteString("\n")
			b.WriteString(part)
		}
	}
	text := b.String()
	if len(text) > maxGroundingSummary {
		cut := maxGroundingSummary
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}

func describeFinding(f session.ReviewFinding) string {
	s := fmt.Sprintf("[%s] %s", f.Category, f.Description)
	if f.Suggestion != "" {
		s += " (suggestion: " + f.Suggestion + ")"
	}
	return s
}

func describeFindings(fs []session.ReviewFinding) string {
	lines := make([]string, 0, len(fs))
	for _, f := range fs {
		lines = append(lines, describeFinding(f))
	}
	return strings.Join(lines, "\n")
}
