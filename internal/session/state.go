package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

// ValidTaskTransitions defines allowed task status transitions.
var ValidTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress},
	TaskInProgress: {TaskCompleted, TaskBlocked},
	TaskBlocked:    {TaskInProgress},
	TaskCompleted:  {}, // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	for _, t := range ValidTaskTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted
}

// ValidSessionTransitions defines allowed session status transitions.
var ValidSessionTransitions = map[Status][]Status{
	StatusActive:    {StatusPaused, StatusCompleted},
	StatusPaused:    {StatusActive, StatusCompleted},
	StatusCompleted: {}, // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range ValidSessionTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Next returns the phase after p.
func (p PhaseName) Next() (PhaseName, bool) {
	for i, name := range PhaseOrder {
		if name == p && i+1 < len(PhaseOrder) {
			return PhaseOrder[i+1], true
		}
	}
	return "", false
}

// Valid reports whether p names a known phase.
func (p PhaseName) Valid() bool {
	for _, name := range PhaseOrder {
		if name == p {
			return true
		}
	}
	return false
}

// New creates an active Session with no tasks.
func New(name string, now time.Time) *Session {
	return &Session{
		ID:           uuid.New().String(),
		Name:         name,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
		Tasks:        []*Task{},
		Capabilities: []Capability{},
		WorldModel:   []WorldModelEntry{},
	}
}

// FindTask returns the task with id and its index, or nil and -1.
func (s *Session) FindTask(id string) (*Task, int) {
	for i, t := range s.Tasks {
		if t.ID == id {
			return t, i
		}
	}
	return nil, -1
}

// CurrentTask returns the task the session is focused on: the in-progress
// task, or the blocked task while the session is paused.
func (s *Session) CurrentTask() *Task {
	for _, t := range s.Tasks {
		if t.Status == TaskInProgress {
			return t
		}
	}
	for _, t := range s.Tasks {
		if t.Status == TaskBlocked {
			return t
		}
	}
	return nil
}

// NextPending returns the first pending task in list order.
func (s *Session) NextPending() *Task {
	for _, t := range s.Tasks {
		if t.Status == TaskPending {
			return t
		}
	}
	return nil
}

// Unfinished counts tasks that are not completed.
func (s *Session) Unfinished() int {
	n := 0
	for _, t := range s.Tasks {
		if t.Status != TaskCompleted {
			n++
		}
	}
	return n
}

// CountStatus counts tasks in status.
func (s *Session) CountStatus(status TaskStatus) int {
	n := 0
	for _, t := range s.Tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

// SetStatus moves the session to target, enforcing ValidSessionTransitions.
func (s *Session) SetStatus(target Status, reason string, now time.Time) error {
	if s.Status == target {
		return nil
	}
	if !s.Status.CanTransitionTo(target) {
		return taskerr.SessionError(taskerr.CodeInvalidState,
			"session cannot move from %s to %s", s.Status, target)
	}
	s.Status = target
	s.Paused = target == StatusPaused
	if s.Paused {
		s.PauseReason = reason
	} else {
		s.PauseReason = ""
	}
	s.UpdatedAt = now
	return nil
}

// ActivateNext starts the first pending task in planning when nothing is in
// progress. It returns the activated task, or nil.
func (s *Session) ActivateNext(now time.Time) *Task {
	if s.CountStatus(TaskInProgress) > 0 || s.CountStatus(TaskBlocked) > 0 {
		return nil
	}
	next := s.NextPending()
	if next == nil {
		return nil
	}
	next.Start(now)
	return next
}

// Record appends a command to the bounded history.
func (s *Session) Record(action, status, taskID string, now time.Time) {
	s.History = append(s.History, CommandRecord{Action: action, Status: status, TaskID: taskID, At: now})
	if over := len(s.History) - MaxHistory; over > 0 {
		s.History = append([]CommandRecord(nil), s.History[over:]...)
	}
}

// CheckInvariants verifies the cross-transition invariants of the graph.
func (s *Session) CheckInvariants() error {
	inProgress := s.CountStatus(TaskInProgress)
	blocked := s.CountStatus(TaskBlocked)

	if inProgress+blocked > 1 {
		return invariantError("more than one task in progress or blocked (%d in progress, %d blocked)", inProgress, blocked)
	}
	switch s.Status {
	case StatusActive:
		if blocked > 0 {
			return invariantError("active session holds a blocked task")
		}
		if s.Unfinished() > 0 && inProgress != 1 {
			return invariantError("active session with %d unfinished tasks has %d in progress", s.Unfinished(), inProgress)
		}
	case StatusPaused:
		if !s.Paused {
			return invariantError("paused session without pause flag")
		}
	}
	if s.Status != StatusPaused && s.Paused {
		return invariantError("pause flag set on %s session", s.Status)
	}

	for _, t := range s.Tasks {
		if err := t.checkInvariants(); err != nil {
			return err
		}
	}
	return nil
}

func invariantError(format string, args ...any) error {
	return taskerr.TaskError(taskerr.CodeInvariantBroken, format, args...)
}

// NewTask builds a pending Task with its three phase records.
func NewTask(spec TaskSpec, defaultMaxCycles int, now time.Time) *Task {
	complexity := spec.Complexity
	if complexity == "" {
		complexity = ComplexityModerate
	}
	required := true
	if spec.ValidationRequired != nil {
		required = *spec.ValidationRequired
	}
	review := spec.RequiresAdversarialReview || complexity == ComplexityArchitectural
	maxCycles := spec.MaxCorrectionCycles
	if maxCycles <= 0 {
		maxCycles = defaultMaxCycles
	}
	criteria := append([]string{}, spec.ValidationCriteria...)

	t := &Task{
		ID:                        uuid.New().String(),
		Description:               strings.TrimSpace(spec.Description),
		Status:                    TaskPending,
		CurrentPhase:              PhasePlanning,
		ValidationRequired:        required,
		ValidationCriteria:        criteria,
		Evidence:                  []Evidence{},
		Complexity:                complexity,
		RequiresAdversarialReview: review,
		MaxCorrectionCycles:       maxCycles,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	t.Phases = Phases{
		Planning: &Phase{
			Name:        PhasePlanning,
			Description: "Break the task down and decide which declared tools to use",
			Status:      PhasePending,
			Steps:       append([]string{}, spec.Steps...),
			Assignments: []ToolAssignment{},
		},
		Execution: &Phase{
			Name:                      PhaseExecution,
			Description:               "Carry out the plan using only declared tools",
			Status:                    PhasePending,
			Steps:                     []string{},
			Assignments:               []ToolAssignment{},
			RequiresStaticAnalysis:    complexity == ComplexityComplex || complexity == ComplexityArchitectural,
			RequiresAdversarialReview: review,
		},
		Validation: &Phase{
			Name:        PhaseValidation,
			Description: "Prove the result against the declared validation criteria",
			Status:      PhasePending,
			Steps:       []string{},
			Assignments: []ToolAssignment{},
		},
	}
	return t
}

// Start moves a pending task into planning.
func (t *Task) Start(now time.Time) {
	t.Status = TaskInProgress
	t.CurrentPhase = PhasePlanning
	t.Phases.Planning.Status = PhaseInProgress
	t.Phases.Planning.StartedAt = timePtr(now)
	t.UpdatedAt = now
}

// SetStatus moves the task to target, enforcing ValidTaskTransitions.
func (t *Task) SetStatus(target TaskStatus, now time.Time) error {
	if t.Status == target {
		return nil
	}
	if !t.Status.CanTransitionTo(target) {
		return taskerr.TaskError(taskerr.CodeInvalidState,
			"task %s cannot move from %s to %s", t.ID, t.Status, target).
			WithDetail("task_id", t.ID)
	}
	t.Status = target
	t.UpdatedAt = now
	if target == TaskCompleted {
		t.CompletedAt = timePtr(now)
	}
	return nil
}

// Advance completes the current phase and enters the next one.
func (t *Task) Advance(now time.Time) (PhaseName, error) {
	next, ok := t.CurrentPhase.Next()
	if !ok {
		return "", taskerr.TaskError(taskerr.CodePhaseOrder,
			"task %s has no phase after %s", t.ID, t.CurrentPhase)
	}
	cur := t.Phases.Get(t.CurrentPhase)
	cur.Status = PhaseCompleted
	cur.CompletedAt = timePtr(now)

	np := t.Phases.Get(next)
	np.Status = PhaseInProgress
	np.StartedAt = timePtr(now)
	t.CurrentPhase = next
	t.UpdatedAt = now
	return next, nil
}

// Complete closes the validation phase and marks the task completed.
func (t *Task) Complete(now time.Time) error {
	if t.ValidationRequired && !t.HasPassingEvidence() {
		return taskerr.ValidationError(taskerr.CodeValidationFailed,
			"task %s requires passing validation evidence before completion", t.ID)
	}
	if err := t.SetStatus(TaskCompleted, now); err != nil {
		return err
	}
	for _, name := range PhaseOrder {
		p := t.Phases.Get(name)
		if p.Status != PhaseCompleted {
			p.Status = PhaseCompleted
			p.CompletedAt = timePtr(now)
		}
	}
	t.CurrentPhase = PhaseValidation
	return nil
}

// AddEvidence appends evidence, assigning an id and timestamp.
func (t *Task) AddEvidence(e Evidence, now time.Time) Evidence {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At.IsZero() {
		e.At = now
	}
	t.Evidence = append(t.Evidence, e)
	t.UpdatedAt = now
	return e
}

// HasPassingEvidence reports whether any recorded evidence passed validation.
func (t *Task) HasPassingEvidence() bool {
	for _, e := range t.Evidence {
		if e.Passed {
			return true
		}
	}
	return false
}

// CurrentPhaseRecord returns the phase record the task is in.
func (t *Task) CurrentPhaseRecord() *Phase {
	return t.Phases.Get(t.CurrentPhase)
}

func (t *Task) checkInvariants() error {
	if !t.CurrentPhase.Valid() {
		return invariantError("task %s has unknown phase %q", t.ID, t.CurrentPhase)
	}
	if t.Status == TaskCompleted && t.ValidationRequired && !t.HasPassingEvidence() {
		return invariantError("task %s completed without passing evidence", t.ID)
	}
	if r := t.AdversarialReview; r != nil && r.CorrectionCycles > r.MaxCorrectionCycles {
		return invariantError("task %s review exceeded %d correction cycles", t.ID, r.MaxCorrectionCycles)
	}
	return nil
}

// TaskSpec is the client-supplied description of a task to create.
type TaskSpec struct {
	Description               string                         `json:"description"`
	ValidationCriteria        []string                       `json:"validation_criteria,omitempty"`
	ValidationRequired        *bool                          `json:"validation_required,omitempty"`
	Complexity                Complexity                     `json:"complexity,omitempty"`
	RequiresAdversarialReview bool                           `json:"requires_adversarial_review,omitempty"`
	MaxCorrectionCycles       int                            `json:"max_correction_cycles,omitempty"`
	Steps                     []string                       `json:"steps,omitempty"`
	Tools                     map[PhaseName][]ToolAssignment `json:"tools,omitempty"`
}

// Validate checks s before a task is built from it.
func (s TaskSpec) Validate() error {
	if strings.TrimSpace(s.Description) == "" {
		return taskerr.CommandError(taskerr.CodeInvalidPayload, "task description is required")
	}
	switch s.Complexity {
	case "", ComplexitySimple, ComplexityModerate, ComplexityComplex, ComplexityArchitectural:
	default:
		return taskerr.CommandError(taskerr.CodeInvalidPayload, "unknown complexity %q", s.Complexity)
	}
	if s.MaxCorrectionCycles < 0 {
		return taskerr.CommandError(taskerr.CodeInvalidPayload, "max_correction_cycles must be >= 0")
	}
	for phase := range s.Tools {
		if !phase.Valid() {
			return taskerr.CommandError(taskerr.CodeInvalidPayload, "unknown phase %q in tools", phase)
		}
	}
	return nil
}

// String implements fmt.Stringer for log output.
func (t *Task) String() string {
	return fmt.Sprintf("%s[%s/%s]", t.ID, t.Status, t.CurrentPhase)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
