// Package session holds the taskmaster data model: a Session owns an ordered
// list of Tasks, a capability snapshot, and an append-only world-model ledger.
// Each Task owns its three Phases, its Evidence, and an optional
// AdversarialReview.
package session

import (
	"time"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
)

// PhaseName identifies one of the three task phases.
type PhaseName string

const (
	PhasePlanning   PhaseName = "planning"
	PhaseExecution  PhaseName = "execution"
	PhaseValidation PhaseName = "validation"
)

// PhaseOrder is the only legal order of phases within a Task.
var PhaseOrder = []PhaseName{PhasePlanning, PhaseExecution, PhaseValidation}

// PhaseStatus is the state of a single Phase record.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
)

// Complexity is the task complexity tier.
type Complexity string

const (
	ComplexitySimple        Complexity = "simple"
	ComplexityModerate      Complexity = "moderate"
	ComplexityComplex       Complexity = "complex"
	ComplexityArchitectural Complexity = "architectural"
)

// CapabilityKind distinguishes built-in tools, external (MCP) tools, and
// user-supplied resources.
type CapabilityKind string

const (
	KindBuiltinTool  CapabilityKind = "builtin_tool"
	KindMCPTool      CapabilityKind = "mcp_tool"
	KindUserResource CapabilityKind = "user_resource"
)

// EvidenceType tags a piece of Evidence.
type EvidenceType string

const (
	EvidenceCompletion EvidenceType = "completion"
	EvidenceExecution  EvidenceType = "execution"
	EvidenceTestOutput EvidenceType = "test_output"
	EvidenceReview     EvidenceType = "review"
	EvidenceValidation EvidenceType = "validation"
	EvidenceUser       EvidenceType = "user"
)

// ReviewPhase is the generation phase of an AdversarialReview.
type ReviewPhase string

const (
	ReviewGenerated ReviewPhase = "generated"
	ReviewReviewed  ReviewPhase = "reviewed"
	ReviewApproved  ReviewPhase = "approved"
)

// EntryType tags a world-model ledger entry.
type EntryType string

const (
	EntryToolOutput  EntryType = "tool_output"
	EntryFileState   EntryType = "file_state"
	EntryObservation EntryType = "observation"
	EntryClaim       EntryType = "claim"
	EntryError       EntryType = "error"
)

// Verification is the verification status of a world-model entry.
type Verification string

const (
	Verified     Verification = "verified"
	Unverified   Verification = "unverified"
	Contradicted Verification = "contradicted"
)

// Criticality ranks how much a world-model entry matters for validation.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Session is one end-to-end workflow instance.
type Session struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Status               Status            `json:"status"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	Tasks                []*Task           `json:"tasks"`
	Capabilities         []Capability      `json:"capabilities"`
	CapabilitiesDeclared bool              `json:"capabilities_declared"`
	WorldModel           []WorldModelEntry `json:"world_model"`
	Paused               bool              `json:"paused"`
	PauseReason          string            `json:"pause_reason,omitempty"`
	Version              int64             `json:"version"`
	History              []CommandRecord   `json:"history,omitempty"`
}

// Task is one unit of work within a Session.
type Task struct {
	ID                        string             `json:"id"`
	Description               string             `json:"description"`
	Status                    TaskStatus         `json:"status"`
	CurrentPhase              PhaseName          `json:"current_phase"`
	Phases                    Phases             `json:"phases"`
	ValidationRequired        bool               `json:"validation_required"`
	ValidationCriteria        []string           `json:"validation_criteria"`
	Evidence                  []Evidence         `json:"evidence"`
	AdversarialReview         *AdversarialReview `json:"adversarial_review,omitempty"`
	Complexity                Complexity         `json:"complexity"`
	RequiresAdversarialReview bool               `json:"requires_adversarial_review"`
	MaxCorrectionCycles       int                `json:"max_correction_cycles"`
	ErrorDetails              string             `json:"error_details,omitempty"`
	CreatedAt                 time.Time          `json:"created_at"`
	UpdatedAt                 time.Time          `json:"updated_at"`
	CompletedAt               *time.Time         `json:"completed_at,omitempty"`
}

// Phases holds the three phase records of a Task.
type Phases struct {
	Planning   *Phase `json:"planning"`
	Execution  *Phase `json:"execution"`
	Validation *Phase `json:"validation"`
}

// Get returns the phase record for name, or nil.
func (p *Phases) Get(name PhaseName) *Phase {
	switch name {
	case PhasePlanning:
		return p.Planning
	case PhaseExecution:
		return p.Execution
	case PhaseValidation:
		return p.Validation
	}
	return nil
}

// Phase is the Planning, Execution, or Validation sub-state of a Task.
type Phase struct {
	Name                      PhaseName        `json:"name"`
	Description               string           `json:"description"`
	Status                    PhaseStatus      `json:"status"`
	Assignments               []ToolAssignment `json:"assignments"`
	Steps                     []string         `json:"steps"`
	Guidance                  string           `json:"guidance"`
	Grounding                 *Grounding       `json:"grounding,omitempty"`
	RequiresStaticAnalysis    bool             `json:"requires_static_analysis"`
	RequiresAdversarialReview bool             `json:"requires_adversarial_review"`
	StartedAt                 *time.Time       `json:"started_at,omitempty"`
	CompletedAt               *time.Time       `json:"completed_at,omitempty"`
}

// ToolAssignment binds a declared capability to a phase.
type ToolAssignment struct {
	Name     string `json:"name"`
	Purpose  string `json:"purpose"`
	Priority int    `json:"priority"`
}

// Grounding records the command history observed during a phase.
type Grounding struct {
	Runs []CommandRun `json:"runs"`
}

// CommandRun is one command execution reported by the agent.
type CommandRun struct {
	Command  string    `json:"command"`
	Stdout   string    `json:"stdout,omitempty"`
	Stderr   string    `json:"stderr,omitempty"`
	ExitCode int       `json:"exit_code"`
	At       time.Time `json:"at"`
}

// Capability is a tool or resource the agent declared as available.
type Capability struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Kind        CapabilityKind    `json:"kind"`
	Usage       map[string]string `json:"usage,omitempty"`
}

// Evidence is an artifact or claim submitted to justify a validation result.
type Evidence struct {
	ID          string       `json:"id"`
	Description string       `json:"description"`
	Details     string       `json:"details,omitempty"`
	Type        EvidenceType `json:"type"`
	Passed      bool         `json:"passed"`
	At          time.Time    `json:"at"`
}

// AdversarialReview is a bounded self-critique loop over a task's artifact.
type AdversarialReview struct {
	GenerationPhase     ReviewPhase     `json:"generation_phase"`
	Content             string          `json:"content"`
	Generator           string          `json:"generator"`
	Reviewer            string          `json:"reviewer,omitempty"`
	Findings            []ReviewFinding `json:"findings"`
	CorrectionCycles    int             `json:"correction_cycles"`
	MaxCorrectionCycles int             `json:"max_correction_cycles"`
	Approved            bool            `json:"approved"`
	Exhausted           bool            `json:"exhausted"`
	StartedAt           time.Time       `json:"started_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the review can no longer change.
func (r *AdversarialReview) IsTerminal() bool {
	return r.Approved || r.Exhausted
}

// ReviewFinding is one categorized issue raised by a reviewer.
type ReviewFinding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// WorldModelEntry is one append-only record of observed ground truth.
type WorldModelEntry struct {
	ID           string       `json:"id"`
	At           time.Time    `json:"at"`
	Type         EntryType    `json:"type"`
	Source       string       `json:"source"`
	Content      string       `json:"content"`
	FilePath     string       `json:"file_path,omitempty"`
	Verification Verification `json:"verification"`
	Criticality  Criticality  `json:"criticality"`
}

// CommandRecord is one line of the session's command history.
type CommandRecord struct {
	Action string    `json:"action"`
	Status string    `json:"status"`
	TaskID string    `json:"task_id,omitempty"`
	At     time.Time `json:"at"`
}

// MaxHistory bounds Session.History.
const MaxHistory = 200
