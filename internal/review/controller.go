// Package review drives the bounded generate, review, correct loop applied to
// a task's execution output before it may be validated.
//
// The controller only records verdicts. It never edits the reviewed content;
// corrections are handed back to the caller through the next recommended
// action.
package review

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

// DefaultMaxCorrectionCycles bounds self-correction when neither config nor
// the task says otherwise.
const DefaultMaxCorrectionCycles = 3

// Categories findings may be filed under. Anything else becomes General.
var Categories = []string{
	"Error Handling",
	"Testing",
	"Security",
	"Performance",
	"Correctness",
	"Maintainability",
	"Documentation",
}

// CategoryGeneral is used for findings with an unrecognized category.
const CategoryGeneral = "General"

// Outcome is the controller's decision after a verdict.
type Outcome string

const (
	Approved           Outcome = "approved"
	CorrectionRequired Outcome = "correction_required"
	Exhausted          Outcome = "exhausted"
)

// Verdict is a reviewer's judgement of the current content.
type Verdict struct {
	Approved bool                    `json:"approved"`
	Reviewer string                  `json:"reviewer,omitempty"`
	Findings []session.ReviewFinding `json:"findings,omitempty"`
}

// Controller applies verdicts to AdversarialReview records.
type Controller struct {
	maxCycles int
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithMaxCorrectionCycles sets the default bound for tasks that do not carry
// their own.
func WithMaxCorrectionCycles(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxCycles = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		maxCycles: DefaultMaxCorrectionCycles,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxCycles returns the controller's default bound.
func (c *Controller) MaxCycles() int {
	return c.maxCycles
}

// NeedsContent reports whether the task's review is waiting for content,
// either because none was generated yet or because a correction was requested.
func NeedsContent(t *session.Task) bool {
	r := t.AdversarialReview
	return r == nil || (!r.IsTerminal() && r.GenerationPhase == session.ReviewReviewed)
}

// Generate records content for review. The first call creates the review;
// later calls regenerate after a correction without touching the cycle count.
func (c *Controller) Generate(t *session.Task, content, generator string) (*session.AdversarialReview, error) {
	if strings.TrimSpace(content) == "" {
		return nil, taskerr.CommandError(taskerr.CodeInvalidPayload,
			"review content is required").WithDetail("field", "execution_evidence")
	}
	now := c.now().UTC()
	r := t.AdversarialReview
	if r == nil {
		limit := t.MaxCorrectionCycles
		if limit <= 0 {
			limit = c.maxCycles
		}
		r = &session.AdversarialReview{
			MaxCorrectionCycles: limit,
			Findings:            []session.ReviewFinding{},
			StartedAt:           now,
		}
		t.AdversarialReview = r
	} else if r.IsTerminal() {
		return nil, taskerr.TaskError(taskerr.CodeInvalidState,
			"review of task %s is already %s", t.ID, terminalState(r))
	}

	r.GenerationPhase = session.ReviewGenerated
	r.Content = content
	if generator != "" {
		r.Generator = generator
	}
	r.UpdatedAt = now

	c.logger.Debug("review content generated",
		zap.String("task.id", t.ID),
		zap.Int("cycles", r.CorrectionCycles),
	)
	return r, nil
}

// Submit applies v to the task's review.
//
// An approval is terminal. A rejection requests a correction while cycles
// remain; otherwise the review is exhausted with the cycle count unchanged.
func (c *Controller) Submit(t *session.Task, v Verdict) (Outcome, error) {
	r := t.AdversarialReview
	if r == nil || r.GenerationPhase != session.ReviewGenerated {
		return "", taskerr.TaskError(taskerr.CodeInvalidState,
			"task %s has no generated content awaiting review", t.ID)
	}
	if r.IsTerminal() {
		return "", taskerr.TaskError(taskerr.CodeInvalidState,
			"review of task %s is already %s", t.ID, terminalState(r))
	}

	now := c.now().UTC()
	r.UpdatedAt = now
	if v.Reviewer != "" {
		r.Reviewer = v.Reviewer
	}
	r.Findings = append(r.Findings, NormalizeFindings(v.Findings)...)

	var outcome Outcome
	switch {
	case v.Approved:
		r.GenerationPhase = session.ReviewApproved
		r.Approved = true
		outcome = Approved
	case r.CorrectionCycles < r.MaxCorrectionCycles:
		r.CorrectionCycles++
		r.GenerationPhase = session.ReviewReviewed
		outcome = CorrectionRequired
	default:
		r.GenerationPhase = session.ReviewReviewed
		r.Exhausted = true
		outcome = Exhausted
	}

	c.logger.Info("review verdict applied",
		zap.String("task.id", t.ID),
		zap.String("outcome", string(outcome)),
		zap.Int("cycles", r.CorrectionCycles),
		zap.Int("max_cycles", r.MaxCorrectionCycles),
		zap.Int("findings", len(v.Findings)),
	)
	return outcome, nil
}

// Reopen grants an exhausted review a fresh set of correction cycles. It is
// used when a user resumes a task that was blocked by exhaustion; findings are
// kept. It reports whether anything changed.
func (c *Controller) Reopen(t *session.Task) bool {
	r := t.AdversarialReview
	if r == nil || !r.Exhausted {
		return false
	}
	r.Exhausted = false
	r.CorrectionCycles = 0
	r.GenerationPhase = session.ReviewReviewed
	r.UpdatedAt = c.now().UTC()
	c.logger.Info("review reopened", zap.String("task.id", t.ID))
	return true
}

// RequireApproved fails with REVIEW_NOT_APPROVED when t needs a review that
// has not been approved.
func RequireApproved(t *session.Task) error {
	if !t.RequiresAdversarialReview {
		return nil
	}
	if r := t.AdversarialReview; r != nil && r.Approved {
		return nil
	}
	cycles := 0
	if t.AdversarialReview != nil {
		cycles = t.AdversarialReview.CorrectionCycles
	}
	return taskerr.ValidationError(taskerr.CodeReviewNotApproved,
		"task %s requires an approved adversarial review", t.ID).
		WithDetail("correction_cycles", cycles)
}

// NormalizeFindings maps categories onto the fixed list, case-insensitively.
func NormalizeFindings(in []session.ReviewFinding) []session.ReviewFinding {
	out := make([]session.ReviewFinding, 0, len(in))
	for _, f := range in {
		f.Category = normalizeCategory(f.Category)
		f.Description = strings.TrimSpace(f.Description)
		f.Suggestion = strings.TrimSpace(f.Suggestion)
		out = append(out, f)
	}
	return out
}

func normalizeCategory(c string) string {
	c = strings.TrimSpace(c)
	for _, known := range Categories {
		if strings.EqualFold(c, known) || strings.EqualFold(strings.ReplaceAll(c, "_", " "), known) {
			return known
		}
	}
	return CategoryGeneral
}

func terminalState(r *session.AdversarialReview) string {
	if r.Approved {
		return "approved"
	}
	return "exhausted"
}
