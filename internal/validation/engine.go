// Package validation evaluates a task's declared validation criteria against
// the evidence submitted for it.
//
// Each criterion names a Rule in a Registry, optionally with an argument
// ("min_evidence:2"). Rules are evaluated independently and produce passed,
// failed, or inconclusive. An unrecognized rule name never passes silently:
// it is surfaced as an advisory warning, or as a failure in strict mode.
package validation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/session"
)

// Outcome is the result of evaluating a rule or a whole criteria list.
type Outcome string

const (
	Passed       Outcome = "passed"
	Failed       Outcome = "failed"
	Inconclusive Outcome = "inconclusive"
)

// Input is everything a rule may inspect.
type Input struct {
	TaskDescription   string
	Evidence          []session.Evidence
	ExecutionEvidence string
	Grounding         []session.CommandRun
	WorldModel        []session.WorldModelEntry
	Capabilities      []session.Capability
}

// Texts returns every free-text artifact in the input.
func (in *Input) Texts() []string {
	out := make([]string, 0, len(in.Evidence)*2+1)
	for _, e := range in.Evidence {
		if e.Description != "" {
			out = append(out, e.Description)
		}
		if e.Details != "" {
			out = append(out, e.Details)
		}
	}
	if in.ExecutionEvidence != "" {
		out = append(out, in.ExecutionEvidence)
	}
	return out
}

// Result is one rule's verdict.
type Result struct {
	Rule    string  `json:"rule"`
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message"`
}

// Rule evaluates one criterion.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, in *Input) Result
}

// Factory builds a rule from the argument after the colon in a criterion.
// Rules without arguments receive "".
type Factory func(arg string) (Rule, error)

// Registry maps rule names to factories.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Factory
}

// NewRegistry returns a registry holding the built-in rules.
func NewRegistry() *Registry {
	r := &Registry{rules: make(map[string]Factory)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces a rule factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[strings.ToLower(name)] = f
}

// RegisterRule adds an argument-less rule.
func (r *Registry) RegisterRule(rule Rule) {
	r.Register(rule.Name(), func(arg string) (Rule, error) {
		if arg != "" {
			return nil, fmt.Errorf("rule %s takes no argument", rule.Name())
		}
		return rule, nil
	})
}

// Names lists registered rule names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rules))
	for name := range r.rules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve parses criterion and builds its rule. ok is false when the name is
// not registered.
func (r *Registry) Resolve(criterion string) (rule Rule, ok bool, err error) {
	name, arg := splitCriterion(criterion)
	r.mu.RLock()
	f, found := r.rules[name]
	r.mu.RUnlock()
	if !found {
		return nil, false, nil
	}
	rule, err = f(arg)
	return rule, true, err
}

func splitCriterion(c string) (string, string) {
	c = strings.TrimSpace(c)
	name, arg, _ := strings.Cut(c, ":")
	return strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(arg)
}

// Report is the aggregate verdict of an Evaluate call.
type Report struct {
	Outcome  Outcome  `json:"outcome"`
	Results  []Result `json:"results"`
	Messages []string `json:"messages"`
	Warnings []string `json:"warnings"`
}

// Engine evaluates criteria lists.
type Engine struct {
	registry *Registry
	strict   bool
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry replaces the built-in registry.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithStrictUnknownRules turns unknown rule names into failures.
func WithStrictUnknownRules(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine with the built-in registry.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	return e
}

// Registry returns the engine's rule registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Evaluate runs evidence_present plus every declared criterion.
//
// The aggregate is failed if any rule failed, inconclusive if any rule could
// not decide, and passed otherwise.
func (e *Engine) Evaluate(ctx context.Context, criteria []string, in *Input) *Report {
	report := &Report{Results: []Result{}, Messages: []string{}, Warnings: []string{}}

	declared := make([]string, 0, len(criteria))
	seen := make(map[string]bool)
	for _, c := range criteria {
		c = strings.TrimSpace(c)
		if c == "" || seen[strings.ToLower(c)] {
			continue
		}
		seen[strings.ToLower(c)] = true
		declared = append(declared, c)
	}

	if !seen[RuleEvidencePresent] {
		report.add(evidencePresent{}.Evaluate(ctx, in))
	}
	if len(declared) == 0 {
		report.Warnings = append(report.Warnings,
			"no validation criteria declared; result is based on evidence presence only")
	}

	for _, c := range declared {
		rule, ok, err := e.registry.Resolve(c)
		switch {
		case !ok && e.strict:
			report.add(Result{Rule: c, Outcome: Failed, Message: fmt.Sprintf("unknown validation rule %q", c)})
		case !ok:
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("unknown validation rule %q was not evaluated (known rules: %s)", c, strings.Join(e.registry.Names(), ", ")))
			e.logger.Warn("unknown validation rule", zap.String("rule", c))
		case err != nil:
			report.add(Result{Rule: c, Outcome: Failed, Message: fmt.Sprintf("invalid rule %q: %v", c, err)})
		default:
			res := rule.Evaluate(ctx, in)
			res.Rule = c
			report.add(res)
		}
	}

	report.Outcome = aggregate(report.Results)
	e.logger.Debug("validation evaluated",
		zap.String("outcome", string(report.Outcome)),
		zap.Int("rules", len(report.Results)),
		zap.Int("warnings", len(report.Warnings)),
	)
	return report
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	r.Messages = append(r.Messages, fmt.Sprintf("%s: %s (%s)", res.Rule, res.Message, res.Outcome))
}

func aggregate(results []Result) Outcome {
	outcome := Passed
	for _, r := range results {
		switch r.Outcome {
		case Failed:
			return Failed
		case Inconclusive:
			outcome = Inconclusive
		}
	}
	return outcome
}
