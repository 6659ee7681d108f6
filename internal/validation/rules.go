package validation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/taskmaster/internal/session"
)

// Built-in rule names.
const (
	RuleEvidencePresent      = "evidence_present"
	RuleTestsPassed          = "tests_passed"
	RuleNoPlaceholders       = "no_placeholders"
	RuleCommandSucceeded     = "command_succeeded"
	RuleWorldModelConsistent = "world_model_consistent"
	RuleCapabilitiesUsed     = "capabilities_used"
	RuleMinEvidence          = "min_evidence"
	RuleOutputContains       = "output_contains"
)

func registerBuiltins(r *Registry) {
	r.RegisterRule(evidencePresent{})
	r.RegisterRule(testsPassed{})
	r.RegisterRule(noPlaceholders{})
	r.RegisterRule(commandSucceeded{})
	r.RegisterRule(worldModelConsistent{})
	r.RegisterRule(capabilitiesUsed{})
	r.Register(RuleMinEvidence, func(arg string) (Rule, error) {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("min_evidence needs a positive count, got %q", arg)
		}
		return minEvidence{n: n}, nil
	})
	r.Register(RuleOutputContains, func(arg string) (Rule, error) {
		if arg == "" {
			return nil, fmt.Errorf("output_contains needs the expected text")
		}
		return outputContains{want: arg}, nil
	})
}

func pass(msg string, args ...any) Result {
	return Result{Outcome: Passed, Message: fmt.Sprintf(msg, args...)}
}

func fail(msg string, args ...any) Result {
	return Result{Outcome: Failed, Message: fmt.Sprintf(msg, args...)}
}

func unsure(msg string, args ...any) Result {
	return Result{Outcome: Inconclusive, Message: fmt.Sprintf(msg, args...)}
}

type evidencePresent struct{}

func (evidencePresent) Name() string { return RuleEvidencePresent }

func (evidencePresent) Evaluate(_ context.Context, in *Input) Result {
	r := func() Result {
		for _, t := range in.Texts() {
			if strings.TrimSpace(t) != "" {
				return pass("%d evidence item(s) submitted", len(in.Texts()))
			}
		}
		return fail("no evidence submitted")
	}()
	r.Rule = RuleEvidencePresent
	return r
}

type testsPassed struct{}

func (testsPassed) Name() string { return RuleTestsPassed }

var (
	testFailurePattern = regexp.MustCompile(`(?mi)^(--- FAIL|FAIL\b|not ok\b)|\bpanic:|\b[1-9]\d* (failed|failures?|failing)\b|\b[1-9]\d* tests? failed\b|^\s*(some |all )?tests? failed\b`)
	testPassPattern    = regexp.MustCompile(`(?mi)^(PASS\b|ok\s+\S+)|\b\d+ (passed|passing)\b|\ball tests passed\b|\btests? passed\b|✓`)
)

func (testsPassed) Evaluate(_ context.Context, in *Input) Result {
	var outputs []string
	for _, e := range in.Evidence {
		if e.Type == session.EvidenceTestOutput {
			outputs = append(outputs, e.Description, e.Details)
		}
	}
	for _, run := range in.Grounding {
		if looksLikeTestCommand(run.Command) {
			if run.ExitCode != 0 {
				return fail("test command %q exited with code %d", run.Command, run.ExitCode)
			}
			outputs = append(outputs, run.Stdout, run.Stderr)
		}
	}
	outputs = append(outputs, in.Texts()...)

	joined := strings.TrimSpace(strings.Join(outputs, "\n"))
	if joined == "" {
		return unsure("no test output found")
	}
	if isHelpOutput(joined) {
		return fail("test evidence is --help or usage output, not a test run")
	}
	if m := testFailurePattern.FindString(joined); m != "" {
		return fail("test output reports failures (%q)", strings.TrimSpace(m))
	}
	if testPassPattern.MatchString(joined) {
		return pass("test output reports passing tests")
	}
	return unsure("no recognizable test result in evidence")
}

func looksLikeTestCommand(cmd string) bool {
	lower := strings.ToLower(cmd)
	for _, k := range []string{"test", "pytest", "jest", "vitest", "mocha", "rspec"} {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// testRunPatterns mark output as a real test run, whatever else it contains.
var testRunPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(pass|fail|error).*\d+`),
	regexp.MustCompile(`(?i)test.*\([\d.]+s\)`),
	regexp.MustCompile(`✓|✗`),
	regexp.MustCompile(`(?i)ok\s+\S+\s+[\d.]+s`),
	regexp.MustCompile(`(?i)test suites?:\s*\d+`),
}

// isHelpOutput detects output that looks like --help text rather than a
// test run.
func isHelpOutput(output string) bool {
	if output == "" {
		return false
	}
	lower := strings.ToLower(output)

	for _, p := range testRunPatterns {
		if p.MatchString(output) {
			return false
		}
	}

	helpCount := 0
	for _, p := range []string{"usage:", "--help", "-h, --help", "show help", "show this help", "options:"} {
		if strings.Contains(lower, p) {
			helpCount++
		}
	}
	return helpCount >= 2
}

type noPlaceholders struct{}

func (noPlaceholders) Name() string { return RuleNoPlaceholders }

var placeholderPattern = regexp.MustCompile(`\b(TODO|FIXME|XXX|TBD)\b|(?i:\bplaceholder\b|\bnot implemented\b|\blorem ipsum\b|\bstub(bed)? out\b)`)

func (noPlaceholders) Evaluate(_ context.Context, in *Input) Result {
	var hits []string
	for _, t := range in.Texts() {
		for _, m := range placeholderPattern.FindAllString(t, -1) {
			hits = append(hits, m)
		}
	}
	if len(hits) > 0 {
		return fail("evidence contains placeholder markers: %s", strings.Join(dedup(hits), ", "))
	}
	return pass("no placeholder markers in evidence")
}

type commandSucceeded struct{}

func (commandSucceeded) Name() string { return RuleCommandSucceeded }

func (commandSucceeded) Evaluate(_ context.Context, in *Input) Result {
	if len(in.Grounding) == 0 {
		return unsure("no command runs recorded; use record_grounding")
	}
	for _, run := range in.Grounding {
		if run.ExitCode != 0 {
			return fail("command %q exited with code %d", run.Command, run.ExitCode)
		}
	}
	return pass("%d recorded command(s) exited 0", len(in.Grounding))
}

type worldModelConsistent struct{}

func (worldModelConsistent) Name() string { return RuleWorldModelConsistent }

func (worldModelConsistent) Evaluate(_ context.Context, in *Input) Result {
	if len(in.WorldModel) == 0 {
		return unsure("world model is empty; record observations with update_world_model")
	}
	for _, e := range in.WorldModel {
		severe := e.Criticality == session.CriticalityHigh || e.Criticality == session.CriticalityCritical
		if e.Verification == session.Contradicted && severe {
			return fail("%s entry %s from %s is contradicted", e.Criticality, e.ID, e.Source)
		}
		if e.Type == session.EntryClaim && e.Criticality == session.CriticalityCritical && e.Verification != session.Verified {
			return fail("critical claim %s is %s", e.ID, e.Verification)
		}
	}
	return pass("%d world-model entries, no blocking contradictions", len(in.WorldModel))
}

type capabilitiesUsed struct{}

func (capabilitiesUsed) Name() string { return RuleCapabilitiesUsed }

func (capabilitiesUsed) Evaluate(_ context.Context, in *Input) Result {
	if len(in.Capabilities) == 0 {
		return unsure("no capabilities declared")
	}
	text := strings.ToLower(strings.Join(in.Texts(), "\n"))
	for _, run := range in.Grounding {
		text += "\n" + strings.ToLower(run.Command)
	}
	for _, c := range in.Capabilities {
		if strings.Contains(text, strings.ToLower(c.Name)) {
			return pass("evidence references declared capability %q", c.Name)
		}
	}
	return unsure("evidence does not reference any declared capability")
}

type minEvidence struct{ n int }

func (minEvidence) Name() string { return RuleMinEvidence }

func (r minEvidence) Evaluate(_ context.Context, in *Input) Result {
	count := 0
	for _, e := range in.Evidence {
		if strings.TrimSpace(e.Description+e.Details) != "" {
			count++
		}
	}
	if count >= r.n {
		return pass("%d evidence item(s), need %d", count, r.n)
	}
	return fail("%d evidence item(s), need %d", count, r.n)
}

type outputContains struct{ want string }

func (outputContains) Name() string { return RuleOutputContains }

func (r outputContains) Evaluate(_ context.Context, in *Input) Result {
	for _, t := range in.Texts() {
		if strings.Contains(t, r.want) {
			return pass("evidence contains %q", r.want)
		}
	}
	for _, run := range in.Grounding {
		if strings.Contains(run.Stdout, r.want) {
			return pass("output of %q contains %q", run.Command, r.want)
		}
	}
	return fail("no evidence contains %q", r.want)
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
