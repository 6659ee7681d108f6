package secrets

import (
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"
)

// Finding is one detected secret. The value itself is not kept.
type Finding struct {
	RuleID     string `json:"rule_id"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Line       int    `json:"line"`
}

// Result is the outcome of a Scrub call.
type Result struct {
	Scrubbed string    `json:"scrubbed"`
	Findings []Finding `json:"findings,omitempty"`
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// RuleIDs returns the distinct rule ids that matched, sorted.
func (r *Result) RuleIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, f := range r.Findings {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			ids = append(ids, f.RuleID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Redactor scrubs secrets from text.
type Redactor struct {
	cfg    *Config
	logger *zap.Logger

	// gitleaks detectors are not documented as safe for concurrent use.
	mu       sync.Mutex
	detector *detect.Detector
}

// New creates a Redactor. A nil cfg uses DefaultConfig.
func New(cfg *Config, logger *zap.Logger) (*Redactor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Redactor{cfg: cfg, logger: logger}
	if cfg.Enabled && cfg.Gitleaks {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, err
		}
		r.detector = d
	}
	return r, nil
}

// Disabled returns a Redactor that passes text through unchanged.
func Disabled() *Redactor {
	return &Redactor{cfg: &Config{Enabled: false}, logger: zap.NewNop()}
}

// Enabled reports whether redaction is active.
func (r *Redactor) Enabled() bool {
	return r != nil && r.cfg.Enabled
}

type span struct {
	start, end int
	ruleID     string
}

// Scrub detects and redacts secrets in content.
func (r *Redactor) Scrub(content string) *Result {
	res := &Result{Scrubbed: content}
	if !r.Enabled() || content == "" {
		return res
	}

	var spans []span
	for _, rl := range builtinRules {
		for _, m := range rl.pattern.FindAllStringSubmatchIndex(content, -1) {
			start, end := m[0], m[1]
			if rl.group > 0 && len(m) > 2*rl.group+1 && m[2*rl.group] >= 0 {
				start, end = m[2*rl.group], m[2*rl.group+1]
			}
			spans = append(spans, span{start: start, end: end, ruleID: rl.id})
		}
	}
	spans = append(spans, r.gitleaksSpans(content)...)

	kept := spans[:0]
	for _, s := range spans {
		if !r.allowed(content[s.start:s.end]) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return res
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })
	for _, s := range kept {
		res.Findings = append(res.Findings, Finding{
			RuleID:     s.ruleID,
			StartIndex: s.start,
			EndIndex:   s.end,
			Line:       strings.Count(content[:s.start], "\n") + 1,
		})
	}

	merged := mergeSpans(kept)
	var b strings.Builder
	last := 0
	for _, s := range merged {
		b.WriteString(content[last:s.start])
		b.WriteString(r.cfg.RedactionString)
		last = s.end
	}
	b.WriteString(content[last:])
	res.Scrubbed = b.String()

	r.logger.Debug("secrets redacted",
		zap.Int("findings", len(res.Findings)),
		zap.Strings("rules", res.RuleIDs()),
	)
	return res
}

// Redact returns content with secrets replaced.
func (r *Redactor) Redact(content string) string {
	return r.Scrub(content).Scrubbed
}

func (r *Redactor) gitleaksSpans(content string) []span {
	if r.detector == nil {
		return nil
	}
	r.mu.Lock()
	findings := r.detector.DetectString(content)
	r.mu.Unlock()

	var spans []span
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		for off := 0; off < len(content); {
			i := strings.Index(content[off:], f.Secret)
			if i < 0 {
				break
			}
			start := off + i
			spans = append(spans, span{start: start, end: start + len(f.Secret), ruleID: f.RuleID})
			off = start + len(f.Secret)
		}
	}
	return spans
}

func (r *Redactor) allowed(match string) bool {
	for _, re := range r.cfg.compiledAllowList {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeSpans merges overlapping or adjacent spans. Input must be sorted by
// start.
func mergeSpans(spans []span) []span {
	merged := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			if cur.end > last.end {
				last.end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}
