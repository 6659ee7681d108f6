package capability

import (
	"strings"

	"github.com/fyrsmithlabs/taskmaster/internal/session"
)

// phaseKeywords drive default tool assignment when a task does not request
// specific tools for a phase.
var phaseKeywords = map[session.PhaseName][]string{
	session.PhasePlanning:   {"read", "search", "grep", "glob", "find", "list", "ls", "view", "fetch", "plan", "web", "doc"},
	session.PhaseExecution:  {"edit", "write", "bash", "shell", "exec", "run", "create", "patch", "apply"},
	session.PhaseValidation: {"test", "lint", "check", "verify", "vet", "build", "run", "bash", "exec"},
}

var phasePurpose = map[session.PhaseName]string{
	session.PhasePlanning:   "gather context before deciding on an approach",
	session.PhaseExecution:  "make the planned changes",
	session.PhaseValidation: "produce evidence that the result is correct",
}

// Assign returns the tool assignments for phase. Requested assignments are
// checked against the registry and returned in request order; when nothing is
// requested, defaults are derived from declared names.
func (r *Registry) Assign(phase session.PhaseName, requested []session.ToolAssignment) ([]session.ToolAssignment, error) {
	if len(requested) > 0 {
		names := make([]string, 0, len(requested))
		for _, a := range requested {
			names = append(names, a.Name)
		}
		if err := r.CheckAll(names); err != nil {
			return nil, err
		}
		out := make([]session.ToolAssignment, 0, len(requested))
		for i, a := range requested {
			c, _ := r.Lookup(a.Name)
			purpose := a.Purpose
			if purpose == "" {
				purpose = phasePurpose[phase]
			}
			priority := a.Priority
			if priority <= 0 {
				priority = i + 1
			}
			out = append(out, session.ToolAssignment{Name: c.Name, Purpose: purpose, Priority: priority})
		}
		return out, nil
	}
	return r.defaults(phase), nil
}

func (r *Registry) defaults(phase session.PhaseName) []session.ToolAssignment {
	var matched, rest []session.Capability
	for _, c := range r.caps {
		switch {
		case c.Kind == session.KindUserResource:
			if phase == session.PhasePlanning || phase == session.PhaseExecution {
				matched = append(matched, c)
			}
		case matchesAny(c.Name, phaseKeywords[phase]):
			matched = append(matched, c)
		default:
			rest = append(rest, c)
		}
	}

	switch phase {
	case session.PhaseExecution:
		// Every declared tool is usable while executing; keyword matches rank first.
		matched = append(matched, rest...)
	case session.PhaseValidation:
		if len(matched) == 0 {
			for _, c := range rest {
				if c.Kind == session.KindBuiltinTool {
					matched = append(matched, c)
				}
			}
		}
	}

	out := make([]session.ToolAssignment, 0, len(matched))
	for i, c := range matched {
		purpose := phasePurpose[phase]
		if c.Kind == session.KindUserResource {
			purpose = "reference material supplied by the user"
		}
		out = append(out, session.ToolAssignment{Name: c.Name, Purpose: purpose, Priority: i + 1})
	}
	return out
}

func matchesAny(name string, keywords []string) bool {
	lower := strings.ToLower(name)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// AssignTask fills every phase of t. Requested tools come from the
// TaskSpec; phases without a request get defaults.
func (r *Registry) AssignTask(t *session.Task, requested map[session.PhaseName][]session.ToolAssignment) error {
	for _, name := range session.PhaseOrder {
		assignments, err := r.Assign(name, requested[name])
		if err != nil {
			return err
		}
		t.Phases.Get(name).Assignments = assignments
	}
	return nil
}

// Verify re-checks that every assignment of phase still refers to a declared
// capability. Used before a task enters execution, since capabilities may
// have been re-declared after planning.
func (r *Registry) Verify(t *session.Task, phase session.PhaseName) error {
	p := t.Phases.Get(phase)
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.Assignments))
	for _, a := range p.Assignments {
		names = append(names, a.Name)
	}
	return r.CheckAll(names)
}
