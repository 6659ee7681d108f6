// Package capability records the tools and resources an agent has declared
// and derives per-phase tool assignments from them.
//
// Phases are only ever given guidance that references declared capabilities;
// any reference to an undeclared name is rejected with UNKNOWN_CAPABILITY.
package capability

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

// Declaration is the raw client input for declare_capabilities.
type Declaration struct {
	BuiltinTools  []Spec `json:"builtin_tools,omitempty"`
	MCPTools      []Spec `json:"mcp_tools,omitempty"`
	UserResources []Spec `json:"user_resources,omitempty"`
}

// Spec describes one declared capability.
type Spec struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Usage       map[string]string `json:"usage,omitempty"`
}

// UnmarshalJSON accepts a bare name as shorthand for {"name": ...}.
func (s *Spec) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*s = Spec{Name: name}
		return nil
	}
	type plain Spec
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Spec(p)
	return nil
}

// Empty reports whether nothing was declared.
func (d Declaration) Empty() bool {
	return len(d.BuiltinTools) == 0 && len(d.MCPTools) == 0 && len(d.UserResources) == 0
}

var kindOrder = map[session.CapabilityKind]int{
	session.KindBuiltinTool:  0,
	session.KindMCPTool:      1,
	session.KindUserResource: 2,
}

// Normalize converts a Declaration into a canonical capability snapshot:
// names are trimmed, duplicates within a kind keep their first declaration,
// and entries are ordered by kind and then by name. Identical declarations
// always produce identical snapshots.
func Normalize(d Declaration) ([]session.Capability, error) {
	out := make([]session.Capability, 0, len(d.BuiltinTools)+len(d.MCPTools)+len(d.UserResources))
	seen := make(map[string]session.CapabilityKind)

	add := func(kind session.CapabilityKind, specs []Spec) error {
		for _, spec := range specs {
			name := strings.TrimSpace(spec.Name)
			if name == "" {
				return taskerr.CapabilityError(taskerr.CodeInvalidCapability,
					"%s entry has an empty name", kind)
			}
			if prev, ok := seen[strings.ToLower(name)]; ok {
				if prev != kind {
					return taskerr.CapabilityError(taskerr.CodeInvalidCapability,
						"capability %q declared as both %s and %s", name, prev, kind)
				}
				continue
			}
			seen[strings.ToLower(name)] = kind
			out = append(out, session.Capability{
				Name:        name,
				Description: strings.TrimSpace(spec.Description),
				Kind:        kind,
				Usage:       copyUsage(spec.Usage),
			})
		}
		return nil
	}

	if err := add(session.KindBuiltinTool, d.BuiltinTools); err != nil {
		return nil, err
	}
	if err := add(session.KindMCPTool, d.MCPTools); err != nil {
		return nil, err
	}
	if err := add(session.KindUserResource, d.UserResources); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if kindOrder[out[i].Kind] != kindOrder[out[j].Kind] {
			return kindOrder[out[i].Kind] < kindOrder[out[j].Kind]
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func copyUsage(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Registry is a read view over a session's capability snapshot.
type Registry struct {
	caps   []session.Capability
	byName map[string]int
}

// New indexes caps.
func New(caps []session.Capability) *Registry {
	r := &Registry{caps: caps, byName: make(map[string]int, len(caps))}
	for i, c := range caps {
		r.byName[strings.ToLower(c.Name)] = i
	}
	return r
}

// Declare replaces the session's snapshot with d and marks capabilities as
// declared. Repeating an identical declaration leaves the snapshot unchanged.
func Declare(s *session.Session, d Declaration) (*Registry, error) {
	if d.Empty() {
		return nil, taskerr.CapabilityError(taskerr.CodeInvalidCapability,
			"declare at least one builtin tool, mcp tool, or user resource")
	}
	caps, err := Normalize(d)
	if err != nil {
		return nil, err
	}
	s.Capabilities = caps
	s.CapabilitiesDeclared = true
	return New(caps), nil
}

// Require fails with CAPABILITIES_NOT_DECLARED until the session has declared.
func Require(s *session.Session, action string) error {
	if !s.CapabilitiesDeclared {
		return taskerr.CapabilityError(taskerr.CodeCapabilitiesNotDeclared,
			"%s requires declare_capabilities first", action).
			WithDetail("action", action)
	}
	return nil
}

// Has reports whether name was declared.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Lookup returns the declared capability named name.
func (r *Registry) Lookup(name string) (session.Capability, bool) {
	i, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return session.Capability{}, false
	}
	return r.caps[i], true
}

// Names returns the declared names of kind, or of all kinds when kind is "".
func (r *Registry) Names(kind session.CapabilityKind) []string {
	var out []string
	for _, c := range r.caps {
		if kind == "" || c.Kind == kind {
			out = append(out, c.Name)
		}
	}
	return out
}

// Len returns the number of declared capabilities.
func (r *Registry) Len() int {
	return len(r.caps)
}

// CheckAll fails with UNKNOWN_CAPABILITY naming every undeclared reference.
func (r *Registry) CheckAll(names []string) error {
	var missing []string
	for _, n := range names {
		if !r.Has(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return taskerr.CapabilityError(taskerr.CodeUnknownCapability,
			"undeclared capabilities referenced: %s", strings.Join(missing, ", ")).
			WithDetail("missing", missing).
			WithDetail("declared", r.Names(""))
	}
	return nil
}
