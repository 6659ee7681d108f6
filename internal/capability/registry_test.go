package capability

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

func sampleDeclaration() Declaration {
	return Declaration{
		BuiltinTools: []Spec{
			{Name: "Read"}, {Name: "Edit"}, {Name: " Bash ", Description: "shell"}, {Name: "Grep"},
		},
		MCPTools:      []Spec{{Name: "run_tests", Usage: map[string]string{"args": "package"}}},
		UserResources: []Spec{{Name: "design.md"}},
	}
}

func TestDeclare_Idempotent(t *testing.T) {
	s := session.New("demo", time.Now())

	r1, err := Declare(s, sampleDeclaration())
	require.NoError(t, err)
	first := append([]session.Capability(nil), s.Capabilities...)

	r2, err := Declare(s, sampleDeclaration())
	require.NoError(t, err)

	assert.Equal(t, first, s.Capabilities)
	assert.Equal(t, r1.Names(""), r2.Names(""))
	assert.True(t, s.CapabilitiesDeclared)
}

func TestNormalize_IgnoresDeclarationOrder(t *testing.T) {
	a, err := Normalize(Declaration{BuiltinTools: []Spec{{Name: "Read"}, {Name: "Bash"}, {Name: "Edit"}}})
	require.NoError(t, err)
	b, err := Normalize(Declaration{BuiltinTools: []Spec{{Name: "Edit"}, {Name: "Read"}, {Name: "Bash"}}})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalize_OrderAndDedup(t *testing.T) {
	caps, err := Normalize(Declaration{
		BuiltinTools:  []Spec{{Name: "Write"}, {Name: "Edit"}, {Name: "edit"}},
		UserResources: []Spec{{Name: "README.md"}},
		MCPTools:      []Spec{{Name: "lint"}},
	})
	require.NoError(t, err)

	var names []string
	for _, c := range caps {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Edit", "Write", "lint", "README.md"}, names)
	assert.Equal(t, "Bash", mustNormalizeName(t, " Bash "))
}

func mustNormalizeName(t *testing.T, name string) string {
	t.Helper()
	caps, err := Normalize(Declaration{BuiltinTools: []Spec{{Name: name}}})
	require.NoError(t, err)
	return caps[0].Name
}

func TestNormalize_Errors(t *testing.T) {
	_, err := Normalize(Declaration{BuiltinTools: []Spec{{Name: "  "}}})
	require.Error(t, err)
	assert.True(t, taskerr.IsCode(err, taskerr.CodeInvalidCapability))

	_, err = Normalize(Declaration{
		BuiltinTools: []Spec{{Name: "fetch"}},
		MCPTools:     []Spec{{Name: "Fetch"}},
	})
	require.Error(t, err)
	assert.True(t, taskerr.IsCode(err, taskerr.CodeInvalidCapability))
}

func TestDeclare_EmptyRejected(t *testing.T) {
	s := session.New("demo", time.Now())
	_, err := Declare(s, Declaration{})
	require.Error(t, err)
	assert.False(t, s.CapabilitiesDeclared)
}

func TestRequire(t *testing.T) {
	s := session.New("demo", time.Now())
	err := Require(s, "create_tasklist")
	require.Error(t, err)
	assert.Equal(t, taskerr.KindCapability, taskerr.KindOf(err))
	assert.True(t, taskerr.IsCode(err, taskerr.CodeCapabilitiesNotDeclared))

	s.CapabilitiesDeclared = true
	assert.NoError(t, Require(s, "create_tasklist"))
}

func TestRegistry_Lookup(t *testing.T) {
	caps, err := Normalize(sampleDeclaration())
	require.NoError(t, err)
	r := New(caps)

	c, ok := r.Lookup("bash")
	require.True(t, ok)
	assert.Equal(t, "Bash", c.Name)
	assert.Equal(t, "shell", c.Description)
	assert.True(t, r.Has("RUN_TESTS"))
	assert.False(t, r.Has("docker"))
	assert.Equal(t, []string{"run_tests"}, r.Names(session.KindMCPTool))
	assert.Equal(t, 6, r.Len())
}

func TestAssign_Defaults(t *testing.T) {
	caps, err := Normalize(sampleDeclaration())
	require.NoError(t, err)
	r := New(caps)

	planning, err := r.Assign(session.PhasePlanning, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Grep", "Read", "design.md"}, assignmentNames(planning))

	execution, err := r.Assign(session.PhaseExecution, nil)
	require.NoError(t, err)
	assert.Len(t, execution, 6, "every declared capability is available during execution")

	validation, err := r.Assign(session.PhaseValidation, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bash", "run_tests"}, assignmentNames(validation))
	for i, a := range validation {
		assert.Equal(t, i+1, a.Priority)
	}
}

func TestAssign_ValidationFallsBackToBuiltins(t *testing.T) {
	caps, err := Normalize(Declaration{BuiltinTools: []Spec{{Name: "Read"}, {Name: "Edit"}}})
	require.NoError(t, err)

	got, err := New(caps).Assign(session.PhaseValidation, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Edit", "Read"}, assignmentNames(got))
}

func TestAssign_RequestedMustBeDeclared(t *testing.T) {
	caps, err := Normalize(sampleDeclaration())
	require.NoError(t, err)
	r := New(caps)

	got, err := r.Assign(session.PhaseExecution, []session.ToolAssignment{{Name: "edit"}, {Name: "bash", Purpose: "build"}})
	require.NoError(t, err)
	assert.Equal(t, []session.ToolAssignment{
		{Name: "Edit", Purpose: phasePurpose[session.PhaseExecution], Priority: 1},
		{Name: "Bash", Purpose: "build", Priority: 2},
	}, got)

	_, err = r.Assign(session.PhaseExecution, []session.ToolAssignment{{Name: "docker"}, {Name: "kubectl"}})
	require.Error(t, err)
	assert.True(t, taskerr.IsCode(err, taskerr.CodeUnknownCapability))
	te, ok := taskerr.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"docker", "kubectl"}, te.Details["missing"])
}

func TestVerify_DetectsRedeclaredTools(t *testing.T) {
	s := session.New("demo", time.Now())
	r, err := Declare(s, sampleDeclaration())
	require.NoError(t, err)

	task := session.NewTask(session.TaskSpec{Description: "x"}, 3, time.Now())
	require.NoError(t, r.AssignTask(task, nil))
	require.NoError(t, r.Verify(task, session.PhaseExecution))

	narrowed, err := Declare(s, Declaration{BuiltinTools: []Spec{{Name: "Read"}}})
	require.NoError(t, err)
	err = narrowed.Verify(task, session.PhaseExecution)
	require.Error(t, err)
	assert.True(t, taskerr.IsCode(err, taskerr.CodeUnknownCapability))
}

func assignmentNames(as []session.ToolAssignment) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.Name)
	}
	return out
}

func TestSpec_UnmarshalJSON(t *testing.T) {
	var d Declaration
	require.NoError(t, json.Unmarshal([]byte(`{"builtin_tools":["Read",{"name":"Bash","usage":{"cwd":"repo"}}]}`), &d))
	assert.Equal(t, []Spec{{Name: "Read"}, {Name: "Bash", Usage: map[string]string{"cwd": "repo"}}}, d.BuiltinTools)

	var s Spec
	assert.Error(t, json.Unmarshal([]byte(`42`), &s))
}
