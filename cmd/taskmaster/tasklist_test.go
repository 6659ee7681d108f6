package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskmaster/internal/capability"
)

func TestParseTasklist(t *testing.T) {
	t.Run("full form", func(t *testing.T) {
		tl, err := parseTasklist([]byte(releaseTasklist))
		require.NoError(t, err)

		assert.Equal(t, "release 1.2", tl.Name)
		assert.True(t, tl.hasCapabilities())
		want := []capability.Spec{{Name: "Read"}, {Name: "Edit"}, {Name: "Bash"}}
		if diff := cmp.Diff(want, tl.Capabilities.BuiltinTools); diff != "" {
			t.Errorf("builtin tools mismatch (-want +got):\n%s", diff)
		}
		require.Len(t, tl.Tasks, 2)
		assert.Equal(t, "bump the version", tl.Tasks[0].Description)
		assert.Equal(t, []string{"command_succeeded"}, tl.Tasks[1].ValidationCriteria)
	})

	t.Run("bare sequence", func(t *testing.T) {
		tl, err := parseTasklist([]byte("- one\n- two\n"))
		require.NoError(t, err)
		assert.False(t, tl.hasCapabilities())
		require.Len(t, tl.Tasks, 2)
		assert.Equal(t, "two", tl.Tasks[1].Description)
	})

	t.Run("json is yaml", func(t *testing.T) {
		tl, err := parseTasklist([]byte(`{"tasks": [{"description": "x", "complexity": "simple"}]}`))
		require.NoError(t, err)
		assert.Equal(t, "simple", string(tl.Tasks[0].Complexity))
	})

	errs := map[string]string{
		"empty":         "",
		"no tasks":      "name: nothing\n",
		"unknown field": "tasks: [a]\nowner: me\n",
		"invalid yaml":  "tasks: [a\n",
	}
	for name, input := range errs {
		t.Run(name, func(t *testing.T) {
			_, err := parseTasklist([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestWriteYAML(t *testing.T) {
	v := struct {
		Name  string   `json:"name"`
		Flag  string   `json:"flag"`
		Items []string `json:"items"`
	}{Name: "demo", Flag: "true", Items: []string{"a", "b"}}

	var buf bytes.Buffer
	require.NoError(t, writeYAML(&buf, v))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "name: demo\n"), "field order follows the struct:\n%s", out)
	assert.Contains(t, out, `flag: "true"`)
	assert.Contains(t, out, "- a\n")
	assert.NotContains(t, out, "[")
}

func TestCheckOutput(t *testing.T) {
	assert.NoError(t, checkOutput("yaml", outputJSON, outputYAML))
	assert.Error(t, checkOutput("table", outputJSON, outputYAML))
}
