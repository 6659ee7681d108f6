package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/taskmaster/internal/capability"
	"github.com/fyrsmithlabs/taskmaster/internal/session"
)

// maxTasklistSize bounds an imported tasklist file.
const maxTasklistSize = 1 << 20

// tasklistFile is the import format. Keys match the command payload, so a
// task may be a bare description or a full task object:
//
//	name: release 1.2
//	capabilities:
//	  builtin_tools: [Read, Edit, Bash]
//	  mcp_tools:
//	    - name: github
//	      description: issues and pull requests
//	tasks:
//	  - bump the version
//	  - description: tag the release
//	    validation_criteria: [command_succeeded]
type tasklistFile struct {
	Name         string `json:"name"`
	Capabilities struct {
		BuiltinTools  []capability.Spec `json:"builtin_tools"`
		MCPTools      []capability.Spec `json:"mcp_tools"`
		UserResources []capability.Spec `json:"user_resources"`
	} `json:"capabilities"`
	Tasks []session.TaskSpec `json:"tasks"`
}

func (f *tasklistFile) hasCapabilities() bool {
	c := f.Capabilities
	return len(c.BuiltinTools)+len(c.MCPTools)+len(c.UserResources) > 0
}

func readTasklist(path string) (*tasklistFile, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening tasklist: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxTasklistSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading tasklist: %w", err)
	}
	if len(data) > maxTasklistSize {
		return nil, fmt.Errorf("tasklist exceeds %d bytes", maxTasklistSize)
	}
	return parseTasklist(data)
}

// parseTasklist decodes YAML (or JSON) through the payload's JSON decoders.
func parseTasklist(data []byte) (*tasklistFile, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing tasklist: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("tasklist is empty")
	}

	// A bare sequence is shorthand for {tasks: [...]}.
	if list, ok := raw.([]any); ok {
		raw = map[string]any{"tasks": list}
	}

	js, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("tasklist: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.DisallowUnknownFields()

	var f tasklistFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding tasklist: %w", err)
	}
	if len(f.Tasks) == 0 {
		return nil, fmt.Errorf("tasklist has no tasks")
	}
	return &f, nil
}
