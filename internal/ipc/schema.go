package ipc

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const runSchema = `{
	"type": "object",
	"required": ["id", "timestamp", "agent", "input"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"session_id": {"type": "string"},
		"timestamp": {"type": "integer"},
		"agent": {"type": "string"},
		"model": {"type": "string"},
		"input": {"type": "string"},
		"output": {"type": ["string", "null"]},
		"tools_used": {"type": "string"},
		"exit_status": {"type": "integer"}
	}
}`

const runLogSchema = `{
	"type": "object",
	"required": ["run_id", "log_line", "timestamp"],
	"properties": {
		"run_id": {"type": "string", "minLength": 1},
		"log_line": {"type": "string"},
		"log_type": {"type": "string"},
		"timestamp": {"type": "integer"}
	}
}`

func objectSchema(required string, props map[string]string) string {
	var b strings.Builder
	b.WriteString(`{"type":"object"`)
	if required != "" {
		fmt.Fprintf(&b, `,"required":[%q]`, required)
	}
	b.WriteString(`,"properties":{`)
	first := true
	for name, schema := range props {
		if !first {
			b.WriteString(",")
		}
		first = false
		fmt.Fprintf(&b, "%q:%s", name, schema)
	}
	b.WriteString("}}")
	return b.String()
}

var commandSchemas = map[string]string{
	CmdAddRun:           objectSchema("run", map[string]string{"run": runSchema}),
	CmdGetRuns:          objectSchema("limit", map[string]string{"limit": `{"type":"integer"}`}),
	CmdGetRunByID:       objectSchema("runId", map[string]string{"runId": `{"type":"string"}`}),
	CmdGetRunsBySession: objectSchema("sessionId", map[string]string{"sessionId": `{"type":"string"}`}),
	CmdDeleteRun:        objectSchema("runId", map[string]string{"runId": `{"type":"string"}`}),
	CmdAddRunLog:        objectSchema("log", map[string]string{"log": runLogSchema}),
	CmdGetRunLogs:       objectSchema("runId", map[string]string{"runId": `{"type":"string"}`}),
	CmdWatchAgentsFile:  objectSchema("filePath", map[string]string{"filePath": `{"type":"string","minLength":1}`}),
	CmdGetSchemaVersion: objectSchema("", map[string]string{}),
}

// argValidator checks command args against their compiled JSON Schema.
type argValidator struct {
	schemas map[string]*jsonschema.Schema
}

func newArgValidator() (*argValidator, error) {
	c := jsonschema.NewCompiler()
	v := &argValidator{schemas: make(map[string]*jsonschema.Schema, len(commandSchemas))}
	for name, raw := range commandSchemas {
		// Use jsonschema.UnmarshalJSON for correct number handling (json.Number).
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
		}
		url := name + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
		schema, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		v.schemas[name] = schema
	}
	return v, nil
}

func (v *argValidator) known(command string) bool {
	_, ok := v.schemas[command]
	return ok
}

// validate reports the first schema violation for args. Empty args are
// checked as an empty object.
func (v *argValidator) validate(command string, args []byte) error {
	schema, ok := v.schemas[command]
	if !ok {
		return fmt.Errorf("unknown command %q", command)
	}
	if len(bytes.TrimSpace(args)) == 0 {
		args = []byte("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return fmt.Errorf("invalid args for %s: %w", command, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid args for %s: %v", command, err)
	}
	return nil
}
