// Package catalog validates task_data against per-task-type JSON Schemas
// declared in config before a task is sent.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/opencli/opencli/internal/config"
	"github.com/opencli/opencli/internal/paths"
)

// ValidationError lists every schema violation for one submission.
type ValidationError struct {
	TaskType string
	Details  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("task_data for %q failed schema validation:\n  - %s", e.TaskType, strings.Join(e.Details, "\n  - "))
}

// Catalog holds compiled schemas keyed by task type. Task types without
// a schema are accepted as-is.
type Catalog struct {
	schemas    map[string]*gojsonschema.Schema
	properties map[string][]string
}

// New compiles the schemas declared in tasks.
func New(tasks map[string]config.TaskConfig) (*Catalog, error) {
	c := &Catalog{
		schemas:    make(map[string]*gojsonschema.Schema, len(tasks)),
		properties: make(map[string][]string, len(tasks)),
	}
	for name, tc := range tasks {
		raw, err := schemaSource(tc)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", name, err)
		}
		if raw == nil {
			continue
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("task %q: compiling schema: %w", name, err)
		}
		c.schemas[name] = schema
		c.properties[name] = topLevelProperties(raw)
	}
	return c, nil
}

func schemaSource(tc config.TaskConfig) ([]byte, error) {
	switch {
	case tc.Schema != "":
		return []byte(tc.Schema), nil
	case tc.SchemaFile != "":
		b, err := os.ReadFile(paths.HomeRelative(tc.SchemaFile))
		if err != nil {
			return nil, fmt.Errorf("reading schema file: %w", err)
		}
		return b, nil
	default:
		return nil, nil
	}
}

func topLevelProperties(raw []byte) []string {
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	out := make([]string, 0, len(doc.Properties))
	for name := range doc.Properties {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks data against the schema for taskType, if any.
func (c *Catalog) Validate(taskType string, data map[string]any) error {
	if c == nil {
		return nil
	}
	schema, ok := c.schemas[taskType]
	if !ok {
		return nil
	}
	if data == nil {
		data = map[string]any{}
	}
	doc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding task_data: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validating task_data: %w", err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{TaskType: taskType}
	for _, desc := range result.Errors() {
		verr.Details = append(verr.Details, desc.String())
	}
	return verr
}

// Types returns the task types that have a schema, sorted.
func (c *Catalog) Types() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.schemas))
	for name := range c.schemas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Properties returns the sorted top-level property names declared by
// the schema for taskType.
func (c *Catalog) Properties(taskType string) []string {
	if c == nil {
		return nil
	}
	return c.properties[taskType]
}
