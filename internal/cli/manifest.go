package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opencli/opencli/internal/tracker"
)

// batchManifest is the file format of "task batch". The top level is
// either {"tasks": [...]} or a bare list of tasks.
type batchManifest struct {
	Tasks []tracker.Task `json:"tasks" yaml:"tasks"`
}

func loadManifest(path string) ([]tracker.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var tasks []tracker.Task
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		tasks, err = decodeManifest(data, yaml.Unmarshal)
	case ".json", ".jsonc":
		tasks, err = decodeManifest(jsonc.ToJSON(data), json.Unmarshal)
	default:
		return nil, fmt.Errorf("unsupported manifest extension %q (want .yaml, .yml, .json or .jsonc)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("%s: no tasks", path)
	}
	for i, task := range tasks {
		if strings.TrimSpace(task.Type) == "" {
			return nil, fmt.Errorf("%s: task %d: missing type", path, i+1)
		}
	}
	return tasks, nil
}

func decodeManifest(data []byte, unmarshal func([]byte, any) error) ([]tracker.Task, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "-") {
		var tasks []tracker.Task
		if err := unmarshal(data, &tasks); err != nil {
			return nil, err
		}
		return tasks, nil
	}
	var m batchManifest
	if err := unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m.Tasks, nil
}
