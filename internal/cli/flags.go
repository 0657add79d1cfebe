package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// parseTaskData turns the arguments after a task type into task_data.
// It accepts key=value pairs, a single JSON object, or, with no
// arguments and piped stdin, a JSON object read from stdin. Values are
// decoded as JSON when possible (numbers, booleans, arrays, objects) and
// kept as strings otherwise. Repeated keys collect into an array.
func parseTaskData(args []string, stdin io.Reader, stdinIsTTY bool) (map[string]any, error) {
	if len(args) == 1 && strings.HasPrefix(strings.TrimSpace(args[0]), "{") {
		return parseJSONObject(args[0])
	}

	data := make(map[string]any)
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		if key == "" {
			return nil, fmt.Errorf("empty key in %q", arg)
		}
		putArgValue(data, key, coerceValue(raw))
	}

	if len(args) == 0 && !stdinIsTTY && stdin != nil {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		trimmed := strings.TrimSpace(string(raw))
		if trimmed != "" {
			return parseJSONObject(trimmed)
		}
	}
	return data, nil
}

func coerceValue(raw string) any {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		return decoded
	}
	return raw
}

func parseJSONObject(raw string) (map[string]any, error) {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("invalid JSON task data: %w", err)
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("JSON task data must be an object")
	}
	return obj, nil
}

func putArgValue(dst map[string]any, key string, value any) {
	if existing, ok := dst[key]; ok {
		switch v := existing.(type) {
		case []any:
			dst[key] = append(v, value)
		default:
			dst[key] = []any{v, value}
		}
		return
	}
	dst[key] = value
}
