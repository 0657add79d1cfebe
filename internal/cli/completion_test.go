package cli

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/opencli/opencli/internal/config"
)

const completionSchema = `{"type": "object", "properties": {"cmd": {"type": "string"}, "cwd": {"type": "string"}}}`

func completionConfig() *config.Config {
	cfg := config.Default()
	cfg.Tasks = map[string]config.TaskConfig{
		"shell":  {Schema: completionSchema},
		"backup": {},
	}
	return cfg
}

func TestRunCompletionCommandScripts(t *testing.T) {
	tests := map[string]string{
		"bash": "complete -F _opencli_completion opencli",
		"zsh":  "compdef _opencli_completion opencli",
		"fish": "opencli __complete task-types",
	}
	for shell, want := range tests {
		var out, errOut bytes.Buffer
		code := runCompletionCommand([]string{shell}, &out, &errOut)
		if code != exitOK {
			t.Fatalf("runCompletionCommand(%s) code = %d, want %d", shell, code, exitOK)
		}
		if errOut.Len() != 0 {
			t.Fatalf("stderr = %q, want empty", errOut.String())
		}
		if !strings.Contains(out.String(), want) {
			t.Fatalf("%s completion missing %q", shell, want)
		}
		if !strings.Contains(out.String(), "__complete task-flags submit") {
			t.Fatalf("%s completion missing task-flags query", shell)
		}
	}
}

func TestRunCompletionCommandUnknownShell(t *testing.T) {
	var out, errOut bytes.Buffer

	code := runCompletionCommand([]string{"powershell"}, &out, &errOut)
	if code != exitUsage {
		t.Fatalf("runCompletionCommand() code = %d, want %d", code, exitUsage)
	}
	if out.Len() != 0 {
		t.Fatalf("stdout = %q, want empty", out.String())
	}
	if !strings.Contains(errOut.String(), "unknown shell for completion") {
		t.Fatalf("stderr = %q, want unknown shell error", errOut.String())
	}
}

func TestRunInternalCompletionRequiresQueryType(t *testing.T) {
	var out, errOut bytes.Buffer

	code := runInternalCompletion(nil, completionConfig(), &out, &errOut)
	if code != exitUsage {
		t.Fatalf("runInternalCompletion() code = %d, want %d", code, exitUsage)
	}
	if out.Len() != 0 {
		t.Fatalf("stdout = %q, want empty", out.String())
	}
}

func TestRunInternalCompletionTaskTypes(t *testing.T) {
	var out, errOut bytes.Buffer

	code := runInternalCompletion([]string{"task-types"}, completionConfig(), &out, &errOut)
	if code != exitOK {
		t.Fatalf("runInternalCompletion() code = %d, want %d (%s)", code, exitOK, errOut.String())
	}
	if out.String() != "backup\nshell\n" {
		t.Fatalf("stdout = %q, want %q", out.String(), "backup\nshell\n")
	}
}

func TestRunInternalCompletionSubmitKeysFromSchema(t *testing.T) {
	var out, errOut bytes.Buffer

	code := runInternalCompletion([]string{"task-flags", "submit", "shell"}, completionConfig(), &out, &errOut)
	if code != exitOK {
		t.Fatalf("runInternalCompletion() code = %d, want %d (%s)", code, exitOK, errOut.String())
	}
	got := strings.Fields(out.String())
	want := []string{"--help", "--json", "--priority", "--timeout", "--wait", "-h", "cmd=", "cwd="}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("completions = %v, want %v", got, want)
	}
}

func TestTaskFlagCompletionsForBatch(t *testing.T) {
	got := taskFlagCompletions("batch", nil)
	want := []string{"--help", "--json", "--sequential", "--task-timeout", "--timeout", "-h"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("taskFlagCompletions(batch) = %v, want %v", got, want)
	}
	if got := taskFlagCompletions("unknown", nil); got != nil {
		t.Fatalf("taskFlagCompletions(unknown) = %v, want nil", got)
	}
}

func TestRunDispatchesCompletion(t *testing.T) {
	out, _ := captureOutput(t)
	useConfig(t, completionConfig())

	if code := Run([]string{"__complete", "task-types"}); code != exitOK {
		t.Fatalf("Run(__complete) = %d, want %d", code, exitOK)
	}
	if out.String() != "backup\nshell\n" {
		t.Fatalf("stdout = %q", out.String())
	}
}
