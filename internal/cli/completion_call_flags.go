package cli

import "sort"

var taskSubcommandFlags = map[string][]string{
	"submit":  {"--priority", "--wait", "--timeout", "--json", "--help", "-h"},
	"batch":   {"--sequential", "--timeout", "--task-timeout", "--json", "--help", "-h"},
	"pending": {"--json", "--help", "-h"},
}

// taskFlagCompletions returns the flags of a task subcommand plus one
// "key=" candidate per schema property.
func taskFlagCompletions(subcommand string, properties []string) []string {
	flags := append([]string{}, taskSubcommandFlags[subcommand]...)
	for _, name := range properties {
		flags = append(flags, name+"=")
	}
	return uniqueSorted(flags)
}

func uniqueSorted(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
