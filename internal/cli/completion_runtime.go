package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/opencli/opencli/internal/catalog"
	"github.com/opencli/opencli/internal/config"
)

func completeTaskTypes(cfg *config.Config, stdout io.Writer) int {
	names := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(stdout, name)
	}
	return exitOK
}

func completeTaskFlags(cfg *config.Config, subcommand, taskType string, stdout, stderr io.Writer) int {
	var props []string
	if subcommand == "submit" && taskType != "" {
		cat, err := catalog.New(cfg.Tasks)
		if err != nil {
			fmt.Fprintf(stderr, "opencli: %v\n", err)
			return exitFailure
		}
		props = cat.Properties(taskType)
	}
	for _, flag := range taskFlagCompletions(subcommand, props) {
		fmt.Fprintln(stdout, flag)
	}
	return exitOK
}
