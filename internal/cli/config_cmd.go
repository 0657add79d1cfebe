package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"

	"github.com/opencli/opencli/internal/config"
	"github.com/opencli/opencli/internal/paths"
)

var configPathFn = paths.ConfigFile

func runConfigCommand(args []string, cfg *config.Config) int {
	if len(args) == 0 {
		printConfigHelp(rootStderr)
		return exitUsage
	}
	switch args[0] {
	case "init":
		return runConfigInit(args[1:])
	case "path":
		fmt.Fprintln(rootStdout, configPathFn())
		return exitOK
	case "show":
		return runConfigShow(cfg)
	case "--help", "-h":
		printConfigHelp(rootStdout)
		return exitOK
	default:
		fmt.Fprintf(rootStderr, "Error: unknown config command %q\n", args[0])
		printConfigHelp(rootStderr)
		return exitUsage
	}
}

func printConfigHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  opencli config init [--force]   write a config file with every default")
	fmt.Fprintln(out, "  opencli config path             print the config file path")
	fmt.Fprintln(out, "  opencli config show             print the effective config")
}

func runConfigInit(args []string) int {
	fs := newTaskFlagSet("config init")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(rootStderr, "Error: %v\n", err)
		return exitUsage
	}

	path := configPathFn()
	err := config.Write(path, config.Default(), *force)
	if errors.Is(err, config.ErrExists) {
		fmt.Fprintf(rootStderr, "Error: %s already exists (use --force to overwrite)\n", path)
		return exitFailure
	}
	if err != nil {
		fmt.Fprintf(rootStderr, "Error: %v\n", err)
		return exitFailure
	}
	fmt.Fprintf(rootStdout, "Wrote %s\n", path)
	return exitOK
}

func runConfigShow(cfg *config.Config) int {
	shown := *cfg
	if shown.Stream.Secret != "" {
		shown.Stream.Secret = "********"
	}
	if err := toml.NewEncoder(rootStdout).Encode(shown); err != nil {
		fmt.Fprintf(rootStderr, "Error: %v\n", err)
		return exitFailure
	}
	return exitOK
}
