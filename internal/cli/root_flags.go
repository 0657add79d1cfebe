package cli

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/spf13/pflag"

	"github.com/opencli/opencli/internal/config"
)

var (
	rootStdout   io.Writer = os.Stdout
	rootStderr   io.Writer = os.Stderr
	buildVersion           = "dev"
)

func init() {
	buildVersion = resolveBuildVersion(buildVersion)
}

func handleRootFlags(args []string) (bool, int) {
	if len(args) != 1 {
		return false, 0
	}

	switch args[0] {
	case "--version", "-V":
		fmt.Fprintf(rootStdout, "opencli %s\n", buildVersion)
		return true, exitOK
	case "--help", "-h":
		printRootHelp(rootStdout)
		return true, exitOK
	default:
		return false, 0
	}
}

func resolveBuildVersion(defaultVersion string) string {
	if defaultVersion != "" && defaultVersion != "dev" {
		return defaultVersion
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return defaultVersion
	}
	if info.Main.Version == "" || info.Main.Version == "(devel)" {
		return defaultVersion
	}
	return info.Main.Version
}

// globalFlags are accepted before the method or subcommand.
type globalFlags struct {
	socket  string
	timeout int
	verbose bool
	help    bool
	version bool
}

func newGlobalFlagSet(g *globalFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("opencli", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(io.Discard)
	fs.StringVar(&g.socket, "socket", "", "RPC socket path")
	fs.IntVar(&g.timeout, "timeout", 0, "RPC timeout in milliseconds")
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging and full error chains")
	fs.BoolVarP(&g.help, "help", "h", false, "show help")
	fs.BoolVarP(&g.version, "version", "V", false, "show version")
	return fs
}

// apply overlays command-line values on cfg.
func (g *globalFlags) apply(cfg *config.Config) error {
	if g.socket != "" {
		cfg.RPC.Socket = g.socket
	}
	if g.timeout < 0 {
		return fmt.Errorf("--timeout must be > 0")
	}
	if g.timeout > 0 {
		cfg.RPC.TimeoutMS = g.timeout
	}
	if g.verbose {
		cfg.Verbose = true
	}
	return nil
}

func printRootHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  opencli [--socket PATH] [--timeout MS] [--verbose] <method> [params...]")
	fmt.Fprintln(out, "  opencli task submit <type> [key=value ...] [--priority N] [--wait] [--timeout D] [--json]")
	fmt.Fprintln(out, "  opencli task batch <file.yaml|file.json|file.jsonc> [--sequential] [--timeout D] [--task-timeout D] [--json]")
	fmt.Fprintln(out, "  opencli task pending [--json]")
	fmt.Fprintln(out, "  opencli task cancel <task_id>")
	fmt.Fprintln(out, "  opencli mcp")
	fmt.Fprintln(out, "  opencli config <init [--force]|path|show>")
	fmt.Fprintln(out, "  opencli completion <bash|zsh|fish>")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Global flags:")
	fmt.Fprintln(out, "  --socket PATH    RPC socket (default /tmp/opencli.sock)")
	fmt.Fprintln(out, "  --timeout MS     RPC timeout in milliseconds (default 30000)")
	fmt.Fprintln(out, "  --verbose, -v    Debug logging and full error chains")
	fmt.Fprintln(out, "  --help, -h       Show help")
	fmt.Fprintln(out, "  --version, -V    Show version")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Environment:")
	fmt.Fprintf(out, "  %-20s enable verbose output\n", config.EnvVerbose)
	fmt.Fprintf(out, "  %-20s default RPC timeout (ms)\n", config.EnvTimeout)
	fmt.Fprintf(out, "  %-20s RPC socket path\n", config.EnvSocket)
	fmt.Fprintf(out, "  %-20s task server URL\n", config.EnvStreamURL)
	fmt.Fprintf(out, "  %-20s shared auth secret\n", config.EnvSecret)
	fmt.Fprintf(out, "  %-20s daemon executable for auto-spawn\n", config.EnvDaemonPath)
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Config file: %s\n", config.ExampleConfigPath())
}
