package main

import (
	"os"

	"github.com/opencli/opencli/internal/cli"
	"github.com/opencli/opencli/internal/dispatch"
)

func main() {
	os.Exit(dispatch.Main(os.Args[1:], cli.Run))
}
