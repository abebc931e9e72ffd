package main

import (
	"errors"
	"os"

	"github.com/release-engineering/pulp-push/cmd"
	"github.com/release-engineering/pulp-push/internal/push"
)

// exitFatal is the exit status when a push records a fatal error, as
// opposed to bad usage or configuration.
const exitFatal = 30

func main() {
	rootCmd := cmd.NewRootCommand()
	rootCmd.AddCommand(cmd.NewPushCommand())

	if err := rootCmd.Execute(); err != nil {
		var fatal *push.FatalError
		if errors.As(err, &fatal) {
			os.Exit(exitFatal)
		}
		os.Exit(1)
	}
}
