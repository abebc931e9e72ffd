// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand enables all children commands to read flags from CLI
// flags, environment variables prefixed with PULP_PUSH, or config.yaml
// (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("PULP_PUSH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/pulp-push", "$HOME/.pulp-push", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// A missing config file is fine; flags and env remain usable.
	var notFound viper.ConfigFileNotFoundError
	if err := viper.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		panic("failed to read config: " + err.Error())
	}

	return &cobra.Command{
		Use:   "pulp-push",
		Short: "Push and publish content via Pulp",
		Long: `Push and publish content via Pulp.

Content is loaded from one or more sources, reconciled against the current
state of a Pulp server, uploaded and associated into destination repos as
needed, and finally published to make it visible to end users.`,
	}
}
