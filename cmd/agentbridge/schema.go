package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/config"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema [events|config]",
		Short:     "Print a JSON Schema",
		Long:      `Schema prints the JSON Schema of the event envelopes (default) or of the config file.`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"events", "config"},
		// Schemas need no config file or logger.
		PersistentPreRun: func(*cobra.Command, []string) {},
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw json.RawMessage
				err error
			)
			if len(args) == 1 && args[0] == "config" {
				raw, err = config.Schema()
			} else {
				raw, err = agentstream.Schema()
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:              "version",
		Short:            "Print the version",
		Args:             cobra.NoArgs,
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentbridge %s\n", version)
		},
	}
}
