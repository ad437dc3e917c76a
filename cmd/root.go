// Package cmd wires metacoordctl's subcommands onto a root cobra.Command,
// the way the teacher's own cmd package assembles "opa" from a set of
// initX(rootCommand) calls.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lakehouse/metacoord/coordinator"
)

// Command builds (or extends) the root CLI command and attaches every
// subcommand this module exposes.
func Command(rootCommand *cobra.Command) *cobra.Command {
	if rootCommand == nil {
		rootCommand = &cobra.Command{
			Use:   "metacoordctl",
			Short: "metacoordctl inspects and drives the metadata coordinator",
			Long:  "A command-line client for the semi-transactional metadata coordinator.",
		}
	}

	var tracingEndpoint string
	rootCommand.PersistentFlags().StringVar(&tracingEndpoint, "tracing-endpoint", "", "OTLP/HTTP endpoint to export commit-phase spans to (unset disables tracing)")

	var shutdown func(context.Context) error
	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		shutdown, err = coordinator.InitTracing(cmd.Context(), tracingEndpoint, "metacoordctl")
		return err
	}
	rootCommand.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if shutdown == nil {
			return nil
		}
		return shutdown(cmd.Context())
	}

	initInspect(rootCommand)
	initSimulate(rootCommand)
	initMigrate(rootCommand)
	return rootCommand
}
