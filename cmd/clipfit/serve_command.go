package main

import (
	"github.com/spf13/cobra"

	"clipfit/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var development bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the clipfit daemon in the foreground",
		Long: "Run the clipfit daemon with its HTTP API. Telegram delivery is enabled\n" +
			"when [telegram] is configured. Stop it with Ctrl+C or SIGTERM; in-flight\n" +
			"jobs get shutdown_grace_seconds to finish.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(cfg.Logging.Level),
				Development: development,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}
