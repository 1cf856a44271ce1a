package main

import (
	"github.com/spf13/cobra"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API, and Discord when configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := startApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer shutdown(a)
			return a.Serve(ctx)
		},
	}
}
