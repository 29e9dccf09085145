package main

import (
	"github.com/spf13/cobra"

	"github.com/matthewbaird/docagg/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and console",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		port := a.cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		return server.Run(cmd.Context(), server.Config{
			Port:    port,
			Store:   a.store,
			Router:  a.router,
			Metrics: a.metrics,
			Runs:    a.runs,
			Logger:  a.logger,
		})
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "listen port (overrides config)")
}
