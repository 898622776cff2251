package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgecrate/registry/pkg/config"
	"github.com/forgecrate/registry/pkg/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		application, err := buildApp(ctx, cfg)
		if err != nil {
			return fmt.Errorf("build app: %w", err)
		}
		defer func() {
			if err := application.store.Close(); err != nil {
				log.Errorf("close metastore", err)
			}
		}()

		log.WithComponent("registryd").Info().Str("addr", cfg.Server.ListenAddr).Msg("starting server")
		return application.server.ListenAndServe(ctx, cfg.Server.ListenAddr)
	},
}
