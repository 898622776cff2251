package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgecrate/registry/pkg/config"
	"github.com/forgecrate/registry/pkg/log"
)

// migrateCmd brings the configured metastore driver's schema up to
// date: boltstore creates its buckets on Open, redisstore needs no
// schema, and dynamostore expects its tables to already exist (table
// creation is an infrastructure concern, out of scope here) — this
// command's job is to fail fast and loudly if they don't, rather than
// have the first production request discover it.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Verify and initialize the configured metadata store",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := newMetastore(context.Background(), cfg.Metastore)
		if err != nil {
			return fmt.Errorf("open metastore: %w", err)
		}
		defer store.Close()

		if _, err := store.KnownNames(context.Background()); err != nil {
			return fmt.Errorf("verify metastore: %w", err)
		}

		log.Info(fmt.Sprintf("metastore driver %q is ready", cfg.Metastore.Driver))
		return nil
	},
}
