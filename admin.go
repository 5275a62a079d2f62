package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fabfab/retail-ingest/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the Postgres tables if they do not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnv()
		if err != nil {
			return err
		}
		pool, err := env.postgres(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()
		env.logger.Info().Msg("schema is up to date")
		return nil
	},
}

var clearConfirmed bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove ingested batches from Postgres and Neo4j",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnv()
		if err != nil {
			return err
		}

		if !clearConfirmed {
			fmt.Print("This will permanently delete ingested report data from Postgres and Neo4j. Continue? [y/N]: ")
			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read confirmation: %w", err)
				}
				env.logger.Info().Msg("clear aborted")
				return nil
			}
			answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
			if answer != "y" && answer != "yes" {
				env.logger.Info().Msg("clear aborted")
				return nil
			}
		}

		ctx := cmd.Context()
		pool, err := env.postgres(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		sink, driver, err := env.graph(ctx)
		if err != nil {
			return err
		}
		if sink != nil {
			defer driver.Close(context.Background())
		}

		if err := clearAll(pool, sink)(ctx); err != nil {
			return err
		}
		env.logger.Info().Bool("graph", sink != nil).Msg("ingested data removed")
		return nil
	},
}

var grantRole string

var grantCmd = &cobra.Command{
	Use:   "grant <user-id> [permission...]",
	Short: "Create or update a user and grant permissions",
	Example: `  retail-ingest grant u-42 upload_inventory view_inventory
  retail-ingest grant --role admin ops-lead`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnv()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		pool, err := env.postgres(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := database.NewPostgresPermissionStore(pool)
		if err := store.GrantPermissions(ctx, args[0], grantRole, args[1:]...); err != nil {
			return err
		}
		env.logger.Info().Str("user_id", args[0]).Str("role", grantRole).Strs("permissions", args[1:]).Msg("permissions granted")
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearConfirmed, "confirm", false, "skip confirmation prompt")
	grantCmd.Flags().StringVar(&grantRole, "role", "viewer", "role to assign (admin bypasses permission checks)")

	rootCmd.AddCommand(migrateCmd, clearCmd, grantCmd)
}
