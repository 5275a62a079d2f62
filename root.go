package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/phuslu/log"
	"github.com/spf13/cobra"

	"github.com/fabfab/retail-ingest/config"
	"github.com/fabfab/retail-ingest/database"
	"github.com/fabfab/retail-ingest/knowledge"
	"github.com/fabfab/retail-ingest/logging"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "retail-ingest",
	Short: "Normalize quick-commerce platform reports and purchase orders",
	Long: `retail-ingest decodes inventory and sales exports from BigBasket, JioMart,
Swiggy and Zepto into normalized records, summarizes them and stores the
batches in Postgres, optionally mirroring SKUs and cities into Neo4j.

It also reconstructs the text of purchase-order PDFs for downstream parsing.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.retail-ingest/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "override log.level (trace, debug, info, warn, error)",
	)
}

// appEnv bundles what every command resolves before doing work.
type appEnv struct {
	manager *config.Manager
	cfg     config.Config
	logger  *log.Logger
}

func loadEnv() (*appEnv, error) {
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg := *mgr.Get()
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.New(level, cfg.Log.Format, os.Stderr)
	mgr.SetLogger(logger)
	if file := mgr.ConfigFile(); file != "" {
		logger.Debug().Str("file", file).Msg("loaded config")
	}
	return &appEnv{manager: mgr, cfg: cfg, logger: logger}, nil
}

func (rt *appEnv) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := database.NewPostgresPool(ctx, rt.cfg.PostgresDSN, rt.cfg.DB.ConnectAttempts)
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return pool, nil
}

// graph returns a connected sink when graph_sync is enabled, or nils.
func (rt *appEnv) graph(ctx context.Context) (*knowledge.Neo4jSink, neo4j.DriverWithContext, error) {
	if !rt.cfg.GraphSync {
		return nil, nil, nil
	}
	driver, err := database.NewNeo4jDriver(ctx, rt.cfg.Neo4j.URI, rt.cfg.Neo4j.User, rt.cfg.Neo4j.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("neo4j connection: %w", err)
	}
	return knowledge.NewNeo4jSink(driver), driver, nil
}

// clearAll truncates the ingest tables and purges the graph when one is
// configured.
func clearAll(pool *pgxpool.Pool, sink *knowledge.Neo4jSink) func(context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		if err := database.Clear(ctx, pool); err != nil {
			errs = append(errs, err)
		}
		if sink != nil {
			if err := sink.Purge(ctx); err != nil {
				errs = append(errs, fmt.Errorf("purge graph: %w", err))
			}
		}
		return errors.Join(errs...)
	}
}
