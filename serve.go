package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabfab/retail-ingest/api"
	"github.com/fabfab/retail-ingest/config"
	"github.com/fabfab/retail-ingest/database"
	"github.com/fabfab/retail-ingest/ingestion"
	"github.com/fabfab/retail-ingest/logging"
	"github.com/fabfab/retail-ingest/pdftext"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API.

Routes:
  GET  /healthz         liveness
  GET  /v1/schemas      supported reports (view_inventory or view_secondary_sales)
  POST /v1/ingest       multipart report upload (upload_inventory / upload_secondary_sales)
  POST /v1/po/extract   purchase-order PDF text (upload_platform_po)
  POST /v1/clear        remove ingested data (admin)

Callers are identified by the X-User-ID header. Editing log.level in the config
file takes effect without a restart unless --log-level was given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := loadEnv()
		if err != nil {
			return err
		}
		cfg := env.cfg
		if serveAddr != "" {
			cfg.HTTPAddr = serveAddr
		}

		pool, err := env.postgres(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		var opts []ingestion.Option
		sink, driver, err := env.graph(ctx)
		if err != nil {
			return err
		}
		if sink != nil {
			defer driver.Close(context.Background())
			opts = append(opts, ingestion.WithGraphSink(sink))
		}

		srv := api.New(cfg, api.Dependencies{
			Ingester:    ingestion.NewService(database.NewPostgresStore(pool, env.logger), env.logger, opts...),
			Extractor:   pdftext.NewExtractor(env.logger),
			Permissions: database.NewPostgresPermissionStore(pool),
			Clear:       clearAll(pool, sink),
		}, env.logger)

		env.manager.OnChange(func(c *config.Config) {
			if logLevel != "" {
				env.logger.Info().Str("level", logLevel).Msg("config reloaded, --log-level still in effect")
				return
			}
			env.logger.SetLevel(logging.ParseLevel(c.Log.Level))
			env.logger.Info().Str("level", c.Log.Level).Msg("config reloaded")
		})
		env.manager.WatchConfig()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			env.logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		env.logger.Info().Msg("shutting down http server")
		return httpServer.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides http_addr)")
	rootCmd.AddCommand(serveCmd)
}
