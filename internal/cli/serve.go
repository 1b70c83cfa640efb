package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/maomao/internal/config"
	chiTransport "github.com/kailas-cloud/maomao/internal/transport/chi"
	healthuc "github.com/kailas-cloud/maomao/internal/usecase/health"
	"github.com/kailas-cloud/maomao/internal/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Run the MCP server.

With --transport stdio (default) JSON-RPC messages are read from stdin and
written to stdout, one per line. With --transport http the server listens on
--port and also exposes /health, /status and /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := opts.setup(ctx, func(c *config.Config) {
				if cmd.Flags().Changed("transport") {
					c.Server.Transport = transport
				}
				if cmd.Flags().Changed("port") {
					c.Server.HTTPPort = port
				}
			})
			if err != nil {
				return err
			}
			defer app.Close()
			defer func() { _ = app.Logger.Sync() }()

			return runServe(ctx, cmd, app)
		},
	}

	cmd.Flags().StringVarP(&transport, "transport", "t", "stdio", "transport: stdio or http")
	cmd.Flags().IntVarP(&port, "port", "p", 8765, "HTTP port (http transport)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, app *App) error {
	cfg := app.Config
	app.Logger.Info("Starting maomao MCP server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("transport", cfg.Server.Transport),
		zap.String("project", cfg.Project.DefaultProjectID),
	)

	// Startup health check is informational: tools report failures per call.
	if report := app.Health.Check(ctx); report.Status != healthuc.Healthy {
		app.Logger.Warn("Dependencies not healthy at startup",
			zap.String("status", string(report.Status)),
			zap.Any("errors", report.Errors),
		)
	}

	if cfg.Server.Transport == "http" {
		server := chiTransport.NewServer(app.MCP, app.Health, app.Retrieval, chiTransport.Info{
			Collection:       cfg.VectorStore.Collection,
			EmbeddingModel:   cfg.Embedding.Model,
			DefaultProjectID: cfg.Project.DefaultProjectID,
		}, cfg.Server.APIKeys, app.Logger)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
			Handler:           server.Router(),
			ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
			ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
			WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		}
		return chiTransport.ListenAndServe(ctx, srv, time.Duration(cfg.Server.ShutdownSec)*time.Second, app.Logger)
	}

	// A blocked stdin read cannot observe ctx, so the loop runs aside and a
	// signal returns immediately.
	errCh := make(chan error, 1)
	go func() { errCh <- app.MCP.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout()) }()

	select {
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("stdio transport: %w", err)
		}
		app.Logger.Info("stdin closed, shutting down")
		return nil
	case <-ctx.Done():
		app.Logger.Info("Received shutdown signal")
		return nil
	}
}
