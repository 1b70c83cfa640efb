// Package cli wires configuration, logging and services behind the cobra commands.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/maomao/internal/config"
	logpkg "github.com/kailas-cloud/maomao/internal/logger"
	"github.com/kailas-cloud/maomao/internal/version"
)

// builder creates the application graph; tests replace it.
type builder func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error)

type rootOptions struct {
	configPath string
	logLevel   string

	load  func(path string) (config.Config, error)
	build builder
}

// NewRootCmd returns the maomao command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{load: config.Load, build: Build})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "maomao-mcp",
		Short: "maomao - knowledge retrieval over MCP",
		Long: `maomao answers semantic queries against an indexed knowledge base.

It embeds the query, runs a filtered similarity search in the vector store and
returns ranked chunks, either as MCP tools (serve) or directly (search).`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to maomao.yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newSearchCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}

// setup loads configuration, applies mutate (flag overrides), and builds the app.
func (o *rootOptions) setup(ctx context.Context, mutate func(*config.Config)) (*App, error) {
	cfg, err := o.load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if mutate != nil {
		mutate(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}

	level := cfg.Logging.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger, err := logpkg.NewLogger(cfg.Logging.Env, level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	app, err := o.build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return app, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, version.String())
}
