// Package shoescmd builds the command-line surface, the same run/version
// shape caddyserver/caddy's caddycmd package gives Caddy, scaled down to
// what this proxy actually needs: no admin API, no module system.
package shoescmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shoes-proxy/shoes/internal/listener"
	"github.com/shoes-proxy/shoes/internal/metrics"
	"github.com/shoes-proxy/shoes/internal/resolver"
	"github.com/shoes-proxy/shoes/internal/shoesconfig"
)

// version is overwritten at build time via -ldflags "-X ...version=...".
var version = "dev"

// NewRootCommand builds the shoes CLI.
func NewRootCommand(logger *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "shoes",
		Short: "ShadowTLS v3 obfuscation proxy",
		Long: `shoes runs one or more ShadowTLS v3 listeners described in a TOML
configuration file. Each listener verifies the covert HMAC tag embedded
in a client's ClientHello, completes the TLS handshake either locally
or through a cover server, and then relays the resulting stream to a
plain TCP forward target.`,
		SilenceUsage: true,
		Version:      version,
	}
	root.SetVersionTemplate("{{.Version}}\n")

	root.AddCommand(newRunCommand(logger))
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newRunCommand(logger *zap.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run shoes in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), logger, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "shoes.toml", "path to the TOML configuration file")
	return cmd
}

func run(ctx context.Context, logger *zap.Logger, configPath string) error {
	file, err := shoesconfig.Load(configPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	res := resolver.New()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := make(chan error, len(file.Listeners))
	for _, lc := range file.Listeners {
		target, err := shoesconfig.BuildTarget(lc)
		if err != nil {
			return err
		}

		ln := &listener.Listener{
			Address:  lc.Address,
			Target:   target,
			Resolver: res,
			Metrics:  collector,
			Logger:   logger.With(zap.String("listener", lc.Address)),
		}
		netLn, err := ln.Listen()
		if err != nil {
			return err
		}

		logger.Info("listening", zap.String("address", lc.Address), zap.String("mode", lc.Mode))
		go func() { results <- ln.Serve(ctx, netLn) }()
	}

	for range file.Listeners {
		if err := <-results; err != nil && ctx.Err() == nil {
			logger.Error("listener exited", zap.Error(err))
		}
	}
	return nil
}
