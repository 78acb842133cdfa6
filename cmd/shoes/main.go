// Command shoes runs the ShadowTLS v3 obfuscation proxy.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/shoes-proxy/shoes/internal/shoescmd"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "shoes: building logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof)); err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	root := shoescmd.NewRootCommand(logger)
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
