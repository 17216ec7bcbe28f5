// Command acplb-codex is the ACP-side entry point of the bridge: it speaks
// the Agent Client Protocol over stdio to whatever IDE or client spawned
// it, and drives a Codex CLI child per turn on the other side.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acplb-codex/internal/common/config"
	"github.com/kandev/acplb-codex/internal/common/logger"
	"github.com/kandev/acplb-codex/internal/runtime"
	"github.com/kandev/acplb-codex/internal/tracing"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.Default()
	defer log.Sync()

	cfg := config.Load()

	log.Info("starting bridge",
		zap.String("name", runtime.ImplementationName),
		zap.String("version", runtime.ImplementationVersion),
		zap.String("title", runtime.ImplementationTitle),
	)
	srv, err := runtime.New(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "acplb-codex: %v\n", err)
		return 1
	}
	defer srv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	conn := acp.NewAgentSideConnection(srv, os.Stdout, os.Stdin)
	srv.SetAgentConnection(conn)

	select {
	case <-conn.Done():
	case <-ctx.Done():
	}

	_ = tracing.Shutdown(context.Background())

	return 0
}
