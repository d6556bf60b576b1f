package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/openfreight/freightsim/logger"
	"github.com/openfreight/freightsim/node"
)

func main() {
	log := logger.Get()
	defer logger.Sync()

	cfg := node.DefaultConfig()

	n, err := node.NewNode(cfg)
	if err != nil {
		log.Fatal("failed to build node", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = n.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		log.Error("node exited", zap.Error(err))
	}

	if err := n.Stop(); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}
