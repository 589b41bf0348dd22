package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/refereehq/referee/core/controlplane/gateway"
	"github.com/refereehq/referee/core/infra/buildinfo"
	"github.com/refereehq/referee/core/infra/config"
)

func main() {
	log.Println("referee gateway starting...")
	buildinfo.Log("referee-gateway")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg := config.Load()
	if err := gateway.Run(ctx, cfg); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
}
