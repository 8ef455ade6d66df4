// Command offlinecache runs the offline layer in front of the lots app.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/unkn0wn-root/offlinecache/config"
	"github.com/unkn0wn-root/offlinecache/internal/app"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.SetPrefix("[OFFLINECACHE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
