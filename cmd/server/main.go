package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/codetime/internal/logging"
	"github.com/dmitrijs2005/codetime/internal/server"
	"github.com/dmitrijs2005/codetime/internal/server/config"
)

// set with -ldflags "-X main.buildVersion=..."
var buildVersion = "dev"

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.NewJSON(os.Stdout, cfg.LogLevel)

	app, err := server.NewApp(ctx, cfg, buildVersion, logger)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		os.Exit(1)
	}
}
