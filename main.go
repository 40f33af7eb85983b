package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/Medialink/internal"
	"github.com/hbomb79/Medialink/pkg/logger"
)

var log = logger.Get("Bootstrap")

// main() is the entry point to the program, from here will
// we load the users Medialink configuration (file and/or environment),
// construct the services and run them until we receive a signal
// to terminate.
func main() {
	configPath := flag.String("config", os.Getenv("MEDIALINK_CONFIG"), "path to an optional YAML configuration file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(config.LogLevel)
	if err != nil {
		log.Warnf("%v, defaulting to INFO\n", err)
		level = logger.INFO
	}
	logger.SetMinLoggingLevel(level.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	medialink, err := internal.New(ctx, *config)
	if err != nil {
		log.Emit(logger.FATAL, "Failed to initialise Medialink: %v\n", err)
		os.Exit(1)
	}

	if err := medialink.Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Medialink stopped unexpectedly: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Medialink shutdown complete\n")
}
