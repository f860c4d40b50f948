package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/contentkit/modrun/cmd/modrun/commands"
	"github.com/contentkit/modrun/pkg/engine"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if ctx.Err() != nil {
		log.Info().Msg("Received interrupt signal, shut down")
	}
	if err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps a failure to the process exit status: 2 for user errors in
// scripts or project layout, 1 for everything else.
func exitCode(err error) int {
	if engine.IsCompile(err) || engine.IsNotFound(err) || engine.IsExecution(err) || engine.IsConfigurationNotFound(err) {
		return 2
	}
	return 1
}

// setupLogging configures the global logger used outside the engine. The
// engine's own logger follows the settings file instead.
func setupLogging() {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}
