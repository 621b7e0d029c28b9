package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/pathguard/cmd/pathguard/commands"
	"github.com/openfroyo/pathguard/pkg/telemetry"
)

// Set with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// The global logger covers messages emitted before a config is loaded.
	// LOG_LEVEL is a process-wide floor that also applies to configured loggers.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		zerolog.SetGlobalLevel(telemetry.ParseLevel(lvl))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("pathguard failed")
		os.Exit(commands.ExitCode(err))
	}
}
