// relayd wires everything together: config from env, flags on top,
// zerolog to the console, and the HTTP server hosting the WebSocket
// relay. SIGINT/SIGTERM trigger a graceful shutdown.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"session-relay/internal/config"
	"session-relay/internal/server"
)

const version = "0.2.0"

func main() {
	cmd := &cli.Command{
		Name:    "relayd",
		Usage:   "real-time session relay server",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start the relay server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "listen",
						Aliases: []string{"l"},
						Usage:   "Listen address",
					},
					&cli.BoolFlag{
						Name:  "echo",
						Usage: "Echo broadcasts back to their sender",
					},
					&cli.StringFlag{
						Name:  "log-level",
						Usage: "Log level (debug, info, warn, error)",
					},
				},
				Action: runStart,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log := zerolog.New(os.Stderr)
		log.Error().Err(err).Msg("relayd failed")
		os.Exit(1)
	}
}

func runStart(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.IsSet("listen") {
		cfg.ListenAddr = cmd.String("listen")
	}
	if cmd.IsSet("echo") {
		cfg.BroadcastEcho = cmd.Bool("echo")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	srv := server.New(cfg, log)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("relay listening")
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
