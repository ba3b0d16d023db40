// Command server runs the spectrechat relay: a WebSocket gateway in front of
// the message-routing engine, with connection state in memory or DynamoDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/tversen/spectrechat/internal/broadcast"
	"github.com/tversen/spectrechat/internal/config"
	"github.com/tversen/spectrechat/internal/ghost"
	"github.com/tversen/spectrechat/internal/namer"
	"github.com/tversen/spectrechat/internal/router"
	"github.com/tversen/spectrechat/internal/server"
	"github.com/tversen/spectrechat/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "spectrechat",
		Usage: "real-time multi-user chat relay with ghost observation mode",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML configuration file",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address, overrides configuration",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := newLogger()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Addr = addr
	}

	st, err := newStore(c.Context, cfg)
	if err != nil {
		return err
	}
	logger.Info().Str("backend", cfg.Store.Backend).Msg("store ready")

	hub := server.NewHub(logger)
	caster := broadcast.New(hub, logger)
	rt := router.New(st, namer.New(st), ghost.NewRegistry(st), caster, cfg.GhostPasskey, logger)
	hub.SetHandler(rt)
	go hub.Run()

	gateway := server.NewGateway(cfg, hub, logger)
	httpServer := server.NewHTTPServer(cfg.Addr, gateway.Routes())

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("relay listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	if err := server.ShutdownHTTPServer(httpServer, shutdownTimeout); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		logger.Warn().Err(err).Msg("hub shutdown")
	}
	return nil
}

func newLogger() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("app", "spectrechat").Logger()
}

func newStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return store.NewMemory(), nil

	case config.BackendDynamoDB:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Store.Dynamo.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Store.Dynamo.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Store.Dynamo.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Store.Dynamo.Endpoint)
			}
		})
		return store.NewDynamo(client, cfg.Store.Dynamo.ConnectionsTable, cfg.Store.Dynamo.CountersTable), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
