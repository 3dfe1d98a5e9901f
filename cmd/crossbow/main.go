package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "net/http/pprof"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	echopprof "github.com/sevenNt/echo-pprof"
	"github.com/urfave/cli/v2"

	"github.com/crossbowhq/crossbow/pkg/ingest"
	"github.com/crossbowhq/crossbow/pkg/projector"
	"github.com/crossbowhq/crossbow/pkg/store"
)

func main() {
	app := cli.App{
		Name:    "crossbow",
		Usage:   "webhook ingestion and normalization service",
		Version: "0.0.1",
	}

	app.Flags = []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Usage:   "port to serve the http server on",
			Value:   3010,
			EnvVars: []string{"CB_PORT"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "enable debug logging",
			Value:   false,
			EnvVars: []string{"CB_DEBUG"},
		},
		&cli.StringFlag{
			Name:    "sqlite-path",
			Usage:   "path to the sqlite database",
			Value:   "/data/crossbow.db",
			EnvVars: []string{"CB_SQLITE_PATH"},
		},
		&cli.BoolFlag{
			Name:    "migrate-db",
			Usage:   "run database migrations",
			Value:   true,
			EnvVars: []string{"CB_MIGRATE_DB"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Usage:   "maximum number of open sqlite connections",
			Value:   5,
			EnvVars: []string{"CB_MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "github-webhook-secret",
			Usage:   "shared secret for verifying github webhook signatures",
			EnvVars: []string{"GITHUB_WEBHOOK_SECRET"},
		},
		&cli.IntFlag{
			Name:    "rate-limit-per-minute",
			Usage:   "webhook deliveries allowed per source per minute, 0 to disable",
			Value:   600,
			EnvVars: []string{"CB_RATE_LIMIT_PER_MINUTE"},
		},
	}

	app.Action = Crossbow

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// Crossbow is the main function for the webhook service
func Crossbow(cctx *cli.Context) error {
	ctx, cancel := context.WithCancel(cctx.Context)
	defer cancel()

	// Logging
	logLevel := slog.LevelInfo
	if cctx.Bool("debug") {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel, AddSource: true}))
	slog.SetDefault(slog.New(logger.Handler()))

	logger.Info("starting up")

	if cctx.String("github-webhook-secret") == "" {
		logger.Warn("no github webhook secret configured, github deliveries will fail signature verification")
	}

	s, err := store.New(
		cctx.String("sqlite-path"),
		cctx.Bool("migrate-db"),
		cctx.Int("max-db-connections"),
		logger,
	)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return err
	}

	p := projector.New(s, logger)

	ingestor := ingest.New(s, p, ingest.Config{
		GitHubSecret:  cctx.String("github-webhook-secret"),
		RatePerMinute: cctx.Int("rate-limit-per-minute"),
	}, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(slogecho.New(logger))
	e.Use(ingest.MetricsMiddleware)
	e.Use(middleware.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "Cross Bow")
	})
	ingestor.Routes(e)
	echopprof.Wrap(e)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cctx.Int("port")),
		Handler: e,
	}

	// Startup HTTP server
	shutdownHTTPServer := make(chan struct{})
	httpServerShutdown := make(chan struct{})
	go func() {
		logger := logger.With("source", "http_server")

		logger.Info("http server listening on port", "port", cctx.Int("port"))

		go func() {
			if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("failed to start http server", "error", err)
			}
		}()
		<-shutdownHTTPServer
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down http server", "error", err)
		}
		logger.Info("http server shut down")
		close(httpServerShutdown)
	}()

	// Trap SIGINT to trigger a shutdown.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-signals:
		logger.Info("received signal, shutting down")
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down, waiting for routines to finish")
	close(shutdownHTTPServer)
	<-httpServerShutdown

	// Drain in-flight projections before exiting so accepted events
	// are not left unprocessed by a clean shutdown.
	ingestor.Wait()
	cancel()

	logger.Info("shutdown complete")

	return nil
}
