package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"proxy-pilot-go/internal/bridge"
	"proxy-pilot-go/internal/client"
	"proxy-pilot-go/internal/command"
	"proxy-pilot-go/internal/config"
	"proxy-pilot-go/internal/controller"
	"proxy-pilot-go/internal/extension"
	"proxy-pilot-go/internal/handler"
	"proxy-pilot-go/internal/metrics"
	"proxy-pilot-go/internal/middleware"
	"proxy-pilot-go/internal/session"
	"proxy-pilot-go/internal/watcher"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("proxy-pilot"),
		kong.Description("Browser proxy commander driven by command URLs."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newExtension,
			newSession,
			newBridge,
			newController,
			func(c *controller.Controller) handler.Controller { return c },
			func(dt *bridge.DevTools) bridge.BrowsingData { return dt },
			func(dt *bridge.DevTools) bridge.Tabs { return dt },
			newDispatcher,
			newWatcher,
			client.NewEgressClient,
			handler.NewAdminHandler,
			handler.NewHealthHandler,
			newEcho,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startCommander, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newExtension(lc fx.Lifecycle) (*extension.Helper, error) {
	ext, err := extension.New()
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			ext.Cleanup()
			return nil
		},
	})
	return ext, nil
}

func newSession(lc fx.Lifecycle, cfg *config.Config, ext *extension.Helper, logger *slog.Logger) (*session.Session, error) {
	sess, err := session.Start(context.Background(), cfg, ext.Dir(), logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return sess.Close()
		},
	})
	return sess, nil
}

func newBridge(lc fx.Lifecycle, sess *session.Session, logger *slog.Logger) (*bridge.DevTools, error) {
	conn, err := bridge.Dial(context.Background(), sess.WSURL, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return conn.Close()
		},
	})
	return bridge.NewDevTools(conn, logger), nil
}

func newController(dt *bridge.DevTools, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *controller.Controller {
	return controller.New(dt, dt, logger, m, cfg.Proxy.Bypass)
}

func newDispatcher(cfg *config.Config, ctrl *controller.Controller, dt *bridge.DevTools, logger *slog.Logger, m *metrics.Metrics) *command.Dispatcher {
	// init_extension re-arms interception and reverts to the system proxy,
	// matching a fresh start of the commander.
	initFn := func(ctx context.Context) error {
		if err := dt.Start(ctx); err != nil {
			return err
		}
		return ctrl.ResetProxy(ctx)
	}
	return command.NewDispatcher(cfg.Command.Scheme, ctrl, dt, dt, initFn, logger, m)
}

func newWatcher(dt *bridge.DevTools, disp *command.Dispatcher, logger *slog.Logger) *watcher.Watcher {
	return watcher.New(dt, dt, disp, logger)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// startCommander arms the bridge and starts the controller and watcher loops.
func startCommander(lc fx.Lifecycle, dt *bridge.DevTools, ctrl *controller.Controller, w *watcher.Watcher) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := dt.Start(ctx); err != nil {
				return err
			}
			runCtx, c := context.WithCancel(context.Background())
			cancel = c
			ctrl.Start(runCtx)
			w.Start(runCtx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Admin.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Admin.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Admin.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Admin.RateLimit.RequestsPerSecond)
	}

	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	return e
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Admin.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting admin server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("admin server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down admin server")
			return e.Shutdown(ctx)
		},
	})
}
