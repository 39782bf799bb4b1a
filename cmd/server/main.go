// Command server runs the shared card table as a standalone HTTP and WebSocket server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/straub/table/internal/app"
	"github.com/straub/table/internal/app/onboarding"
	"github.com/straub/table/internal/config"
	"github.com/straub/table/internal/gateway"
	"github.com/straub/table/internal/logging"
	"github.com/straub/table/internal/ports"
	"github.com/straub/table/internal/ports/memstore"
	"github.com/straub/table/internal/ports/redisstore"
	"github.com/straub/table/internal/ports/sqlitestore"
	"github.com/straub/table/internal/ports/ws"
	"github.com/straub/table/internal/protocol"
	"github.com/straub/table/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return err
	}
	if cfg.ConfigPath != "" {
		if err := config.LoadTableConfig(cfg.ConfigPath); err != nil {
			return err
		}
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	hub := session.NewHub(logger, config.GetTableConfig().SendQueueSize)
	hub.Start()
	games := app.NewService(store, gateway.NewPublisher(hub, logger), nil)
	router := gateway.NewRouter(hub, games, logger, cfg.AdminSecret)
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: ws.NewServer(games, onboarding.NewService(store, nil, nil), hub, router, logger),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s (store %s)", cfg.Addr, cfg.Store)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = hub.Stop(context.Background())
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	return shutdown(srv, hub, cfg, logger)
}

// shutdown warns connected sessions, stops accepting requests and drains the hub.
func shutdown(srv *http.Server, hub *session.Hub, cfg config.ServerConfig, logger runtime.Logger) error {
	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	hub.Announce(protocol.Announcement{
		Title: "Server shutting down...",
		Text:  "It should probably be back online shortly.",
		Time:  int(cfg.ShutdownTimeout.Milliseconds()),
	}, "")
	httpErr := srv.Shutdown(ctx)
	return errors.Join(httpErr, hub.Stop(ctx))
}

func openStore(ctx context.Context, cfg config.ServerConfig) (ports.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return sqlitestore.Open(cfg.SQLitePath)
	case config.StoreRedis:
		return redisstore.Dial(ctx, cfg.RedisAddr)
	default:
		return memstore.New(), nil
	}
}
