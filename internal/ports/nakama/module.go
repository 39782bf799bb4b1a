package nakama

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/straub/table/internal/app"
	"github.com/straub/table/internal/app/onboarding"
	"github.com/straub/table/internal/config"
	"github.com/straub/table/internal/gateway"
	"github.com/straub/table/internal/ports"
	"github.com/straub/table/internal/protocol"
	"github.com/straub/table/internal/session"
)

// module holds the services shared by every match, RPC and hook of the plugin.
type module struct {
	games   *app.Service
	hub     *session.Hub
	router  *gateway.Router
	onboard *onboarding.Service
	logger  runtime.Logger
}

func newModule(store ports.Store, accounts ports.AccountPort, logger runtime.Logger, adminSecret string) *module {
	cfg := config.GetTableConfig()
	hub := session.NewHub(logger, cfg.SendQueueSize)
	hub.Start()
	games := app.NewService(store, gateway.NewPublisher(hub, logger), nil)
	return &module{
		games:   games,
		hub:     hub,
		router:  gateway.NewRouter(hub, games, logger, adminSecret),
		onboard: onboarding.NewService(store, accounts, nil),
		logger:  logger,
	}
}

// InitModule wires RPCs, the match handler and hooks for the Nakama runtime.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	env, _ := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string)
	if path := env["table_config_path"]; path != "" {
		if err := config.LoadTableConfig(path); err != nil {
			return fmt.Errorf("load table config: %w", err)
		}
	}

	m := newModule(NewNakamaStorageAdapter(nk), NewNakamaAccountAdapter(nk), logger, env["table_admin_secret"])

	if err := m.registerRPCs(initializer); err != nil {
		return err
	}
	if err := initializer.RegisterMatch(MatchNameTable, func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) (runtime.Match, error) {
		return &matchHandler{m: m}, nil
	}); err != nil {
		return err
	}
	if err := initializer.RegisterAfterAuthenticateDevice(m.afterAuthenticateDevice); err != nil {
		return err
	}
	if err := initializer.RegisterShutdown(m.shutdown); err != nil {
		return err
	}

	logger.Info("Table Go module loaded.")
	return nil
}

// shutdown warns every connected session and drains the hub.
func (m *module) shutdown(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) {
	m.hub.Announce(protocol.Announcement{
		Title: "Server shutting down...",
		Text:  "It should probably be back online shortly.",
		Time:  30000,
	}, "")
	if err := m.hub.Stop(ctx); err != nil {
		logger.Error("shutdown: hub did not drain: %v", err)
	}
}
