package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"coffee-trace-api-server/config"
	"coffee-trace-api-server/internal/logger"
	"coffee-trace-api-server/internal/store"
	"coffee-trace-api-server/internal/store/memory"
	"coffee-trace-api-server/internal/store/mongodb"
	"coffee-trace-api-server/internal/store/postgres"
)

type Globals struct {
	ConfigDir string
	Version   string
}

// load reads configuration and installs the process logger.
func (g *Globals) load() (config.Config, error) {
	cfg, err := config.LoadConfig(g.ConfigDir)
	if err != nil {
		return cfg, fmt.Errorf("could not load config: %w", err)
	}
	log.Logger = logger.Setup(cfg.Log.Level, cfg.Log.Pretty)
	return cfg, nil
}

// openStore connects the configured backend. When migrate is set the schema
// is brought up to date before returning.
func openStore(ctx context.Context, cfg config.Config, migrate bool) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory store; data is lost on exit")
		return memory.New(), nil

	case "mongo":
		st, err := mongodb.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := st.EnsureIndexes(ctx); err != nil {
				_ = st.Close(ctx)
				return nil, err
			}
		}
		return st, nil

	case "postgres":
		pool, err := postgres.NewPool(ctx, &postgres.PoolConfig{
			ConnString: cfg.Postgres.ConnString,
			MaxConns:   cfg.Postgres.MaxConns,
			MinConns:   cfg.Postgres.MinConns,
		})
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return postgres.New(pool), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
