package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"coffee-trace-api-server/internal/api/routes"
	"coffee-trace-api-server/internal/auth"
	"coffee-trace-api-server/internal/batch"
	"coffee-trace-api-server/internal/cache"
	"coffee-trace-api-server/internal/metrics"
	"coffee-trace-api-server/internal/qr"
	"coffee-trace-api-server/internal/s3"
	"coffee-trace-api-server/internal/socket"
)

type ServeCmd struct {
	AutoMigrate     bool          `help:"Apply schema changes before serving." default:"true" negatable:""`
	ShutdownTimeout time.Duration `help:"Grace period for in-flight requests on shutdown." default:"15s"`
}

func (s *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := globals.load()
	if err != nil {
		return err
	}
	gin.SetMode(cfg.Server.Mode)

	st, err := openStore(ctx, cfg, s.AutoMigrate)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	m := metrics.New()
	hub := socket.NewHub(m)

	opts := batch.Options{
		Store:        st,
		Synthesizer:  qr.NewEncoder(cfg.QR.BaseURL, cfg.QR.Size),
		Notifier:     hub,
		Metrics:      m,
		QueryTimeout: cfg.Store.QueryTimeout,
	}

	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rc.Close()
		opts.Cache = rc
		log.Info().Str("addr", cfg.Redis.Addr).Msg("QR artifact cache enabled")
	}

	if cfg.S3.Bucket != "" {
		uploader, err := s3.NewUploader(ctx, cfg.S3)
		if err != nil {
			return err
		}
		opts.Publisher = uploader
		log.Info().Str("bucket", cfg.S3.Bucket).Msg("QR image publishing enabled")
	}

	router := routes.SetupRouter(routes.Dependencies{
		Config:  cfg,
		Store:   st,
		Batches: batch.NewService(opts),
		Tokens:  auth.NewManager(cfg.JWT.Secret, cfg.JWT.Expiration),
		Hub:     hub,
		Metrics: m,
	})

	srv := configureHTTPServer(":"+cfg.Server.Port, router)
	errc := make(chan error, 1)
	go func() {
		log.Info().
			Str("version", globals.Version).
			Str("port", cfg.Server.Port).
			Str("store", cfg.Store.Driver).
			Msg("Starting API server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
