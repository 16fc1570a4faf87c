package commands

import (
	"context"
	"time"

	"coffee-trace-api-server/internal/batch"
	"coffee-trace-api-server/internal/database"
	"coffee-trace-api-server/internal/qr"
)

type SeedCmd struct {
	AdminEmail    string `help:"Override seed.adminEmail." env:"SEED_ADMIN_EMAIL"`
	AdminPassword string `help:"Override seed.adminPassword." env:"SEED_ADMIN_PASSWORD"`
	Demo          bool   `help:"Also load the Honduras and Kenya demo cooperatives, farmers and harvests."`
	DemoPassword  string `help:"Password for the demo cooperative admins." default:"demo123" env:"SEED_DEMO_PASSWORD"`
}

func (s *SeedCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := globals.load()
	if err != nil {
		return err
	}
	if s.AdminEmail != "" {
		cfg.Seed.AdminEmail = s.AdminEmail
	}
	if s.AdminPassword != "" {
		cfg.Seed.AdminPassword = s.AdminPassword
	}

	st, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer st.Close(ctx)

	if _, err := database.SeedAdmin(ctx, st, cfg.Seed); err != nil {
		return err
	}
	if !s.Demo {
		return nil
	}

	svc := batch.NewService(batch.Options{
		Store:        st,
		Synthesizer:  qr.NewEncoder(cfg.QR.BaseURL, cfg.QR.Size),
		QueryTimeout: cfg.Store.QueryTimeout,
	})
	_, err = database.SeedDemo(ctx, st, svc, s.DemoPassword, time.Now())
	return err
}
