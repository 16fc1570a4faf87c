package commands

import (
	"context"

	"github.com/rs/zerolog/log"
)

type MigrateCmd struct{}

func (m *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := globals.load()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer st.Close(ctx)

	log.Info().Str("store", cfg.Store.Driver).Msg("Schema is up to date")
	return nil
}
