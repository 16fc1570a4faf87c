// Package database bootstraps a fresh store with the accounts needed to log in.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"coffee-trace-api-server/config"
	"coffee-trace-api-server/internal/apperror"
	"coffee-trace-api-server/internal/auth"
	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/store"
)

// SeedAdmin creates the bootstrap cooperative and admin user unless the admin
// already exists. It returns the admin, existing or new.
func SeedAdmin(ctx context.Context, st store.Store, cfg config.SeedConfig) (*models.User, error) {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil, errors.New("seed.adminEmail and seed.adminPassword are required")
	}

	existing, err := st.GetUserByEmail(ctx, cfg.AdminEmail)
	if err == nil {
		log.Info().Str("email", existing.Email).Msg("Admin already exists. Seeding skipped.")
		return existing, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("look up admin: %w", err)
	}

	log.Info().Msg("Admin not found. Seeding...")

	coop, err := findOrCreateCooperative(ctx, st, cfg)
	if err != nil {
		return nil, err
	}

	hashed, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	admin := &models.User{
		Email:         cfg.AdminEmail,
		Name:          "Administrator",
		PasswordHash:  hashed,
		Role:          models.RoleAdmin,
		CooperativeID: coop.ID,
	}
	if err := st.CreateUser(ctx, admin); err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}

	log.Info().Str("email", admin.Email).Int64("cooperative_id", coop.ID).Msg("Admin seeded successfully.")
	return admin, nil
}

func findOrCreateCooperative(ctx context.Context, st store.Store, cfg config.SeedConfig) (*models.Cooperative, error) {
	coops, err := st.ListCooperatives(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cooperatives: %w", err)
	}
	for i := range coops {
		if strings.EqualFold(coops[i].Name, cfg.CooperativeName) {
			return &coops[i], nil
		}
	}

	coop := &models.Cooperative{Name: cfg.CooperativeName, Country: cfg.Country}
	if err := st.CreateCooperative(ctx, coop); err != nil {
		return nil, fmt.Errorf("create cooperative: %w", err)
	}
	return coop, nil
}
