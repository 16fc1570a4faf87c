package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"coffee-trace-api-server/cmd/api/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Config  string           `help:"Directory containing config.yaml." default:"./config" type:"path"`
		Version kong.VersionFlag `help:"Print version and exit."`

		Serve   commands.ServeCmd   `cmd:"" default:"withargs" help:"Start the HTTP API server."`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply database schema (postgres migrations or mongo indexes)."`
		Seed    commands.SeedCmd    `cmd:"" help:"Create the bootstrap cooperative and admin account."`
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("coffee-trace-api"),
		kong.Description("Coffee batch identity and traceability API."),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{ConfigDir: cli.Config, Version: version})
	cmd.FatalIfErrorf(err)
}
