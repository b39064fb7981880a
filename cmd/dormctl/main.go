// Command dormctl runs dormitory maintenance tasks from the shell: schema
// migration, monthly billing, the overdue sweep, price sync, settings
// checks and the occupancy audit. It reads the same environment as the
// server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/dorm-engine/app"
	"github.com/warp/dorm-engine/config"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/logging"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	envFile string
	actorID string
	role    string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "dormctl",
		Short:         "Dormitory engine maintenance tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.envFile, "env", ".env", "optional .env file")
	root.PersistentFlags().StringVar(&g.actorID, "actor", "dormctl", "actor id recorded on events")
	root.PersistentFlags().StringVar(&g.role, "role", string(dorm.RoleAdmin), "actor role: admin or staff")

	root.AddCommand(
		migrateCmd(g),
		billsCmd(g),
		pricesCmd(g),
		settingsCmd(g),
		auditCmd(g),
	)
	return root
}

// open loads the configuration and builds the engine.
func (g *globals) open(ctx context.Context) (*app.App, *zap.Logger, error) {
	cfg, err := config.Load(g.envFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.LogLevel, "console", "dormctl")
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return a, log, nil
}

func (g *globals) actor() (dorm.Actor, error) {
	role, err := dorm.ParseRole(g.role)
	if err != nil {
		return dorm.Actor{}, err
	}
	return dorm.Actor{ID: g.actorID, Role: role}, nil
}

// run opens the engine, resolves the actor and calls fn.
func (g *globals) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, actor dorm.Actor) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	actor, err := g.actor()
	if err != nil {
		return err
	}
	a, log, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer a.Close()
	return fn(ctx, a, actor)
}
