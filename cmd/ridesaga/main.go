package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ridesaga/internal/app"
	"ridesaga/internal/config"
	"ridesaga/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "ridesaga",
		Short:         "Choreographed ride booking saga",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(stageCmd(app.StageIntake, "Accept ride requests over HTTP"))
	rootCmd.AddCommand(stageCmd(app.StagePricing, "Price RideCreated events"))
	rootCmd.AddCommand(stageCmd(app.StageMatcher, "Assign drivers to priced rides"))
	rootCmd.AddCommand(stageCmd(app.StagePayments, "Charge riders for assigned rides"))
	rootCmd.AddCommand(stageCmd(app.StageStreamWatcher, "Publish payment outcomes from payment row changes"))
	rootCmd.AddCommand(stageCmd(app.StageFinalizer, "Settle rides and release drivers"))
	rootCmd.AddCommand(stageCmd(app.StageReconciler, "Re-publish rides stranded in requested"))
	rootCmd.AddCommand(allCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedDriversCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func stageCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *app.Container) error {
				return c.RunStage(ctx, name)
			})
		},
	}
}

func allCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "all",
		Short: "Run every stage in one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *app.Container) error {
				if migrate {
					if err := c.Migrate(ctx); err != nil {
						return err
					}
				}
				return c.RunAll(ctx)
			})
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before starting")

	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and payment change trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *app.Container) error {
				if err := c.Migrate(ctx); err != nil {
					return err
				}
				c.Logger.Info("schema applied")
				return nil
			})
		},
	}
}

func seedDriversCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "seed-drivers",
		Short: "Insert sample available drivers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *app.Container) error {
				created, err := c.DriverService().Seed(ctx, count)
				if err != nil {
					return err
				}
				c.Logger.WithField("created", created).Info("drivers seeded")
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of drivers")

	return cmd
}

func withContainer(ctx context.Context, fn func(ctx context.Context, c *app.Container) error) error {
	cfg := config.Load()
	logger := logging.New(cfg.Log)

	c, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}
