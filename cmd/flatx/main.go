package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canopy-network/flatx/app/flatindexer"
	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/flat/events"
	"github.com/canopy-network/flatx/pkg/logging"
	"github.com/canopy-network/flatx/pkg/utils"
)

func main() {
	var logger *zap.Logger

	rootCmd := &cobra.Command{
		Use:           "flatx",
		Short:         "Flat EAV index builder",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			l, err := logging.NewWithLevel(level)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}
	rootCmd.PersistentFlags().String("log-level", utils.Env("LOG_LEVEL", "info"), "debug, info, warn or error")

	// initialize builds the app for one-shot commands, without cron or consumer.
	initialize := func(ctx context.Context) (*flatindexer.App, error) {
		cfg := flatindexer.LoadConfig()
		cfg.RebuildCron = ""
		return flatindexer.Initialize(ctx, cfg, logger)
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume events, run scheduled rebuilds and serve status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := flatindexer.Initialize(ctx, flatindexer.LoadConfig(), logger)
			if err != nil {
				return err
			}
			app.SetupServer()
			app.Start(ctx)
			return nil
		},
	}

	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the flat tables of every active store, or of one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := initialize(ctx)
			if err != nil {
				return err
			}
			defer app.Stop()

			var store *catalog.StoreID
			if cmd.Flags().Changed("store") {
				id, _ := cmd.Flags().GetUint32("store")
				s := catalog.StoreID(id)
				store = &s
			}
			return app.Rebuild(ctx, store)
		},
	}
	rebuildCmd.Flags().Uint32("store", 0, "rebuild only this store")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the build state of every flat index as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := initialize(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Stop()

			statuses, err := app.Status(cmd.Context())
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(statuses)
		},
	}

	publishCmd := &cobra.Command{
		Use:   "publish <kind> <json>",
		Short: "Append a domain event to the events stream",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := events.Decode(events.Kind(args[0]), []byte(args[1]))
			if err != nil {
				return err
			}
			app, err := initialize(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Stop()
			if app.Redis == nil {
				return errors.New("publish needs REDIS_ENABLED=true")
			}

			id, err := events.NewPublisher(app.Redis, app.Config.EventsStream).Publish(cmd.Context(), ev)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	teardownCmd := &cobra.Command{
		Use:   "teardown",
		Short: "Drop every flat and staging table and forget the build state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := initialize(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Stop()

			var errs []error
			for _, ix := range app.Indexers {
				errs = append(errs, ix.Teardown(cmd.Context()))
			}
			return errors.Join(errs...)
		},
	}

	rootCmd.AddCommand(serveCmd, rebuildCmd, statusCmd, publishCmd, teardownCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
