package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fin-ingest/internal/api"
	"github.com/sells-group/fin-ingest/internal/pipeline"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background extraction workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		dispatcher := pipeline.NewDispatcher(cfg.Dispatcher)
		env.Extractor.SetQueue(dispatcher)

		srv := api.New(cfg, env.Store,
			env.intake(dispatcher),
			pipeline.NewRetrier(cfg, env.Store, env.Blobs, dispatcher),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return dispatcher.Run(gctx, env.Extractor, env.Validator)
		})
		g.Go(func() error {
			return srv.ListenAndServe(gctx, resolvePort(servePort, cfg.Server.Port))
		})

		err = g.Wait()
		zap.L().Info("serve: stopped")
		return err
	},
}

// resolvePort prefers the flag value over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
