package main

import (
	"github.com/spf13/cobra"

	"github.com/tfvieira/tic43/internal/server"
)

func newServeCommand(global *globalOptions) *cobra.Command {
	var addr string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve evaluations and refinements over HTTP",
		Args:  argsNone,
		RunE: func(cmd *cobra.Command, args []string) error {
			configureColor(true)
			container, err := buildContainer(global)
			if err != nil {
				return err
			}
			defer func() { _ = container.Shutdown(cmd.Context()) }()

			cfg := container.Config
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}

			evaluator, err := container.Evaluator()
			if err != nil {
				return err
			}
			r, err := container.Refiner()
			if err != nil {
				return err
			}
			store, err := container.ResultStore()
			if err != nil {
				return err
			}

			serverCfg := server.DefaultConfig()
			serverCfg.Addr = cfg.Server.Addr
			serverCfg.RecentResults = cfg.Server.RecentResults
			serverCfg.Workers = cfg.Evaluator.Workers
			serverCfg.MaxAttempts = cfg.Refiner.MaxAttempts
			serverCfg.Debug = debug

			deps := server.Deps{
				Evaluator: evaluator,
				Refiner:   r,
				Metrics:   container.Metrics,
				Tracer:    container.Tracer,
			}
			// A nil *sink.SQLite must not become a non-nil interface.
			if store != nil {
				deps.Sink = store
				deps.Results = store
			}

			srv, err := server.New(serverCfg, deps)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&debug, "debug", false, "gin debug mode")
	return cmd
}
