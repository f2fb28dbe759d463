package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/internal/metrics"
	"github.com/xkilldash9x/consentscope/internal/observability"
	"github.com/xkilldash9x/consentscope/internal/server"
	"github.com/xkilldash9x/consentscope/internal/store"
)

func newServeCmd(factory componentFactory) *cobra.Command {
	var listen string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the analysis API over HTTP and WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			m := metrics.New()
			analyzer, cleanup, err := factory.NewAnalyzer(ctx, cfg, logger, m)
			if err != nil {
				return err
			}
			defer cleanup()

			var repo store.Repository
			switch r, err := factory.NewStore(ctx, cfg, logger); {
			case errors.Is(err, store.ErrDisabled):
				logger.Warn("Persistence disabled. Results are only kept in the in-memory cache.")
			case err != nil:
				return err
			default:
				repo = r
				defer repo.Close()
			}

			serverCfg := cfg.Server()
			if listen != "" {
				serverCfg.ListenAddr = listen
			}
			logger.Info("Starting API server", zap.String("listen_addr", serverCfg.ListenAddr))
			return server.New(serverCfg, analyzer, repo, m, logger).ListenAndServe(ctx)
		},
	}
	serveCmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides server.listen_addr)")
	return serveCmd
}
