package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/gleaner/internal/api"
	"github.com/FranksOps/gleaner/internal/metrics"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the collection workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		cfg := a.Config
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		logger := a.Logger

		bgCtx, cancelBg := context.WithCancel(context.Background())
		defer cancelBg()
		a.StartBackground(bgCtx)

		var ms *metrics.Server
		if cfg.Server.MetricsPort > 0 {
			ms = metrics.Start(cfg.Server.MetricsPort, logger)
			logger.Info("metrics listening", "port", cfg.Server.MetricsPort)
		}

		srv := &http.Server{
			Addr: cfg.Server.Addr,
			Handler: api.NewRouter(api.Deps{
				Store:   a.Store,
				Tasks:   a.Tasks,
				Sources: a.Sources,
				Deep:    a.Deep,
				Models:  a.Analyzer,
			}, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			logger.Info("http listening", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
			close(errc)
		}()

		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
		case err = <-errc:
		}

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs []error
		if err != nil {
			errs = append(errs, err)
		}
		if err := srv.Shutdown(shutCtx); err != nil {
			errs = append(errs, err)
		}
		cancelBg()
		if err := ms.Stop(shutCtx); err != nil {
			errs = append(errs, err)
		}
		if err := a.Close(shutCtx); err != nil {
			errs = append(errs, err)
		}
		logger.Info("stopped")
		return errors.Join(errs...)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
