package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/containerd/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/httpapi"
)

var serveOpts struct {
	listen   string
	interval time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and reconcile every declared stage periodically",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		srv := &http.Server{
			Addr: serveOpts.listen,
			Handler: httpapi.NewRouter(&httpapi.Server{
				Service: e.service,
				Inputs:  e.file,
				Metrics: e.metrics.Handler(),
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.G(ctx).WithField("addr", serveOpts.listen).Info("serving")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if serveOpts.interval > 0 {
			g.Go(func() error {
				watch(ctx, e, serveOpts.interval)
				return nil
			})
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.listen, "listen", ":8080", "HTTP listen address")
	serveCmd.Flags().DurationVar(&serveOpts.interval, "interval", 5*time.Minute, "reconcile every declared stage this often (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

// watch reconciles every declared stage now and then on every tick until
// ctx is done. Failures are logged and recorded; the next tick retries.
func watch(ctx context.Context, e *env, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		results, err := e.service.ReconcileAll(ctx, e.file.Inputs(), opts.concurrency)
		log.G(ctx).WithFields(log.Fields{
			"stages": len(results),
			"failed": err != nil,
		}).Info("reconcile round finished")

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
