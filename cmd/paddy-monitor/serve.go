package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/paddy-monitor/internal/api"
	"github.com/menta2k/paddy-monitor/internal/logging"
	"github.com/menta2k/paddy-monitor/internal/utils"
)

var (
	serveAddr        string
	serveWithWorkers bool

	workerID          string
	workerMetricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves the field, photo-group, job and report endpoints. Uploaded photos
are queued for analysis; run "paddy-monitor worker" to process them, or pass
--workers to run the worker pool in the same process.`,
	RunE: runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued analysis jobs",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveWithWorkers, "workers", false, "also run the queue workers in this process")

	workerCmd.Flags().StringVar(&workerID, "id", "", "worker id recorded on claimed jobs (default host-random)")
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "serve /metrics on this address")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := utils.EnsureDir(a.cfg.Storage.UploadDir); err != nil {
		return err
	}
	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signalContext()
	defer stop()

	srv := api.NewServer(a.store, a.queue, a.cfg.Storage, a.metrics, a.log)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down HTTP server")
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if serveWithWorkers {
		w, err := a.worker("")
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	return g.Wait()
}

func runWorker(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.worker(workerID)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	if workerMetricsAddr != "" {
		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))
		g.Go(func() error {
			a.log.Info("metrics listening", logging.Fields{"addr": workerMetricsAddr})
			if err := e.Start(workerMetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			return e.Shutdown(sctx)
		})
	}
	g.Go(func() error {
		return w.Run(gctx)
	})
	return g.Wait()
}
