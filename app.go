package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
)

var ErrInterrupted = errors.New("got interrupt signal")

// Service is a long-running part of the API server process.
type Service interface {
	Run(ctx context.Context) error
}

// runServices runs every service until the first one returns, then stops
// the rest and returns that first error.
func runServices(ctx context.Context, services ...Service) error {
	var g run.Group
	for _, s := range services {
		g.Add(actor(ctx, s))
	}
	return g.Run()
}

func actor(ctx context.Context, service Service) (func() error, func(error)) {
	ctx, cancel := context.WithCancelCause(ctx)

	return func() error {
			return service.Run(ctx)
		}, func(err error) {
			cancel(err)
		}
}

type interrupter struct{}

func (interrupter) Run(ctx context.Context) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case sig := <-stop:
		return fmt.Errorf("%w: %s", ErrInterrupted, sig)
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// httpService serves handler until ctx is done, then shuts down gracefully.
type httpService struct {
	server *http.Server
	logger *slog.Logger
}

func newHTTPService(addr string, handler http.Handler, logger *slog.Logger) httpService {
	return httpService{
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

func (h httpService) Run(ctx context.Context) error {
	h.logger.Info("aml alerting API listening", "addr", h.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	h.logger.Info("shutting down API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return context.Cause(ctx)
}

// feedService screens the transaction feed in arrival order and forwards
// every decision to the sink.
type feedService struct {
	source   TransactionSource
	screener PipelineScreener
	sink     Sink
	logger   *slog.Logger
}

func (f feedService) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	txs := make(chan Transaction, 256)
	srcErr := make(chan error, 1)
	go func() {
		defer close(txs)
		srcErr <- f.source.Run(ctx, txs)
	}()

	decisions, errc := f.screener.Stream(ctx, txs)

	screened, alerts := 0, 0
	for d := range decisions {
		if err := f.sink.Emit(ctx, d); err != nil {
			cancel()
			return fmt.Errorf("emit %s: %w", d, err)
		}
		screened++
		if d.Alert {
			alerts++
		}
	}

	f.logger.Info("feed stopped", "transactions", screened, "alerts", alerts)

	if err := <-errc; err != nil {
		return err
	}
	return <-srcErr
}
