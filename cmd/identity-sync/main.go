package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	identitysync "github.com/goliatone/go-identity-sync"
	"github.com/goliatone/go-identity-sync/adapters/gologger"
	"github.com/goliatone/go-identity-sync/adapters/prommetrics"
	"github.com/goliatone/go-identity-sync/core"
	"github.com/goliatone/go-identity-sync/httpapi"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "identity-sync: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet, flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadSettings(flagSet, flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	raw, err := loadConfigFile(cfg.ConfigFile)
	if err != nil {
		return err
	}
	importConfig, err := core.NewCfgxConfigProvider(core.StaticConfigLoader{Values: raw}).Load(ctx, core.DefaultConfig())
	if err != nil {
		return fmt.Errorf("load import config: %w", err)
	}
	if flagSet.Changed("scheduler") || cfg.Scheduler {
		importConfig.Scheduler.Enabled = cfg.Scheduler
	}

	provider, logger := gologger.Resolve(gologger.DefaultName, nil, nil)

	client, err := openPersistence(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	recorder := prommetrics.NewRecorder(prometheus.DefaultRegisterer)
	rt, err := identitysync.Setup(importConfig,
		identitysync.WithPersistence(client),
		identitysync.WithAppKey(cfg.AppKey),
		identitysync.WithRuntimeMetrics(recorder),
		identitysync.WithRuntimeLogger(provider, logger),
	)
	if err != nil {
		return fmt.Errorf("setup runtime: %w", err)
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	handler, err := httpapi.NewHandler(rt.Service, httpapi.WithLogger(gologger.Component(provider, logger, "http")))
	if err != nil {
		return err
	}
	handler.Register(router)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runtimeErr := make(chan error, 1)
	go func() {
		runtimeErr <- rt.Start(ctx)
	}()
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("identity sync listening", "addr", cfg.Addr, "driver", cfg.DBDriver, "scheduler", importConfig.Scheduler.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	runtimeDone := false
	select {
	case <-ctx.Done():
	case err = <-serverErr:
	case err = <-runtimeErr:
		runtimeDone = true
		if err != nil {
			err = fmt.Errorf("runtime: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	if !runtimeDone {
		if runErr := <-runtimeErr; runErr != nil && err == nil {
			err = fmt.Errorf("runtime: %w", runErr)
		}
	}
	logger.Info("identity sync stopped")
	return err
}
