// Command kvd serves a fastkv store over HTTP, with optional JSON
// persistence and Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IJSK10/fastkv/config"
	"github.com/IJSK10/fastkv/internal/logging"
	"github.com/IJSK10/fastkv/metrics/prom"
	"github.com/IJSK10/fastkv/persist"
	"github.com/IJSK10/fastkv/server"
	"github.com/IJSK10/fastkv/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	path := flag.String("config", "", "path to a YAML config file (defaults only when empty)")
	flag.Parse()

	cfg := config.Defaults()
	if *path != "" {
		var err error
		if cfg, err = config.Load(*path); err != nil {
			fmt.Fprintln(os.Stderr, "kvd:", err)
			os.Exit(2)
		}
	}

	log, err := logging.New(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kvd:", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("kvd stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	opt := cfg.Store.Options()
	opt.Logger = log

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opt.Metrics = prom.New(reg, cfg.Metrics.Namespace, cfg.Metrics.Subsystem, nil)
		gatherer = reg
	}

	kv := store.New(opt)

	var (
		saver    *persist.Saver
		periodic *persist.Periodic
	)
	if cfg.Persistence.Enabled {
		n, err := persist.Load(cfg.Persistence.Path, kv, log)
		if err != nil {
			_ = kv.Close()
			return err
		}
		log.Info("snapshot loaded", zap.String("path", cfg.Persistence.Path), zap.Int("entries", n))

		saver = persist.NewSaver(cfg.Persistence.Path, kv, log)
		if cfg.Persistence.Schedule != "" {
			if periodic, err = persist.NewPeriodic(cfg.Persistence.Schedule, saver, log); err != nil {
				_ = kv.Close()
				return err
			}
			periodic.Start()
		}
	}

	srv := server.New(kv, server.Options{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		MaxBodySize:  cfg.Server.MaxBodySize,
		Gatherer:     gatherer,
		Logger:       log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(cfg.Server.Addr()) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, err)
		}
		if periodic != nil {
			if err := periodic.Stop(sctx); err != nil {
				errs = append(errs, errors.Wrap(err, "stop snapshots"))
			}
		}
		if saver != nil {
			if err := saver.Save(sctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := kv.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close store"))
		}
		if len(errs) > 0 {
			return errors.Errorf("shutdown: %v", errs)
		}
		return nil
	})

	return g.Wait()
}
