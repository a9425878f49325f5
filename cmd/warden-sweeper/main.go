package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/rbac"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/tenancy"
)

var (
	runOnce    = flag.Bool("run-once", false, "Run one sweep and exit (for testing or backfilling)")
	sweepUntil = flag.String("before", "", "RFC3339 instant to sweep against. If empty, sweeps against now. Only used with --run-once")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	db, err := storage.Open(storage.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	registry := audit.NewRegistry()
	if err := rbac.RegisterAuditTypes(registry); err != nil {
		log.WithError(err).Fatal("Failed to register audit types")
	}
	if err := registry.Register(tenancy.BusinessType, audit.Registration{
		Label:      "tenant membership",
		Operations: []string{audit.OpAssign, audit.OpRevoke, audit.OpCleanupExpired},
	}); err != nil {
		log.WithError(err).Fatal("Failed to register audit types")
	}

	obsLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	recorder := audit.NewRecorder(audit.NewStore(), registry, obsLogger, metrics,
		audit.RecorderOptions{Strict: cfg.Audit.Strict})
	engine := rbac.NewEngine(db, rbac.NewStore(storage.DialectPostgres), recorder, obsLogger, metrics)

	sweep := func(ctx context.Context, before time.Time) {
		result, err := engine.SweepExpired(ctx, before, cfg.Sweep.BatchLimit)
		if err != nil {
			log.WithError(err).Error("Sweep failed")
			return
		}
		log.WithFields(logrus.Fields{
			"role_permissions": result.RolePermissions,
			"user_roles":       result.UserRoles,
			"memberships":      result.Memberships,
		}).Info("Sweep completed")
	}

	// Run once mode (for testing or backfilling)
	if *runOnce {
		before := time.Now().UTC()
		if *sweepUntil != "" {
			before, err = time.Parse(time.RFC3339, *sweepUntil)
			if err != nil {
				log.WithError(err).Fatal("Invalid --before instant")
			}
		}
		sweep(context.Background(), before)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := cron.New()
	if _, err := c.AddFunc(cfg.Sweep.Schedule, func() {
		sweep(ctx, time.Now().UTC())
	}); err != nil {
		log.WithError(err).Fatal("Failed to schedule sweep")
	}
	c.Start()
	log.WithField("schedule", cfg.Sweep.Schedule).Info("Warden sweeper started")

	g, ctx := errgroup.WithContext(ctx)

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		router := mux.NewRouter()
		router.Handle("/metrics", metrics.Handler())
		router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		srv := &http.Server{Addr: addr, Handler: router}
		g.Go(func() error {
			log.WithField("addr", addr).Info("Metrics server listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down gracefully...")
		stopCtx := c.Stop()
		<-stopCtx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Sweeper exited with error")
	}
	log.Info("Sweeper stopped")
}
