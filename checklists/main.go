package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetcheck/fleetcheck/internal/auditexport"
	"github.com/fleetcheck/fleetcheck/internal/platform/env"
	"github.com/fleetcheck/fleetcheck/internal/platform/httpserver"
	"github.com/fleetcheck/fleetcheck/internal/platform/objectstore"
	"github.com/fleetcheck/fleetcheck/internal/platform/postgres"
	repopg "github.com/fleetcheck/fleetcheck/internal/repo/postgres"
	"github.com/fleetcheck/fleetcheck/internal/service/runs"
	"github.com/fleetcheck/fleetcheck/internal/service/scheduler"
	storageobjectstore "github.com/fleetcheck/fleetcheck/internal/storage/objectstore"
)

const serviceName = "checklists"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpCfg, err := httpserver.ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid http config", "error", err)
		os.Exit(2)
	}
	uploadMaxMiB, err := env.Int("FLEETCHECK_EVIDENCE_UPLOAD_MAX_MIB", 25)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	applySchema, err := env.Bool("FLEETCHECK_DATABASE_APPLY_SCHEMA", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	if applySchema {
		migrator, err := postgres.NewMigrator(dbCfg, logger)
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, err = migrator.Up(migrateCtx)
		cancel()
		if err != nil {
			logger.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
	}

	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	exportCfg, err := auditexport.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid audit export config", "error", err)
		os.Exit(2)
	}
	exporter, err := auditexport.New(exportCfg, os.Stdout)
	if err != nil {
		logger.Error("audit exporter init failed", "error", err)
		os.Exit(2)
	}

	evidenceObjects, err := storageobjectstore.NewMinioBlobs(storeClient)
	if err != nil {
		logger.Error("evidence object store init failed", "error", err)
		os.Exit(2)
	}
	gateway, err := storageobjectstore.NewGateway(evidenceObjects, storeCfg.BucketEvidence, storeCfg.UploadTimeout)
	if err != nil {
		logger.Error("evidence gateway init failed", "error", err)
		os.Exit(2)
	}

	runsCfg, err := runs.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid runs config", "error", err)
		os.Exit(2)
	}
	runsCfg.SignedURLTTL = storeCfg.SignedURLTTL

	catalog := repopg.NewCatalogStore(db)
	reminderStore := repopg.NewReminderStore(db)
	svc, err := runs.New(runsCfg, runs.Deps{
		Runs:      repopg.NewRunStore(db),
		Responses: repopg.NewResponseStore(db),
		Evidence:  repopg.NewEvidenceStore(db),
		Templates: catalog,
		Units:     catalog,
		Audit:     repopg.NewAuditAppender(db, exporter),
		Gateway:   gateway,
		Logger:    logger.With("component", "runs"),
	})
	if err != nil {
		logger.Error("runs service init failed", "error", err)
		os.Exit(2)
	}

	schedCfg, err := scheduler.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid scheduler config", "error", err)
		os.Exit(2)
	}
	sched, err := scheduler.New(schedCfg, svc, reminderStore, logger.With("component", "scheduler"))
	if err != nil {
		logger.Error("scheduler init failed", "error", err)
		os.Exit(2)
	}
	go sched.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			serviceName,
			httpserver.ReadinessCheck{
				Name:  "postgres",
				Check: db.PingContext,
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					return objectstore.CheckBucket(ctx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newChecklistsAPI(logger, svc, reminderStore, sched, int64(uploadMaxMiB)<<20)
	api.register(mux)

	if err := httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, serviceName, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
