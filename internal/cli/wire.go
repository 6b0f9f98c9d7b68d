package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/fleetcheck/fleetcheck/internal/auditexport"
	"github.com/fleetcheck/fleetcheck/internal/platform/objectstore"
	"github.com/fleetcheck/fleetcheck/internal/platform/postgres"
	repopg "github.com/fleetcheck/fleetcheck/internal/repo/postgres"
	"github.com/fleetcheck/fleetcheck/internal/service/runs"
	"github.com/fleetcheck/fleetcheck/internal/service/scheduler"
	storageobjectstore "github.com/fleetcheck/fleetcheck/internal/storage/objectstore"
)

// EnvLoader connects to the stores named by the FLEETCHECK_* environment.
// Logs go to stderr so command output stays clean. The object store client
// is built but never contacted; ticks only create runs.
func EnvLoader(stderr io.Writer) Loader {
	return func(ctx context.Context) (*App, func(), error) {
		if stderr == nil {
			stderr = os.Stderr
		}
		logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return nil, nil, err
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			return nil, nil, err
		}
		release := func() { _ = db.Close() }

		migrator, err := postgres.NewMigrator(dbCfg, logger)
		if err != nil {
			release()
			return nil, nil, err
		}

		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			release()
			return nil, nil, err
		}
		client, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			release()
			return nil, nil, err
		}
		objects, err := storageobjectstore.NewMinioBlobs(client)
		if err != nil {
			release()
			return nil, nil, err
		}
		gateway, err := storageobjectstore.NewGateway(objects, storeCfg.BucketEvidence, storeCfg.UploadTimeout)
		if err != nil {
			release()
			return nil, nil, err
		}

		exportCfg, err := auditexport.ConfigFromEnv()
		if err != nil {
			release()
			return nil, nil, err
		}
		exporter, err := auditexport.New(exportCfg, os.Stdout)
		if err != nil {
			release()
			return nil, nil, err
		}

		runsCfg, err := runs.ConfigFromEnv()
		if err != nil {
			release()
			return nil, nil, err
		}
		runsCfg.SignedURLTTL = storeCfg.SignedURLTTL
		catalog := repopg.NewCatalogStore(db)
		svc, err := runs.New(runsCfg, runs.Deps{
			Runs:      repopg.NewRunStore(db),
			Responses: repopg.NewResponseStore(db),
			Evidence:  repopg.NewEvidenceStore(db),
			Templates: catalog,
			Units:     catalog,
			Audit:     repopg.NewAuditAppender(db, exporter),
			Gateway:   gateway,
			Logger:    logger,
		})
		if err != nil {
			release()
			return nil, nil, err
		}

		reminders := repopg.NewReminderStore(db)
		schedCfg, err := scheduler.ConfigFromEnv()
		if err != nil {
			release()
			return nil, nil, err
		}
		sched, err := scheduler.New(schedCfg, svc, reminders, logger)
		if err != nil {
			release()
			return nil, nil, err
		}

		return &App{
			Reminders: reminders,
			Scheduler: sched,
			Audit:     repopg.NewAuditTrail(db),
			Schema:    migrator,
		}, release, nil
	}
}
