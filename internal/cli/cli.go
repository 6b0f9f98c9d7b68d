// Package cli implements checklistctl, the operator tool for reminder
// configs, schema setup, one-off scheduler ticks and audit verification.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/platform/auditlog"
	"github.com/fleetcheck/fleetcheck/internal/repo"
	"github.com/fleetcheck/fleetcheck/internal/service/scheduler"
)

type ReminderStore interface {
	UpsertReminder(ctx context.Context, cfg domain.ReminderConfig) (domain.ReminderConfig, error)
	ListReminders(ctx context.Context, filter repo.ReminderFilter) ([]domain.ReminderConfig, error)
}

type AuditTrail interface {
	ListRunEvents(ctx context.Context, runID string) ([]auditlog.Stored, error)
}

type SchemaMigrator interface {
	Up(ctx context.Context) (uint, error)
}

type Ticker interface {
	Tick(ctx context.Context, now time.Time) (scheduler.TickReport, error)
}

// App is what the commands operate on. It is built on first use so that
// help and schema printing work without a database.
type App struct {
	Reminders ReminderStore
	Scheduler Ticker
	Audit     AuditTrail
	Schema    SchemaMigrator
	Now       func() time.Time
}

// Loader builds the App and returns a function that releases it.
type Loader func(ctx context.Context) (*App, func(), error)

func NewRootCmd(load Loader) *cobra.Command {
	root := &cobra.Command{
		Use:           "checklistctl",
		Short:         "Operate fleet checklist reminders and runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(schemaCmd(load))
	root.AddCommand(remindersCmd(load))
	root.AddCommand(tickCmd(load))
	root.AddCommand(auditCmd(load))
	return root
}

func withApp(cmd *cobra.Command, load Loader, fn func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, release, err := load(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if release != nil {
		defer release()
	}
	if app.Now == nil {
		app.Now = time.Now
	}
	return fn(ctx, app)
}
