package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fleetcheck/fleetcheck/internal/platform/auditlog"
)

func auditCmd(load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the run audit trail",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify [run-id]",
		Short: "Recompute the integrity hash of every audit event for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				if app.Audit == nil {
					return errors.New("no audit trail configured")
				}
				return verifyRunAudit(ctx, cmd.OutOrStdout(), app.Audit, args[0])
			})
		},
	})
	return cmd
}

func verifyRunAudit(ctx context.Context, out io.Writer, trail AuditTrail, runID string) error {
	events, err := trail.ListRunEvents(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to list audit events: %w", err)
	}
	if len(events) == 0 {
		_, err := fmt.Fprintf(out, "No audit events for run %s\n", runID)
		return err
	}

	bad := 0
	for _, ev := range events {
		actor := ev.Actor
		if actor == "" {
			actor = "system"
		}
		glyph := color.New(color.FgGreen).Sprint("✓")
		line := fmt.Sprintf("%d %s %-15s %s", ev.EventID, ev.OccurredAt.UTC().Format(time.RFC3339), ev.Action, actor)
		if err := auditlog.Verify(ev); err != nil {
			bad++
			glyph = color.New(color.FgRed).Sprint("✗")
			line += " " + err.Error()
		}
		fmt.Fprintln(out, glyph, line)
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d audit events failed verification", bad, len(events))
	}
	return nil
}
