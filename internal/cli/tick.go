package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fleetcheck/fleetcheck/internal/service/scheduler"
)

func tickCmd(load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Evaluate every enabled reminder once",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, _ := cmd.Flags().GetString("at")
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				if app.Scheduler == nil {
					return errors.New("no scheduler configured")
				}
				now := app.Now()
				if strings.TrimSpace(at) != "" {
					parsed, err := time.Parse(time.RFC3339, at)
					if err != nil {
						return fmt.Errorf("--at must be RFC3339: %w", err)
					}
					now = parsed
				}
				report, err := app.Scheduler.Tick(ctx, now)
				if err != nil {
					return err
				}
				printTickReport(cmd.OutOrStdout(), report)
				if n := report.Count(scheduler.OutcomeFailed); n > 0 {
					return fmt.Errorf("%d reminder(s) failed", n)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("at", "", "evaluate as of this instant (RFC3339) instead of now")
	return cmd
}

func outcomeGlyph(o scheduler.Outcome) string {
	switch o {
	case scheduler.OutcomeCreated:
		return color.New(color.FgGreen).Sprint("✓")
	case scheduler.OutcomeExisting, scheduler.OutcomeAlreadyEvaluated:
		return color.New(color.FgBlue).Sprint("=")
	case scheduler.OutcomeNotDue:
		return color.New(color.FgHiBlack).Sprint("·")
	case scheduler.OutcomeInvalidZone:
		return color.New(color.FgYellow).Sprint("!")
	default:
		return color.New(color.FgRed).Sprint("✗")
	}
}

func printTickReport(out io.Writer, report scheduler.TickReport) {
	fmt.Fprintf(out, "Tick at %s: %d reminder(s)\n", report.At.Format(time.RFC3339), len(report.Results))
	for _, res := range report.Results {
		line := fmt.Sprintf("%s %-18s %s/%s", outcomeGlyph(res.Outcome), res.Outcome, res.UnitID, res.TemplateID)
		if res.DayKey != "" {
			line += " " + res.DayKey
		}
		if res.RunID != "" {
			line += " run=" + res.RunID
		}
		if res.Err != nil {
			line += " error=" + res.Err.Error()
		}
		fmt.Fprintln(out, line)
	}
}
