package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fleetcheck/fleetcheck/internal/clock"
	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/repo"
)

// reminderFile is the YAML layout accepted by "reminders import":
//
//	org_id: org-1
//	reminders:
//	  - unit_id: truck-7
//	    template_id: pre-trip
//	    time_zone: America/Los_Angeles
//	    trigger: "08:00"
type reminderFile struct {
	OrgID     string          `yaml:"org_id"`
	CreatedBy string          `yaml:"created_by"`
	Reminders []reminderEntry `yaml:"reminders"`
}

type reminderEntry struct {
	OrgID      string `yaml:"org_id"`
	UnitID     string `yaml:"unit_id"`
	TemplateID string `yaml:"template_id"`
	TimeZone   string `yaml:"time_zone"`
	Trigger    string `yaml:"trigger"`
	Enabled    *bool  `yaml:"enabled"`
}

// parseReminderFile decodes and validates every entry. All problems are
// reported together.
func parseReminderFile(r io.Reader) ([]domain.ReminderConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file reminderFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("reminder file is empty")
		}
		return nil, fmt.Errorf("decode reminder file: %w", err)
	}

	var errs []error
	out := make([]domain.ReminderConfig, 0, len(file.Reminders))
	for i, entry := range file.Reminders {
		orgID := strings.TrimSpace(entry.OrgID)
		if orgID == "" {
			orgID = strings.TrimSpace(file.OrgID)
		}
		if _, err := clock.LoadLocation(entry.TimeZone); err != nil {
			errs = append(errs, fmt.Errorf("reminder %d: %w", i+1, err))
			continue
		}
		trigger, err := clock.ParseTrigger(entry.Trigger)
		if err != nil {
			errs = append(errs, fmt.Errorf("reminder %d: %w", i+1, err))
			continue
		}
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		cfg := domain.ReminderConfig{
			OrgID:         orgID,
			UnitID:        strings.TrimSpace(entry.UnitID),
			TemplateID:    strings.TrimSpace(entry.TemplateID),
			TimeZone:      strings.TrimSpace(entry.TimeZone),
			TriggerHour:   trigger.Hour,
			TriggerMinute: trigger.Minute,
			Enabled:       enabled,
			CreatedBy:     strings.TrimSpace(file.CreatedBy),
		}
		if err := cfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("reminder %d: %w", i+1, err))
			continue
		}
		if cfg.OrgID == "" {
			errs = append(errs, fmt.Errorf("reminder %d: %w: org id is required", i+1, domain.ErrInvalidInput))
			continue
		}
		out = append(out, cfg)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func remindersCmd(load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Manage recurring checklist reminders",
	}

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Create or update reminders from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			configs, err := parseReminderFile(f)
			if err != nil {
				return err
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			if dryRun {
				for _, cfg := range configs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s %s %s\n",
						color.New(color.FgYellow).Sprint("~"), cfg.UnitID, cfg.TemplateID, cfg.TimeZone, triggerOf(cfg))
				}
				return nil
			}
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				return importReminders(ctx, cmd.OutOrStdout(), app.Reminders, configs)
			})
		},
	}
	importCmd.Flags().Bool("dry-run", false, "validate the file without writing")
	cmd.AddCommand(importCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, _ := cmd.Flags().GetString("org")
			unitID, _ := cmd.Flags().GetString("unit")
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				configs, err := app.Reminders.ListReminders(ctx, repo.ReminderFilter{OrgID: orgID, UnitID: unitID})
				if err != nil {
					return fmt.Errorf("failed to list reminders: %w", err)
				}
				return printReminders(cmd.OutOrStdout(), configs)
			})
		},
	}
	listCmd.Flags().String("org", "", "filter by org id")
	listCmd.Flags().String("unit", "", "filter by unit id")
	cmd.AddCommand(listCmd)

	return cmd
}

func importReminders(ctx context.Context, out io.Writer, store ReminderStore, configs []domain.ReminderConfig) error {
	failed := 0
	for _, cfg := range configs {
		stored, err := store.UpsertReminder(ctx, cfg)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s %s/%s: %v\n", color.New(color.FgRed).Sprint("✗"), cfg.UnitID, cfg.TemplateID, err)
			continue
		}
		fmt.Fprintf(out, "%s %s %s/%s at %s %s\n",
			color.New(color.FgGreen).Sprint("✓"), stored.ID, stored.UnitID, stored.TemplateID, triggerOf(stored), stored.TimeZone)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d reminders failed", failed, len(configs))
	}
	return nil
}

func printReminders(out io.Writer, configs []domain.ReminderConfig) error {
	if len(configs) == 0 {
		_, err := fmt.Fprintln(out, "No reminders found")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUNIT\tTEMPLATE\tZONE\tTRIGGER\tENABLED\tLAST DAY")
	for _, cfg := range configs {
		last := cfg.LastEvaluatedDay
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			cfg.ID, cfg.UnitID, cfg.TemplateID, cfg.TimeZone, triggerOf(cfg), cfg.Enabled, last)
	}
	return tw.Flush()
}

func triggerOf(cfg domain.ReminderConfig) string {
	return clock.Trigger{Hour: cfg.TriggerHour, Minute: cfg.TriggerMinute}.String()
}
