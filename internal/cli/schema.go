package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fleetcheck/fleetcheck/internal/platform/postgres"
)

func schemaCmd(load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect or migrate the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the up migrations in version order",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := postgres.Schema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), schema)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				if app.Schema == nil {
					return errors.New("no database configured")
				}
				version, err := app.Schema.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", color.New(color.FgGreen).Sprint("✓"), version)
				return nil
			})
		},
	})
	return cmd
}
