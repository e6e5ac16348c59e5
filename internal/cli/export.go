package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type ExportOptions struct {
	*RootOptions
	ScopeID string
	Out     string
}

func newExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the audit history of a hospital scope to xlsx",
		Long: `Write every reconstructed session and its records to an xlsx workbook.

Examples:
  auditctl export --scope ward-3 --out ward-3.xlsx`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runExport(cmd.Context(), opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.Out)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.ScopeID, "scope", "", "hospital scope id (required)")
	_ = cmd.MarkFlagRequired("scope")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output file (required)")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runExport(ctx context.Context, opts *ExportOptions) (err error) {
	svc, err := opts.auditService()
	if err != nil {
		return err
	}

	f, err := os.Create(opts.Out)
	if err != nil {
		return fmt.Errorf("os.Create -> %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("f.Close -> %w", cerr)
		}
	}()

	if err = svc.ExportHistory(ctx, opts.ScopeID, f); err != nil {
		return fmt.Errorf("svc.ExportHistory -> %w", err)
	}
	return nil
}
