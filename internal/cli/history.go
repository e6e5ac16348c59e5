package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

type HistoryOptions struct {
	*RootOptions
	ScopeID string
	Expand  bool
	JSON    bool
}

func newHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past audit sessions of a hospital scope",
		Long: `List the audit sessions reconstructed from audit_records, newest first.

Examples:
  auditctl history --scope ward-3
  auditctl history --scope ward-3 --expand
  auditctl history --scope ward-3 --json`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.ScopeID, "scope", "", "hospital scope id (required)")
	_ = cmd.MarkFlagRequired("scope")
	cmd.Flags().BoolVar(&opts.Expand, "expand", false, "list the mismatches of each session")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print JSON instead of text")

	return cmd
}

func runHistory(ctx context.Context, opts *HistoryOptions, w io.Writer) error {
	svc, err := opts.auditService()
	if err != nil {
		return err
	}

	sessions, err := svc.History(ctx, opts.ScopeID, opts.Expand)
	if err != nil {
		return fmt.Errorf("svc.History -> %w", err)
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	fmt.Fprintln(w, "KEY\tDATE\tPERFORMED_BY\tMISMATCHES\tTOTAL_DIFFERENCE")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", s.Key, s.Date.Format("2006-01-02"), s.PerformedBy, s.MismatchCount, s.TotalDifference)
		if opts.Expand {
			writeMismatches(w, s.Mismatches)
		}
	}
	return nil
}

func writeMismatches(w io.Writer, records []domain.AuditRecord) {
	for _, r := range records {
		reason := "-"
		if r.Reason != nil {
			reason = *r.Reason
		}
		fmt.Fprintf(w, "\t%d\t%s/%s/%s\t%d -> %d\t%s\n",
			r.InventoryEntryID, r.Manufacturer, r.Brand, r.Size, r.SystemStock, r.ActualStock, reason)
	}
}
