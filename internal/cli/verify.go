package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/service"
)

type VerifyOptions struct {
	*RootOptions
	ScopeID   string
	SessionID string
}

func newVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check whether an audit session was applied",
		Long: `Look up the audit records written by one session. Use it after an apply
that timed out: if the session is listed it was applied and must not be retried.

Examples:
  auditctl verify --scope ward-3 --session 3f0c9e0e-8f4e-4c55-9a59-0c1b7e0d2a11`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.ScopeID, "scope", "", "hospital scope id (required)")
	_ = cmd.MarkFlagRequired("scope")
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "session id (required)")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}

func runVerify(ctx context.Context, opts *VerifyOptions, w io.Writer) error {
	svc, err := opts.auditService()
	if err != nil {
		return err
	}

	s, err := svc.VerifyApply(ctx, opts.ScopeID, opts.SessionID)
	if err != nil {
		if errors.Is(err, service.ErrApplyNotFound) {
			return fmt.Errorf("session %s was not applied: %w", opts.SessionID, err)
		}
		return fmt.Errorf("svc.VerifyApply -> %w", err)
	}

	fmt.Fprintf(w, "session %s applied by %s at %s\n", s.SessionID, s.PerformedBy, s.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "records: %d, mismatches: %d, total difference: %d\n", len(s.Records), s.MismatchCount, s.TotalDifference)
	writeMismatches(w, s.Mismatches)
	return nil
}
