package audittrail

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

// NewEvent summarizes an applied reconciliation for the audit trail.
func NewEvent(plan domain.ReconciliationPlan, outcome domain.ReconciliationOutcome, appliedAt time.Time) domain.ReconciliationEvent {
	count := plan.MismatchCount()

	return domain.ReconciliationEvent{
		SessionID:       plan.SessionID,
		HospitalScopeID: plan.ScopeID,
		PerformedBy:     plan.PerformedBy,
		MismatchCount:   count,
		Summary:         fmt.Sprintf("%d mismatches applied", count),
		Ledger:          outcome.Ledger,
		AppliedAt:       appliedAt.UTC(),
	}
}

// LogNotifier writes the event to the global zap logger.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event domain.ReconciliationEvent) {
	shortages := 0
	for _, s := range event.Ledger {
		if s.Shortage() {
			shortages++
		}
	}

	zap.L().Info(event.Summary,
		zap.String("session_id", event.SessionID),
		zap.String("hospital_scope_id", event.HospitalScopeID),
		zap.String("performed_by", event.PerformedBy),
		zap.Int("mismatch_count", event.MismatchCount),
		zap.Int("shortages", shortages),
	)
}

type Notifier interface {
	Notify(ctx context.Context, event domain.ReconciliationEvent)
}

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event domain.ReconciliationEvent) {
	for _, n := range m {
		n.Notify(ctx, event)
	}
}
