package audit

import (
	"time"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

// Submission is the frozen output of a completed session handed to the applier.
type Submission struct {
	SessionID   string
	ScopeID     string
	PerformedBy string
	Entries     []domain.InventoryEntry
	Decisions   []Decision
}

// BuildPlan turns a submission into the minimal set of records and ledger deltas:
// one record per entry whose count differs, or a single zero-difference sentinel
// when nothing differs.
func BuildPlan(sub Submission, now time.Time, loc *time.Location) (domain.ReconciliationPlan, error) {
	if len(sub.Entries) == 0 {
		return domain.ReconciliationPlan{}, ErrNothingToAudit
	}
	if len(sub.Decisions) < len(sub.Entries) {
		return domain.ReconciliationPlan{}, ErrIncompleteAudit
	}
	if loc == nil {
		loc = time.UTC
	}

	createdAt := now.UTC()
	local := now.In(loc)
	auditDate := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	plan := domain.ReconciliationPlan{
		SessionID:   sub.SessionID,
		ScopeID:     sub.ScopeID,
		PerformedBy: sub.PerformedBy,
	}

	byEntry := make(map[uint]Decision, len(sub.Decisions))
	for _, d := range sub.Decisions {
		if !d.Confirmed {
			return domain.ReconciliationPlan{}, ErrIncompleteAudit
		}
		byEntry[d.EntryID] = d
	}

	for _, e := range sub.Entries {
		d, ok := byEntry[e.ID]
		if !ok {
			return domain.ReconciliationPlan{}, ErrIncompleteAudit
		}
		if d.Verdict != VerdictMismatched || d.Difference() == 0 {
			continue
		}
		if d.Reason.Committed == "" {
			return domain.ReconciliationPlan{}, ErrReasonRequired
		}

		reason := d.Reason.Committed
		plan.Records = append(plan.Records, domain.AuditRecord{
			HospitalScopeID:  sub.ScopeID,
			InventoryEntryID: e.ID,
			SessionID:        sub.SessionID,
			AuditDate:        auditDate,
			SystemStock:      d.SystemStock,
			ActualStock:      d.ActualCount,
			Difference:       d.Difference(),
			Reason:           &reason,
			PerformedBy:      sub.PerformedBy,
			CreatedAt:        createdAt,
		})
		plan.Deltas = append(plan.Deltas, domain.LedgerDelta{
			EntryID:     e.ID,
			Delta:       d.Difference(),
			SystemStock: d.SystemStock,
		})
	}

	if len(plan.Records) == 0 {
		first := sub.Entries[0]
		stock := byEntry[first.ID].SystemStock
		plan.Records = []domain.AuditRecord{{
			HospitalScopeID:  sub.ScopeID,
			InventoryEntryID: first.ID,
			SessionID:        sub.SessionID,
			AuditDate:        auditDate,
			SystemStock:      stock,
			ActualStock:      stock,
			Difference:       0,
			PerformedBy:      sub.PerformedBy,
			CreatedAt:        createdAt,
		}}
	}

	return plan, nil
}
