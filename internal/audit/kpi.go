package audit

import (
	"math"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

type KPI struct {
	Group              string `json:"group"`
	TotalItems         int    `json:"total_items"`
	TotalAudited       int    `json:"total_audited"`
	TotalMatched       int    `json:"total_matched"`
	TotalMismatched    int    `json:"total_mismatched"`
	TotalMismatchedQty int    `json:"total_mismatched_qty"`
	ProgressPct        int    `json:"progress_pct"`
	BelowThreshold     int    `json:"below_threshold"`
}

// ComputeKPI aggregates the decision map over every entry of group, or over all
// entries when group is AllGroups.
func ComputeKPI(entries []domain.InventoryEntry, decisions map[uint]Decision, group string) KPI {
	kpi := KPI{Group: group}

	for _, e := range entries {
		if group != AllGroups && e.Brand != group {
			continue
		}
		kpi.TotalItems++

		quantity := e.CurrentStock
		d, ok := decisions[e.ID]
		if ok && d.Confirmed {
			kpi.TotalAudited++
			switch d.Verdict {
			case VerdictMatched:
				kpi.TotalMatched++
			case VerdictMismatched:
				kpi.TotalMismatched++
				kpi.TotalMismatchedQty += abs(d.Difference())
				quantity = d.ActualCount
			}
		}

		if e.MinStock > 0 && quantity < e.MinStock {
			kpi.BelowThreshold++
		}
	}

	if kpi.TotalItems > 0 {
		kpi.ProgressPct = int(math.Round(100 * float64(kpi.TotalAudited) / float64(kpi.TotalItems)))
	}

	return kpi
}

func (c *Controller) KPI(group string) KPI {
	return ComputeKPI(c.entries, c.Decisions(), group)
}

// GroupKPI is KPI for a group that must exist in the session.
func (c *Controller) GroupKPI(group string) (KPI, error) {
	if group != AllGroups && !c.hasGroup(group) {
		return KPI{}, ErrUnknownGroup
	}
	return c.KPI(group), nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
