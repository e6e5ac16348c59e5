package domain

import "time"

type AuditRecord struct {
	ID               uint      `json:"id"`
	HospitalScopeID  string    `json:"hospital_scope_id"`
	InventoryEntryID uint      `json:"inventory_entry_id"`
	SessionID        string    `json:"session_id,omitempty"`
	AuditDate        time.Time `json:"audit_date"`
	SystemStock      int       `json:"system_stock"`
	ActualStock      int       `json:"actual_stock"`
	Difference       int       `json:"difference"`
	Reason           *string   `json:"reason"`
	PerformedBy      string    `json:"performed_by"`
	CreatedAt        time.Time `json:"created_at"`

	// Populated on read from the inventory master.
	Manufacturer string `json:"manufacturer,omitempty"`
	Brand        string `json:"brand,omitempty"`
	Size         string `json:"size,omitempty"`
}

type LedgerDelta struct {
	EntryID     uint `json:"entry_id"`
	Delta       int  `json:"delta"`
	SystemStock int  `json:"system_stock"`
}

type ReconciliationPlan struct {
	SessionID   string
	ScopeID     string
	PerformedBy string
	Records     []AuditRecord
	Deltas      []LedgerDelta
}

func (p ReconciliationPlan) MismatchCount() int {
	return len(p.Deltas)
}

type StaleRead struct {
	EntryID     uint `json:"entry_id"`
	SystemStock int  `json:"system_stock"`
	LiveStock   int  `json:"live_stock"`
}

type ReconciliationOutcome struct {
	SessionID string        `json:"session_id"`
	Records   []AuditRecord `json:"records"`
	Ledger    []LedgerState `json:"ledger"`
	Stale     []StaleRead   `json:"-"`
	Replayed  bool          `json:"replayed"`
}

// ReconciliationEvent is the fire-and-forget summary handed to the audit trail
// and to dashboards waiting for a refresh.
type ReconciliationEvent struct {
	SessionID       string        `json:"session_id"`
	HospitalScopeID string        `json:"hospital_scope_id"`
	PerformedBy     string        `json:"performed_by"`
	MismatchCount   int           `json:"mismatch_count"`
	Summary         string        `json:"summary"`
	Ledger          []LedgerState `json:"ledger"`
	AppliedAt       time.Time     `json:"applied_at"`
}

type AuditSession struct {
	Key             string        `json:"key"`
	SessionID       string        `json:"session_id,omitempty"`
	Date            time.Time     `json:"date"`
	PerformedBy     string        `json:"performed_by"`
	CreatedAt       time.Time     `json:"created_at"`
	Records         []AuditRecord `json:"records,omitempty"`
	AllMatched      bool          `json:"all_matched"`
	Mismatches      []AuditRecord `json:"mismatches,omitempty"`
	MismatchCount   int           `json:"mismatch_count"`
	TotalDifference int           `json:"total_difference"`
}
