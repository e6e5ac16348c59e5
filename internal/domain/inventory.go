package domain

type InventoryEntry struct {
	ID              uint   `json:"id"`
	HospitalScopeID string `json:"hospital_scope_id"`
	Manufacturer    string `json:"manufacturer"`
	Brand           string `json:"brand"`
	Size            string `json:"size"`
	CurrentStock    int    `json:"current_stock"`
	MinStock        int    `json:"min_stock"`
}

// LedgerState is the ledger-visible quantity of an entry right after a reconciliation.
type LedgerState struct {
	EntryID      uint `json:"entry_id"`
	CurrentStock int  `json:"current_stock"`
	MinStock     int  `json:"min_stock"`
}

func (s LedgerState) Shortage() bool {
	return s.MinStock > 0 && s.CurrentStock < s.MinStock
}
