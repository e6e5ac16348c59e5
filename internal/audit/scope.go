package audit

import (
	"strings"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

// Sentinel master-data values that mark rows which are not countable stock.
const (
	ExchangeManufacturerPrefix = "[교환]"
	ClaimManufacturer          = "보험청구"
	ClaimBrand                 = "보험청구"
)

func IsEligible(entry domain.InventoryEntry) bool {
	manufacturer := strings.TrimSpace(entry.Manufacturer)
	if strings.HasPrefix(manufacturer, ExchangeManufacturerPrefix) {
		return false
	}
	if manufacturer == ClaimManufacturer {
		return false
	}
	if strings.TrimSpace(entry.Brand) == ClaimBrand {
		return false
	}
	return true
}

// Eligible returns the entries of the snapshot that can be audited, in input order.
func Eligible(entries []domain.InventoryEntry) []domain.InventoryEntry {
	eligible := make([]domain.InventoryEntry, 0, len(entries))
	for _, e := range entries {
		if IsEligible(e) {
			eligible = append(eligible, e)
		}
	}
	return eligible
}
