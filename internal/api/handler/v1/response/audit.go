package response

import (
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

type HistoryResponse struct {
	Sessions []domain.AuditSession `json:"sessions"`
}

type ApplyResponse struct {
	domain.ReconciliationOutcome
	MismatchCount int `json:"mismatch_count"`
}
