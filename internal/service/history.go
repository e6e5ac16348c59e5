package service

import (
	"context"
	"fmt"
	"io"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/audit"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/export"
)

// History reconstructs the audit sessions of a scope, newest first. Without
// expand only session-level aggregates are returned.
func (s *AuditService) History(ctx context.Context, scopeID string, expand bool) ([]domain.AuditSession, error) {
	records, err := s.audits.FindByScope(ctx, scopeID)
	if err != nil {
		return nil, fmt.Errorf("s.audits.FindByScope -> %w", err)
	}

	sessions := audit.Reconstruct(records)
	if !expand {
		return audit.Collapse(sessions), nil
	}
	return sessions, nil
}

func (s *AuditService) ExportHistory(ctx context.Context, scopeID string, w io.Writer) error {
	sessions, err := s.History(ctx, scopeID, true)
	if err != nil {
		return err
	}

	if err := export.WriteHistory(w, sessions); err != nil {
		return fmt.Errorf("export.WriteHistory -> %w", err)
	}
	return nil
}
