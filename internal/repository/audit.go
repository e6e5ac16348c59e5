package repository

import (
	"context"
	"fmt"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/repository/dao"
)

var (
	ErrAlreadyApplied = dao.ErrAlreadyApplied
	ErrLedgerConflict = dao.ErrLedgerConflict
)

type LedgerMode = dao.LedgerMode

const (
	LedgerAtomic     = dao.LedgerAtomic
	LedgerOptimistic = dao.LedgerOptimistic
)

type AuditDAO interface {
	ApplyReconciliation(ctx context.Context, rec dao.Reconciliation) (dao.AppliedReconciliation, error)
	FindByScope(ctx context.Context, scopeID string) ([]dao.AuditRecordRow, error)
	FindBySession(ctx context.Context, scopeID, sessionID string) ([]dao.AuditRecordRow, error)
}

type AuditRepository struct {
	dao     AuditDAO
	mode    LedgerMode
	retries int
}

func NewAuditRepository(dao AuditDAO, mode LedgerMode, retries int) *AuditRepository {
	if mode == "" {
		mode = LedgerAtomic
	}

	return &AuditRepository{
		dao:     dao,
		mode:    mode,
		retries: retries,
	}
}

func (r *AuditRepository) Apply(ctx context.Context, plan domain.ReconciliationPlan) (domain.ReconciliationOutcome, error) {
	rec := dao.Reconciliation{
		SessionID: plan.SessionID,
		ScopeID:   plan.ScopeID,
		Records:   make([]dao.AuditRecord, len(plan.Records)),
		Deltas:    make([]dao.Delta, len(plan.Deltas)),
		Mode:      r.mode,
		Retries:   r.retries,
	}
	for i, record := range plan.Records {
		rec.Records[i] = r.domainToDAORecord(record)
	}
	for i, delta := range plan.Deltas {
		rec.Deltas[i] = dao.Delta{EntryID: delta.EntryID, Delta: delta.Delta, SystemStock: delta.SystemStock}
	}

	applied, err := r.dao.ApplyReconciliation(ctx, rec)
	if err != nil {
		return domain.ReconciliationOutcome{}, fmt.Errorf("r.dao.ApplyReconciliation -> %w", err)
	}

	outcome := domain.ReconciliationOutcome{
		SessionID: plan.SessionID,
		Records:   make([]domain.AuditRecord, len(applied.Records)),
		Ledger:    make([]domain.LedgerState, len(applied.Ledger)),
	}
	for i, record := range applied.Records {
		outcome.Records[i] = r.daoToDomainRecord(record)
	}
	for i, e := range applied.Ledger {
		outcome.Ledger[i] = domain.LedgerState{EntryID: e.ID, CurrentStock: e.CurrentStock(), MinStock: e.MinStock}
	}
	for _, s := range applied.Stale {
		outcome.Stale = append(outcome.Stale, domain.StaleRead{EntryID: s.EntryID, SystemStock: s.SystemStock, LiveStock: s.LiveStock})
	}

	return outcome, nil
}

func (r *AuditRepository) FindByScope(ctx context.Context, scopeID string) ([]domain.AuditRecord, error) {
	rows, err := r.dao.FindByScope(ctx, scopeID)
	if err != nil {
		return nil, fmt.Errorf("r.dao.FindByScope -> %w", err)
	}

	return r.rowsToDomain(rows), nil
}

func (r *AuditRepository) FindBySession(ctx context.Context, scopeID, sessionID string) ([]domain.AuditRecord, error) {
	rows, err := r.dao.FindBySession(ctx, scopeID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("r.dao.FindBySession -> %w", err)
	}

	return r.rowsToDomain(rows), nil
}

func (r *AuditRepository) rowsToDomain(rows []dao.AuditRecordRow) []domain.AuditRecord {
	records := make([]domain.AuditRecord, len(rows))
	for i, row := range rows {
		records[i] = r.daoToDomainRecord(row.AuditRecord)
		records[i].Manufacturer = row.Manufacturer
		records[i].Brand = row.Brand
		records[i].Size = row.Size
	}
	return records
}

func (r *AuditRepository) domainToDAORecord(a domain.AuditRecord) dao.AuditRecord {
	var sessionID *string
	if a.SessionID != "" {
		id := a.SessionID
		sessionID = &id
	}

	return dao.AuditRecord{
		ID:               a.ID,
		HospitalScopeID:  a.HospitalScopeID,
		InventoryEntryID: a.InventoryEntryID,
		SessionID:        sessionID,
		AuditDate:        a.AuditDate,
		SystemStock:      a.SystemStock,
		ActualStock:      a.ActualStock,
		Difference:       a.Difference,
		Reason:           a.Reason,
		PerformedBy:      a.PerformedBy,
		CreatedAt:        a.CreatedAt,
	}
}

func (r *AuditRepository) daoToDomainRecord(a dao.AuditRecord) domain.AuditRecord {
	record := domain.AuditRecord{
		ID:               a.ID,
		HospitalScopeID:  a.HospitalScopeID,
		InventoryEntryID: a.InventoryEntryID,
		AuditDate:        a.AuditDate.UTC(),
		SystemStock:      a.SystemStock,
		ActualStock:      a.ActualStock,
		Difference:       a.Difference,
		Reason:           a.Reason,
		PerformedBy:      a.PerformedBy,
		CreatedAt:        a.CreatedAt.UTC(),
	}
	if a.SessionID != nil {
		record.SessionID = *a.SessionID
	}
	return record
}
