package dao

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrAlreadyApplied = errors.New("audit session already applied")

type LedgerMode string

const (
	LedgerAtomic     LedgerMode = "atomic"
	LedgerOptimistic LedgerMode = "optimistic"
)

const insertBatchSize = 100

// AuditRecord is append-only. SessionID is NULL on rows that predate session
// tracking.
type AuditRecord struct {
	ID uint `gorm:"primaryKey"`

	HospitalScopeID  string  `gorm:"not null;index"`
	InventoryEntryID uint    `gorm:"not null;uniqueIndex:idx_audit_records_session_entry,priority:2"`
	SessionID        *string `gorm:"type:varchar(36);uniqueIndex:idx_audit_records_session_entry,priority:1"`

	AuditDate   time.Time `gorm:"type:date;not null"`
	SystemStock int       `gorm:"not null"`
	ActualStock int       `gorm:"not null"`
	Difference  int       `gorm:"not null"`
	Reason      *string
	PerformedBy string `gorm:"not null"`

	CreatedAt time.Time `gorm:"not null;index"`
}

// AuditRecordRow is an AuditRecord joined with the entry it counted.
type AuditRecordRow struct {
	AuditRecord  `gorm:"embedded"`
	Manufacturer string
	Brand        string
	Size         string
}

type Delta struct {
	EntryID     uint
	Delta       int
	SystemStock int
}

type Reconciliation struct {
	SessionID string
	ScopeID   string
	Records   []AuditRecord
	Deltas    []Delta
	Mode      LedgerMode
	Retries   int
}

type StaleRead struct {
	EntryID     uint
	SystemStock int
	LiveStock   int
}

type AppliedReconciliation struct {
	Records []AuditRecord
	Ledger  []InventoryEntry
	Stale   []StaleRead
}

type AuditDAO struct {
	db *gorm.DB
}

func NewAuditDAO(db *gorm.DB) *AuditDAO {
	return &AuditDAO{
		db: db,
	}
}

// ApplyReconciliation writes the audit records and folds every delta into the
// ledger in one transaction. Any failure rolls back both.
func (d *AuditDAO) ApplyReconciliation(ctx context.Context, rec Reconciliation) (AppliedReconciliation, error) {
	var applied AppliedReconciliation

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&AuditRecord{}).Where("session_id = ?", rec.SessionID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyApplied
		}

		ids := make([]uint, len(rec.Deltas))
		for i, delta := range rec.Deltas {
			ids[i] = delta.EntryID
		}

		if len(ids) > 0 {
			live, err := findEntries(tx, rec.ScopeID, ids)
			if err != nil {
				return err
			}
			for _, delta := range rec.Deltas {
				e, ok := live[delta.EntryID]
				if !ok {
					return ErrEntryNotFound
				}
				if e.CurrentStock() != delta.SystemStock {
					applied.Stale = append(applied.Stale, StaleRead{
						EntryID:     delta.EntryID,
						SystemStock: delta.SystemStock,
						LiveStock:   e.CurrentStock(),
					})
				}
			}
		}

		records := rec.Records
		if err := tx.CreateInBatches(&records, insertBatchSize).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyApplied
			}
			return err
		}
		applied.Records = records

		for _, delta := range rec.Deltas {
			var err error
			switch rec.Mode {
			case LedgerOptimistic:
				err = compareAndSetAdjustment(tx, rec.ScopeID, delta.EntryID, delta.Delta, rec.Retries)
			default:
				err = incrementAdjustment(tx, rec.ScopeID, delta.EntryID, delta.Delta)
			}
			if err != nil {
				return err
			}
		}

		if len(ids) > 0 {
			updated, err := findEntries(tx, rec.ScopeID, ids)
			if err != nil {
				return err
			}
			for _, id := range ids {
				applied.Ledger = append(applied.Ledger, updated[id])
			}
		}

		return nil
	})
	if err != nil {
		return AppliedReconciliation{}, err
	}

	for _, s := range applied.Stale {
		zap.L().Warn("ledger moved since count",
			zap.String("session_id", rec.SessionID),
			zap.Uint("entry_id", s.EntryID),
			zap.Int("system_stock", s.SystemStock),
			zap.Int("live_stock", s.LiveStock),
		)
	}

	return applied, nil
}

func (d *AuditDAO) FindByScope(ctx context.Context, scopeID string) ([]AuditRecordRow, error) {
	return d.findRows(ctx, "r.hospital_scope_id = ?", scopeID)
}

func (d *AuditDAO) FindBySession(ctx context.Context, scopeID, sessionID string) ([]AuditRecordRow, error) {
	return d.findRows(ctx, "r.hospital_scope_id = ? AND r.session_id = ?", scopeID, sessionID)
}

func (d *AuditDAO) findRows(ctx context.Context, query string, args ...interface{}) ([]AuditRecordRow, error) {
	var rows []AuditRecordRow

	result := d.db.WithContext(ctx).
		Table("audit_records AS r").
		Select("r.*, COALESCE(e.manufacturer, '') AS manufacturer, COALESCE(e.brand, '') AS brand, COALESCE(e.size, '') AS size").
		Joins("LEFT JOIN inventory_entries e ON e.id = r.inventory_entry_id").
		Where(query, args...).
		Order("r.created_at DESC, r.id").
		Scan(&rows)
	if result.Error != nil {
		return nil, result.Error
	}

	return rows, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
