package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrEntryNotFound  = errors.New("inventory entry not found")
	ErrLedgerConflict = errors.New("ledger row changed concurrently")
)

// InventoryEntry is the stock ledger row. Only Adjustment and Version are
// written by this service; the rest is master data loaded by the importer.
type InventoryEntry struct {
	ID uint `gorm:"primaryKey"`

	HospitalScopeID string `gorm:"not null;index"`
	Manufacturer    string `gorm:"not null"`
	Brand           string `gorm:"not null;index"`
	Size            string `gorm:"not null"`

	BaselineStock int `gorm:"not null;default:0"`
	Adjustment    int `gorm:"not null;default:0"`
	Version       int `gorm:"not null;default:0"`
	MinStock      int `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (e InventoryEntry) CurrentStock() int {
	return e.BaselineStock + e.Adjustment
}

type InventoryDAO struct {
	db *gorm.DB
}

func NewInventoryDAO(db *gorm.DB) *InventoryDAO {
	return &InventoryDAO{
		db: db,
	}
}

func (d *InventoryDAO) Insert(ctx context.Context, entries []InventoryEntry) ([]InventoryEntry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	result := d.db.WithContext(ctx).Create(&entries)
	if result.Error != nil {
		return nil, result.Error
	}

	return entries, nil
}

func (d *InventoryDAO) FindByScope(ctx context.Context, scopeID string) ([]InventoryEntry, error) {
	var entries []InventoryEntry

	result := d.db.WithContext(ctx).
		Where("hospital_scope_id = ?", scopeID).
		Order("id").
		Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}

	return entries, nil
}

func (d *InventoryDAO) FindByID(ctx context.Context, scopeID string, id uint) (InventoryEntry, error) {
	var entry InventoryEntry

	result := d.db.WithContext(ctx).
		Where("id = ? AND hospital_scope_id = ?", id, scopeID).
		First(&entry)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return InventoryEntry{}, ErrEntryNotFound
		}

		return InventoryEntry{}, result.Error
	}

	return entry, nil
}

func findEntries(tx *gorm.DB, scopeID string, ids []uint) (map[uint]InventoryEntry, error) {
	var entries []InventoryEntry
	if err := tx.Where("hospital_scope_id = ? AND id IN ?", scopeID, ids).Find(&entries).Error; err != nil {
		return nil, err
	}

	byID := make(map[uint]InventoryEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	return byID, nil
}

// incrementAdjustment adds delta to the row inside tx with a single UPDATE, so
// concurrent applies against the same row both land.
func incrementAdjustment(tx *gorm.DB, scopeID string, id uint, delta int) error {
	result := tx.Model(&InventoryEntry{}).
		Where("id = ? AND hospital_scope_id = ?", id, scopeID).
		Updates(map[string]interface{}{
			"adjustment": gorm.Expr("adjustment + ?", delta),
			"version":    gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// compareAndSetAdjustment is the fallback for stores without an atomic
// increment: read the version, write guarded by it, re-read on a lost race.
func compareAndSetAdjustment(tx *gorm.DB, scopeID string, id uint, delta, retries int) error {
	for attempt := 0; attempt <= retries; attempt++ {
		var current InventoryEntry
		err := tx.Select("id", "adjustment", "version").
			Where("id = ? AND hospital_scope_id = ?", id, scopeID).
			First(&current).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEntryNotFound
			}
			return err
		}

		result := tx.Model(&InventoryEntry{}).
			Where("id = ? AND hospital_scope_id = ? AND version = ?", id, scopeID, current.Version).
			Updates(map[string]interface{}{
				"adjustment": current.Adjustment + delta,
				"version":    current.Version + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			return nil
		}
	}

	return ErrLedgerConflict
}
