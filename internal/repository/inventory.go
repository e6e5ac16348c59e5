package repository

import (
	"context"
	"fmt"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/repository/dao"
)

var ErrEntryNotFound = dao.ErrEntryNotFound

type InventoryDAO interface {
	FindByScope(ctx context.Context, scopeID string) ([]dao.InventoryEntry, error)
}

type InventoryRepository struct {
	dao InventoryDAO
}

func NewInventoryRepository(dao InventoryDAO) *InventoryRepository {
	return &InventoryRepository{
		dao: dao,
	}
}

func (r *InventoryRepository) FindByScope(ctx context.Context, scopeID string) ([]domain.InventoryEntry, error) {
	rows, err := r.dao.FindByScope(ctx, scopeID)
	if err != nil {
		return nil, fmt.Errorf("r.dao.FindByScope -> %w", err)
	}

	entries := make([]domain.InventoryEntry, len(rows))
	for i, row := range rows {
		entries[i] = r.daoToDomain(row)
	}

	return entries, nil
}

func (r *InventoryRepository) daoToDomain(e dao.InventoryEntry) domain.InventoryEntry {
	return domain.InventoryEntry{
		ID:              e.ID,
		HospitalScopeID: e.HospitalScopeID,
		Manufacturer:    e.Manufacturer,
		Brand:           e.Brand,
		Size:            e.Size,
		CurrentStock:    e.CurrentStock(),
		MinStock:        e.MinStock,
	}
}
