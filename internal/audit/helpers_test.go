package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func entry(id uint, brand, size string, stock int) domain.InventoryEntry {
	return domain.InventoryEntry{
		ID:              id,
		HospitalScopeID: "scope-1",
		Manufacturer:    "Acme",
		Brand:           brand,
		Size:            size,
		CurrentStock:    stock,
	}
}

func startedController(t *testing.T, clock *fakeClock, entries ...domain.InventoryEntry) *Controller {
	t.Helper()
	c := NewController(Config{AdvanceDelay: 500 * time.Millisecond, Clock: clock.Now})
	require.NoError(t, c.Start("session-1", "scope-1", "Kim", entries))
	return c
}

func confirmMismatch(t *testing.T, c *Controller, id uint, count int, code ReasonCode) {
	t.Helper()
	require.NoError(t, c.MarkMismatched(id))
	_, err := c.SetActualCount(id, count)
	require.NoError(t, err)
	require.NoError(t, c.SelectReason(id, code))
	_, err = c.CommitReason(id)
	require.NoError(t, err)
}
