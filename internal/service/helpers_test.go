package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/repository"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/store"
)

var kim = Operator{ID: "u-1", Name: "Kim", ScopeID: "scope-1"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeInventory struct {
	entries []domain.InventoryEntry
}

func (f *fakeInventory) FindByScope(_ context.Context, scopeID string) ([]domain.InventoryEntry, error) {
	var out []domain.InventoryEntry
	for _, e := range f.entries {
		if e.HospitalScopeID == scopeID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeAudits struct {
	mu       sync.Mutex
	records  []domain.AuditRecord
	applyErr error
	// block makes Apply wait for its context; commit decides whether the
	// records land anyway, as with a commit whose acknowledgement was lost.
	block  bool
	commit bool
	calls  int

	// entered is closed once Apply has been called.
	entered chan struct{}
}

func (f *fakeAudits) Apply(ctx context.Context, plan domain.ReconciliationPlan) (domain.ReconciliationOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.entered != nil {
		close(f.entered)
		f.entered = nil
	}

	if f.block {
		<-ctx.Done()
		if f.commit {
			f.store(plan)
		}
		return domain.ReconciliationOutcome{}, fmt.Errorf("r.dao.ApplyReconciliation -> %w", ctx.Err())
	}
	if f.applyErr != nil {
		return domain.ReconciliationOutcome{}, f.applyErr
	}
	for _, r := range f.records {
		if r.SessionID == plan.SessionID {
			return domain.ReconciliationOutcome{}, fmt.Errorf("r.dao.ApplyReconciliation -> %w", repository.ErrAlreadyApplied)
		}
	}

	return domain.ReconciliationOutcome{SessionID: plan.SessionID, Records: f.store(plan)}, nil
}

func (f *fakeAudits) store(plan domain.ReconciliationPlan) []domain.AuditRecord {
	var stored []domain.AuditRecord
	for _, r := range plan.Records {
		r.ID = uint(len(f.records) + 1)
		f.records = append(f.records, r)
		stored = append(stored, r)
	}
	return stored
}

func (f *fakeAudits) FindByScope(_ context.Context, scopeID string) ([]domain.AuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.AuditRecord
	for _, r := range f.records {
		if r.HospitalScopeID == scopeID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAudits) FindBySession(_ context.Context, scopeID, sessionID string) ([]domain.AuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.AuditRecord
	for _, r := range f.records {
		if r.HospitalScopeID == scopeID && r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.ReconciliationEvent
}

func (f *fakeNotifier) Notify(_ context.Context, event domain.ReconciliationEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type fixture struct {
	svc      *AuditService
	clock    *fakeClock
	audits   *fakeAudits
	drafts   *store.MemorySessionStore
	locker   *store.MemoryLocker
	notifier *fakeNotifier
	deps     Deps
	opts     Options
}

func newFixture(t *testing.T, entries ...domain.InventoryEntry) *fixture {
	t.Helper()

	f := &fixture{
		clock:    &fakeClock{now: time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC)},
		audits:   &fakeAudits{},
		drafts:   store.NewMemorySessionStore(),
		locker:   store.NewMemoryLocker(),
		notifier: &fakeNotifier{},
	}
	ids := 0
	f.deps = Deps{
		Inventory: &fakeInventory{entries: entries},
		Audits:    f.audits,
		Drafts:    f.drafts,
		Locker:    f.locker,
		Notifier:  f.notifier,
	}
	f.opts = Options{
		AdvanceDelay: 600 * time.Millisecond,
		ApplyTimeout: time.Second,
		Location:     time.FixedZone("KST", 9*3600),
		Clock:        f.clock.Now,
		NewID: func() string {
			ids++
			return fmt.Sprintf("session-%d", ids)
		},
	}
	f.svc = NewAuditService(f.deps, f.opts)
	return f
}

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

func mustView(t *testing.T) func(SessionView, error) SessionView {
	return func(v SessionView, err error) SessionView {
		t.Helper()
		require.NoError(t, err)
		return v
	}
}
