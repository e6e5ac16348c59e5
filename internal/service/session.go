package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/audit"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/store"
)

var (
	ErrInvalidTransition = audit.ErrInvalidTransition
	ErrEntryNotInSession = audit.ErrEntryNotInSession
	ErrNotMismatched     = audit.ErrNotMismatched
	ErrReasonRequired    = audit.ErrReasonRequired
	ErrUnknownReason     = audit.ErrUnknownReason
	ErrIncompleteAudit   = audit.ErrIncompleteAudit
	ErrNothingToUndo     = audit.ErrNothingToUndo
	ErrUnknownGroup      = audit.ErrUnknownGroup
	ErrNothingToAudit    = audit.ErrNothingToAudit
	ErrApplyInProgress   = audit.ErrApplyInProgress

	ErrSessionInProgress = errors.New("an audit session is already in progress")
	ErrNoSession         = errors.New("no audit session in progress")
	ErrSessionBusy       = errors.New("audit session is busy; retry")
)

// Operator identifies whose session an operation targets. Name is what lands
// in performed_by.
type Operator struct {
	ID      string
	Name    string
	ScopeID string
}

func (o Operator) key() string {
	return o.ScopeID + ":" + o.ID
}

type InventoryRepository interface {
	FindByScope(ctx context.Context, scopeID string) ([]domain.InventoryEntry, error)
}

type SessionStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

type GroupProgress struct {
	Group     string `json:"group"`
	Confirmed int    `json:"confirmed"`
	Total     int    `json:"total"`
}

type EntryView struct {
	domain.InventoryEntry
	Decision *audit.Decision `json:"decision,omitempty"`
}

type SessionView struct {
	SessionID   string          `json:"session_id"`
	State       audit.State     `json:"state"`
	StartedAt   time.Time       `json:"started_at"`
	ActiveGroup string          `json:"active_group"`
	Groups      []GroupProgress `json:"groups"`
	Entries     []EntryView     `json:"entries"`
	UndoDepth   int             `json:"undo_depth"`
	KPI         audit.KPI       `json:"kpi"`
	Applying    bool            `json:"applying"`
}

type Deps struct {
	Inventory InventoryRepository
	Audits    AuditRepository
	Drafts    SessionStore
	Locker    Locker
	Notifier  Notifier
}

type Options struct {
	AdvanceDelay  time.Duration
	ApplyTimeout  time.Duration
	ApplyLockTTL  time.Duration
	DraftLockTTL  time.Duration
	DraftLockWait time.Duration
	Location      *time.Location
	Clock         func() time.Time
	NewID         func() string
}

// AuditService keeps one audit draft per operator and serializes every
// operation on it through the shared Locker, so replicas sharing a
// SessionStore never interleave a load and a save.
type AuditService struct {
	inventory InventoryRepository
	audits    AuditRepository
	drafts    SessionStore
	locker    Locker
	notifier  Notifier

	delay        atomic.Int64
	applyTimeout time.Duration
	lockTTL      time.Duration
	draftTTL     time.Duration
	draftWait    time.Duration
	loc          *time.Location
	clock        func() time.Time
	newID        func() string
	locks        *keyedMutex
}

func NewAuditService(deps Deps, opts Options) *AuditService {
	s := &AuditService{
		inventory:    deps.Inventory,
		audits:       deps.Audits,
		drafts:       deps.Drafts,
		locker:       deps.Locker,
		notifier:     deps.Notifier,
		applyTimeout: opts.ApplyTimeout,
		lockTTL:      opts.ApplyLockTTL,
		draftTTL:     opts.DraftLockTTL,
		draftWait:    opts.DraftLockWait,
		loc:          opts.Location,
		clock:        opts.Clock,
		newID:        opts.NewID,
		locks:        newKeyedMutex(),
	}
	if s.applyTimeout <= 0 {
		s.applyTimeout = 15 * time.Second
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 30 * time.Second
	}
	if s.draftTTL <= 0 {
		s.draftTTL = 10 * time.Second
	}
	if s.draftWait <= 0 {
		s.draftWait = 5 * time.Second
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	s.SetAdvanceDelay(opts.AdvanceDelay)

	return s
}

// SetAdvanceDelay changes the auto-advance debounce for sessions loaded from now on.
func (s *AuditService) SetAdvanceDelay(d time.Duration) {
	s.delay.Store(int64(d))
}

func (s *AuditService) controllerConfig() audit.Config {
	return audit.Config{
		AdvanceDelay: time.Duration(s.delay.Load()),
		Clock:        s.clock,
	}
}

func (s *AuditService) Start(ctx context.Context, op Operator) (SessionView, error) {
	unlock, err := s.lockDraft(ctx, op)
	if err != nil {
		return SessionView{}, err
	}
	defer unlock()

	_, err = s.load(ctx, op)
	if err == nil {
		return SessionView{}, ErrSessionInProgress
	}
	if !errors.Is(err, ErrNoSession) {
		return SessionView{}, err
	}

	entries, err := s.inventory.FindByScope(ctx, op.ScopeID)
	if err != nil {
		return SessionView{}, fmt.Errorf("s.inventory.FindByScope -> %w", err)
	}

	c := audit.NewController(s.controllerConfig())
	if err := c.Start(s.newID(), op.ScopeID, op.Name, entries); err != nil {
		return SessionView{}, err
	}

	if err := s.save(ctx, op, c); err != nil {
		return SessionView{}, err
	}

	zap.L().Info("audit session started",
		zap.String("session_id", c.SessionID()),
		zap.String("hospital_scope_id", op.ScopeID),
		zap.String("operator", op.Name),
		zap.Int("entries", c.TotalCount()),
	)

	return view(c), nil
}

func (s *AuditService) State(ctx context.Context, op Operator) (SessionView, error) {
	return s.update(ctx, op, func(*audit.Controller) error { return nil })
}

func (s *AuditService) KPI(ctx context.Context, op Operator, group string) (audit.KPI, error) {
	var kpi audit.KPI
	_, err := s.update(ctx, op, func(c *audit.Controller) error {
		var err error
		kpi, err = c.GroupKPI(group)
		return err
	})
	return kpi, err
}

func (s *AuditService) SelectGroup(ctx context.Context, op Operator, group string) (SessionView, error) {
	return s.update(ctx, op, func(c *audit.Controller) error { return c.SelectGroup(group) })
}

func (s *AuditService) MarkMatched(ctx context.Context, op Operator, entryID uint) (SessionView, error) {
	return s.update(ctx, op, func(c *audit.Controller) error { return c.MarkMatched(entryID) })
}

func (s *AuditService) MarkMismatched(ctx context.Context, op Operator, entryID uint) (SessionView, error) {
	return s.update(ctx, op, func(c *audit.Controller) error { return c.MarkMismatched(entryID) })
}

// SetCount sets the counted quantity when count is given, otherwise moves it by step.
func (s *AuditService) SetCount(ctx context.Context, op Operator, entryID uint, count *int, step int) (SessionView, error) {
	return s.update(ctx, op, func(c *audit.Controller) error {
		if count != nil {
			_, err := c.SetActualCount(entryID, *count)
			return err
		}
		_, err := c.StepActualCount(entryID, step)
		return err
	})
}

type ReasonInput struct {
	Code   audit.ReasonCode
	Text   *string
	Commit bool
}

func (s *AuditService) SetReason(ctx context.Context, op Operator, entryID uint, in ReasonInput) (SessionView, error) {
	return s.update(ctx, op, func(c *audit.Controller) error {
		if in.Code != "" {
			if err := c.SelectReason(entryID, in.Code); err != nil {
				return err
			}
		}
		if in.Text != nil {
			if err := c.SetReasonText(entryID, *in.Text); err != nil {
				return err
			}
		}
		if in.Commit {
			_, err := c.CommitReason(entryID)
			return err
		}
		return nil
	})
}

func (s *AuditService) EditReason(ctx context.Context, op Operator, entryID uint) (SessionView, error) {
	return s.update(ctx, op, func(c *audit.Controller) error { return c.EditReason(entryID) })
}

func (s *AuditService) Undo(ctx context.Context, op Operator) (SessionView, error) {
	return s.update(ctx, op, func(c *audit.Controller) error {
		_, err := c.Undo()
		return err
	})
}

func (s *AuditService) Review(ctx context.Context, op Operator) (SessionView, error) {
	return s.update(ctx, op, func(c *audit.Controller) error { return c.Review() })
}

func (s *AuditService) Reopen(ctx context.Context, op Operator) (SessionView, error) {
	return s.update(ctx, op, func(c *audit.Controller) error { return c.ReopenCounting() })
}

// Cancel drops the draft. It fails while an apply for the same operator holds
// the apply lock, on this replica or another.
func (s *AuditService) Cancel(ctx context.Context, op Operator) error {
	lock, err := s.obtainApplyLock(ctx, op)
	if err != nil {
		return err
	}
	defer s.releaseApplyLock(ctx, lock)

	unlock, err := s.lockDraft(ctx, op)
	if err != nil {
		return err
	}
	defer unlock()

	c, err := s.load(ctx, op)
	if err != nil {
		return err
	}
	// The apply lock is ours, so any applying marker is left from a dead attempt.
	c.AbortApply()
	sessionID := c.SessionID()
	if err := c.Cancel(); err != nil {
		return err
	}

	if err := s.drafts.Delete(ctx, op.key()); err != nil {
		return fmt.Errorf("s.drafts.Delete -> %w", err)
	}

	zap.L().Info("audit session cancelled", zap.String("session_id", sessionID), zap.String("operator", op.Name))

	return nil
}

func (s *AuditService) update(ctx context.Context, op Operator, fn func(c *audit.Controller) error) (SessionView, error) {
	unlock, err := s.lockDraft(ctx, op)
	if err != nil {
		return SessionView{}, err
	}
	defer unlock()

	c, err := s.load(ctx, op)
	if err != nil {
		return SessionView{}, err
	}
	if err := s.dropStaleApply(ctx, op, c); err != nil {
		return SessionView{}, err
	}

	if err := fn(c); err != nil {
		return SessionView{}, err
	}

	v := view(c)
	if err := s.save(ctx, op, c); err != nil {
		return SessionView{}, err
	}

	return v, nil
}

// lockDraft serializes work on one operator's draft. The keyed mutex queues
// callers in this process; the Locker excludes other replicas.
func (s *AuditService) lockDraft(ctx context.Context, op Operator) (unlock func(), err error) {
	release := s.locks.Lock(op.key())

	lock, err := s.locker.ObtainWait(ctx, "audit-draft-lock:"+op.key(), s.draftTTL, s.draftWait)
	if err != nil {
		release()
		if errors.Is(err, store.ErrNotObtained) {
			return nil, ErrSessionBusy
		}
		return nil, fmt.Errorf("s.locker.ObtainWait -> %w", err)
	}

	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			zap.L().Warn("failed to release draft lock", zap.String("operator", op.Name), zap.Error(err))
		}
		release()
	}, nil
}

// dropStaleApply clears an applying marker whose apply lock nobody holds,
// which is what a replica that died mid-apply leaves behind.
func (s *AuditService) dropStaleApply(ctx context.Context, op Operator, c *audit.Controller) error {
	if !c.Applying() {
		return nil
	}

	lock, err := s.locker.Obtain(ctx, applyLockKey(op), s.lockTTL)
	if err != nil {
		if errors.Is(err, store.ErrNotObtained) {
			return nil
		}
		return fmt.Errorf("s.locker.Obtain -> %w", err)
	}
	s.releaseApplyLock(ctx, lock)

	c.AbortApply()
	zap.L().Warn("dropped stale apply marker", zap.String("session_id", c.SessionID()), zap.String("operator", op.Name))

	return nil
}

func (s *AuditService) load(ctx context.Context, op Operator) (*audit.Controller, error) {
	data, err := s.drafts.Get(ctx, op.key())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("s.drafts.Get -> %w", err)
	}

	var snapshot audit.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("json.Unmarshal -> %w", err)
	}

	c, err := audit.Restore(snapshot, s.controllerConfig())
	if err != nil {
		return nil, fmt.Errorf("audit.Restore -> %w", err)
	}
	if c.State() == audit.StateNotStarted || c.State() == audit.StateApplied {
		return nil, ErrNoSession
	}

	return c, nil
}

func (s *AuditService) save(ctx context.Context, op Operator, c *audit.Controller) error {
	data, err := json.Marshal(c.Snapshot())
	if err != nil {
		return fmt.Errorf("json.Marshal -> %w", err)
	}

	if err := s.drafts.Set(ctx, op.key(), data); err != nil {
		return fmt.Errorf("s.drafts.Set -> %w", err)
	}

	return nil
}

func view(c *audit.Controller) SessionView {
	v := SessionView{
		SessionID:   c.SessionID(),
		State:       c.State(),
		StartedAt:   c.StartedAt(),
		ActiveGroup: c.ActiveGroup(),
		UndoDepth:   c.UndoDepth(),
		KPI:         c.KPI(audit.AllGroups),
		Applying:    c.Applying(),
	}

	for _, g := range c.Groups() {
		confirmed, total := c.Progress(g)
		v.Groups = append(v.Groups, GroupProgress{Group: g, Confirmed: confirmed, Total: total})
	}

	for _, e := range c.Entries() {
		ev := EntryView{InventoryEntry: e}
		if d, ok := c.Decision(e.ID); ok {
			ev.Decision = &d
		}
		v.Entries = append(v.Entries, ev)
	}

	return v
}
