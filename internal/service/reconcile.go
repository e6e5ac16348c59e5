package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/audit"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/audittrail"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/repository"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/store"
)

var (
	ErrAlreadyApplied = repository.ErrAlreadyApplied
	ErrLedgerConflict = repository.ErrLedgerConflict
	ErrEntryNotFound  = repository.ErrEntryNotFound

	ErrOutcomeUnknown = errors.New("apply did not finish in time; verify the session before retrying")
	ErrApplyNotFound  = errors.New("no audit records for this session")
)

type AuditRepository interface {
	Apply(ctx context.Context, plan domain.ReconciliationPlan) (domain.ReconciliationOutcome, error)
	FindByScope(ctx context.Context, scopeID string) ([]domain.AuditRecord, error)
	FindBySession(ctx context.Context, scopeID, sessionID string) ([]domain.AuditRecord, error)
}

type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (store.Lock, error)
	ObtainWait(ctx context.Context, key string, ttl, wait time.Duration) (store.Lock, error)
}

type Notifier interface {
	Notify(ctx context.Context, event domain.ReconciliationEvent)
}

// Apply folds the reviewed session into the ledger. On failure the session
// stays in review with every decision intact so the operator can retry.
//
// The draft is marked applying before the write and the draft lock is not
// held during it, so other callers keep reading the session and are refused
// any change with ErrApplyInProgress.
func (s *AuditService) Apply(ctx context.Context, op Operator) (domain.ReconciliationOutcome, error) {
	lock, err := s.obtainApplyLock(ctx, op)
	if err != nil {
		return domain.ReconciliationOutcome{}, err
	}
	defer s.releaseApplyLock(ctx, lock)

	now := s.clock()
	plan, err := s.beginApply(ctx, op, now)
	if err != nil {
		return domain.ReconciliationOutcome{}, err
	}

	applyCtx, cancel := context.WithTimeout(ctx, s.applyTimeout)
	defer cancel()

	outcome, err := s.audits.Apply(applyCtx, plan)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyApplied):
		outcome, err = s.replay(ctx, plan)
		if err != nil {
			s.finishApply(ctx, op, plan.SessionID, false)
			return domain.ReconciliationOutcome{}, err
		}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(applyCtx.Err(), context.DeadlineExceeded):
		s.finishApply(ctx, op, plan.SessionID, false)
		zap.L().Error("apply outcome unknown",
			zap.String("session_id", plan.SessionID),
			zap.Duration("timeout", s.applyTimeout),
			zap.Error(err),
		)
		return domain.ReconciliationOutcome{}, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	default:
		s.finishApply(ctx, op, plan.SessionID, false)
		return domain.ReconciliationOutcome{}, fmt.Errorf("s.audits.Apply -> %w", err)
	}

	s.finishApply(ctx, op, plan.SessionID, true)

	if !outcome.Replayed && s.notifier != nil {
		s.notifier.Notify(context.WithoutCancel(ctx), audittrail.NewEvent(plan, outcome, now))
	}

	zap.L().Info("audit session applied",
		zap.String("session_id", plan.SessionID),
		zap.String("operator", op.Name),
		zap.Int("mismatches", plan.MismatchCount()),
		zap.Int("stale_reads", len(outcome.Stale)),
		zap.Bool("replayed", outcome.Replayed),
	)

	return outcome, nil
}

// beginApply stores the draft with its applying marker set and returns the
// plan to write.
func (s *AuditService) beginApply(ctx context.Context, op Operator, now time.Time) (domain.ReconciliationPlan, error) {
	unlock, err := s.lockDraft(ctx, op)
	if err != nil {
		return domain.ReconciliationPlan{}, err
	}
	defer unlock()

	c, err := s.load(ctx, op)
	if err != nil {
		return domain.ReconciliationPlan{}, err
	}
	// The apply lock is ours, so any applying marker is left from a dead attempt.
	c.AbortApply()

	sub, err := c.BeginApply()
	if err != nil {
		return domain.ReconciliationPlan{}, err
	}

	plan, err := audit.BuildPlan(sub, now, s.loc)
	if err != nil {
		return domain.ReconciliationPlan{}, err
	}

	if err := s.save(ctx, op, c); err != nil {
		return domain.ReconciliationPlan{}, err
	}

	return plan, nil
}

// finishApply clears the applying marker. An applied draft is dropped;
// otherwise the session goes back to review for a retry. A marker that cannot
// be cleared here is dropped by the next caller once the apply lock is free.
func (s *AuditService) finishApply(ctx context.Context, op Operator, sessionID string, applied bool) {
	ctx = context.WithoutCancel(ctx)
	if err := s.settleApply(ctx, op, applied); err != nil {
		zap.L().Warn("failed to settle applied draft",
			zap.String("session_id", sessionID),
			zap.Bool("applied", applied),
			zap.Error(err),
		)
	}
}

func (s *AuditService) settleApply(ctx context.Context, op Operator, applied bool) error {
	unlock, err := s.lockDraft(ctx, op)
	if err != nil {
		return err
	}
	defer unlock()

	c, err := s.load(ctx, op)
	if err != nil {
		return err
	}

	if !applied {
		c.AbortApply()
		return s.save(ctx, op, c)
	}

	c.CompleteApply()
	if err := s.drafts.Delete(ctx, op.key()); err != nil {
		return fmt.Errorf("s.drafts.Delete -> %w", err)
	}
	return nil
}

// replay rebuilds the outcome of a session whose records are already stored.
func (s *AuditService) replay(ctx context.Context, plan domain.ReconciliationPlan) (domain.ReconciliationOutcome, error) {
	records, err := s.audits.FindBySession(ctx, plan.ScopeID, plan.SessionID)
	if err != nil {
		return domain.ReconciliationOutcome{}, fmt.Errorf("s.audits.FindBySession -> %w", err)
	}

	entries, err := s.inventory.FindByScope(ctx, plan.ScopeID)
	if err != nil {
		return domain.ReconciliationOutcome{}, fmt.Errorf("s.inventory.FindByScope -> %w", err)
	}
	byID := make(map[uint]domain.InventoryEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	outcome := domain.ReconciliationOutcome{
		SessionID: plan.SessionID,
		Records:   records,
		Replayed:  true,
	}
	for _, r := range records {
		if r.Difference == 0 {
			continue
		}
		if e, ok := byID[r.InventoryEntryID]; ok {
			outcome.Ledger = append(outcome.Ledger, domain.LedgerState{EntryID: e.ID, CurrentStock: e.CurrentStock, MinStock: e.MinStock})
		}
	}

	return outcome, nil
}

// VerifyApply reports what a session persisted, for callers that saw
// ErrOutcomeUnknown.
func (s *AuditService) VerifyApply(ctx context.Context, scopeID, sessionID string) (domain.AuditSession, error) {
	records, err := s.audits.FindBySession(ctx, scopeID, sessionID)
	if err != nil {
		return domain.AuditSession{}, fmt.Errorf("s.audits.FindBySession -> %w", err)
	}
	if len(records) == 0 {
		return domain.AuditSession{}, ErrApplyNotFound
	}

	return audit.Reconstruct(records)[0], nil
}

func applyLockKey(op Operator) string {
	return "audit-apply:" + op.key()
}

func (s *AuditService) obtainApplyLock(ctx context.Context, op Operator) (store.Lock, error) {
	lock, err := s.locker.Obtain(ctx, applyLockKey(op), s.lockTTL)
	if err != nil {
		if errors.Is(err, store.ErrNotObtained) {
			return nil, ErrApplyInProgress
		}
		return nil, fmt.Errorf("s.locker.Obtain -> %w", err)
	}
	return lock, nil
}

func (s *AuditService) releaseApplyLock(ctx context.Context, lock store.Lock) {
	if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
		zap.L().Warn("failed to release apply lock", zap.Error(err))
	}
}
