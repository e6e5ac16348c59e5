package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/audit"
)

func reviewAllMatched(t *testing.T, f *fixture, ids ...uint) {
	t.Helper()
	ctx := context.Background()
	mustView(t)(f.svc.Start(ctx, kim))
	for _, id := range ids {
		mustView(t)(f.svc.MarkMatched(ctx, kim, id))
	}
	mustView(t)(f.svc.Review(ctx, kim))
}

func TestApply_AllMatchedWritesSentinel(t *testing.T) {
	f := newFixture(t, entry(2, "B", "S", 4), entry(1, "A", "S", 3))
	reviewAllMatched(t, f, 1, 2)

	outcome, err := f.svc.Apply(context.Background(), kim)
	require.NoError(t, err)

	require.Len(t, outcome.Records, 1)
	r := outcome.Records[0]
	assert.Equal(t, uint(1), r.InventoryEntryID)
	assert.Equal(t, 0, r.Difference)
	assert.Equal(t, 3, r.SystemStock)
	assert.Nil(t, r.Reason)
	assert.Equal(t, "Kim", r.PerformedBy)
	assert.Equal(t, "session-1", r.SessionID)
	// 00:30 UTC is already 09:30 on the same day in Seoul.
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), r.AuditDate)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "0 mismatches applied", f.notifier.events[0].Summary)

	_, err = f.svc.State(context.Background(), kim)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestApply_WritesOneRecordPerMismatch(t *testing.T) {
	f := newFixture(t, entry(1, "A", "S", 8), entry(2, "A", "M", 5), entry(3, "B", "S", 2))
	ctx := context.Background()
	mustView(t)(f.svc.Start(ctx, kim))
	mustView(t)(f.svc.MarkMatched(ctx, kim, 2))
	for id, count := range map[uint]int{1: 6, 3: 4} {
		mustView(t)(f.svc.MarkMismatched(ctx, kim, id))
		mustView(t)(f.svc.SetCount(ctx, kim, id, &count, 0))
		mustView(t)(f.svc.SetReason(ctx, kim, id, ReasonInput{Code: audit.ReasonLost, Commit: true}))
	}
	mustView(t)(f.svc.Review(ctx, kim))

	outcome, err := f.svc.Apply(ctx, kim)
	require.NoError(t, err)

	require.Len(t, outcome.Records, 2)
	diffs := map[uint]int{}
	for _, r := range outcome.Records {
		diffs[r.InventoryEntryID] = r.Difference
		require.NotNil(t, r.Reason)
		assert.Equal(t, "분실", *r.Reason)
	}
	assert.Equal(t, map[uint]int{1: -2, 3: 2}, diffs)
	assert.Equal(t, 2, f.notifier.events[0].MismatchCount)
	assert.Equal(t, "2 mismatches applied", f.notifier.events[0].Summary)
}

func TestApply_RequiresReview(t *testing.T) {
	f := newFixture(t, entry(1, "A", "S", 1), entry(2, "A", "M", 1))
	ctx := context.Background()
	mustView(t)(f.svc.Start(ctx, kim))
	mustView(t)(f.svc.MarkMatched(ctx, kim, 1))

	_, err := f.svc.Apply(ctx, kim)
	assert.ErrorIs(t, err, ErrIncompleteAudit)
	assert.Zero(t, f.audits.calls)

	_, err = f.svc.Apply(ctx, Operator{ID: "nobody", ScopeID: "scope-1"})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestApply_FailureKeepsSessionForRetry(t *testing.T) {
	f := newFixture(t, entry(1, "A", "S", 1))
	reviewAllMatched(t, f, 1)
	ctx := context.Background()

	f.audits.applyErr = errors.New("connection reset")
	_, err := f.svc.Apply(ctx, kim)
	assert.ErrorContains(t, err, "connection reset")
	assert.Empty(t, f.notifier.events)

	v := mustView(t)(f.svc.State(ctx, kim))
	assert.Equal(t, audit.StateReviewPending, v.State)
	assert.True(t, v.Entries[0].Decision.Confirmed)

	f.audits.applyErr = nil
	outcome, err := f.svc.Apply(ctx, kim)
	require.NoError(t, err)
	assert.False(t, outcome.Replayed)
	assert.Len(t, f.notifier.events, 1)
}

func TestApply_TimeoutThenReplay(t *testing.T) {
	f := newFixture(t, entry(1, "A", "S", 1))
	f.opts.ApplyTimeout = 20 * time.Millisecond
	f.svc = NewAuditService(f.deps, f.opts)
	reviewAllMatched(t, f, 1)
	ctx := context.Background()

	f.audits.block, f.audits.commit = true, true
	_, err := f.svc.Apply(ctx, kim)
	assert.ErrorIs(t, err, ErrOutcomeUnknown)

	v := mustView(t)(f.svc.State(ctx, kim))
	assert.Equal(t, audit.StateReviewPending, v.State)

	verified, err := f.svc.VerifyApply(ctx, "scope-1", v.SessionID)
	require.NoError(t, err)
	assert.True(t, verified.AllMatched)
	assert.Len(t, verified.Records, 1)

	f.audits.block = false
	outcome, err := f.svc.Apply(ctx, kim)
	require.NoError(t, err)
	assert.True(t, outcome.Replayed)
	assert.Len(t, outcome.Records, 1)
	assert.Empty(t, f.notifier.events)

	records, err := f.audits.FindByScope(ctx, "scope-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestApply_RejectsConcurrentAttempt(t *testing.T) {
	f := newFixture(t, entry(1, "A", "S", 1))
	reviewAllMatched(t, f, 1)
	ctx := context.Background()

	held, err := f.locker.Obtain(ctx, "audit-apply:"+kim.key(), time.Minute)
	require.NoError(t, err)

	_, err = f.svc.Apply(ctx, kim)
	assert.ErrorIs(t, err, ErrApplyInProgress)
	assert.ErrorIs(t, f.svc.Cancel(ctx, kim), ErrApplyInProgress)
	assert.Zero(t, f.audits.calls)

	require.NoError(t, held.Release(ctx))
	_, err = f.svc.Apply(ctx, kim)
	require.NoError(t, err)
}

func TestApply_SessionReadableWhileWriting(t *testing.T) {
	f := newFixture(t, entry(1, "A", "S", 1), entry(2, "B", "S", 1))
	f.opts.ApplyTimeout = 500 * time.Millisecond
	f.svc = NewAuditService(f.deps, f.opts)
	reviewAllMatched(t, f, 1, 2)
	ctx := context.Background()

	entered := make(chan struct{})
	f.audits.block, f.audits.entered = true, entered

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Apply(ctx, kim)
		done <- err
	}()
	<-entered

	began := time.Now()
	v := mustView(t)(f.svc.State(ctx, kim))
	assert.Less(t, time.Since(began), 250*time.Millisecond)
	assert.True(t, v.Applying)
	assert.Equal(t, audit.StateReviewPending, v.State)

	kpi, err := f.svc.KPI(ctx, kim, audit.AllGroups)
	require.NoError(t, err)
	assert.Equal(t, 2, kpi.TotalAudited)

	_, err = f.svc.Reopen(ctx, kim)
	assert.ErrorIs(t, err, ErrApplyInProgress)
	_, err = f.svc.SelectGroup(ctx, kim, "B")
	assert.ErrorIs(t, err, ErrApplyInProgress)
	assert.ErrorIs(t, f.svc.Cancel(ctx, kim), ErrApplyInProgress)

	assert.ErrorIs(t, <-done, ErrOutcomeUnknown)
	v = mustView(t)(f.svc.State(ctx, kim))
	assert.False(t, v.Applying)
	assert.Equal(t, audit.StateReviewPending, v.State)
}

func TestVerifyApply_UnknownSession(t *testing.T) {
	f := newFixture(t, entry(1, "A", "S", 1))

	_, err := f.svc.VerifyApply(context.Background(), "scope-1", "missing")
	assert.ErrorIs(t, err, ErrApplyNotFound)
}
