package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

func TestStart_GroupsEntriesByBrand(t *testing.T) {
	clock := newFakeClock()
	c := startedController(t, clock,
		entry(1, "X", "M", 10),
		entry(2, "A", "S", 5),
		entry(3, "X", "L", 8),
	)

	assert.Equal(t, StateInProgress, c.State())
	assert.Equal(t, []string{"A", "X"}, c.Groups())
	assert.Equal(t, "A", c.ActiveGroup())
	assert.Equal(t, 3, c.TotalCount())

	ids := []uint{}
	for _, e := range c.Entries() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []uint{2, 3, 1}, ids)
}

func TestStart_Rejections(t *testing.T) {
	clock := newFakeClock()
	c := startedController(t, clock, entry(1, "X", "M", 10))
	assert.ErrorIs(t, c.Start("again", "scope-1", "Kim", []domain.InventoryEntry{entry(2, "X", "M", 1)}), ErrInvalidTransition)

	empty := NewController(Config{Clock: clock.Now})
	err := empty.Start("s", "scope-1", "Kim", []domain.InventoryEntry{
		{ID: 9, Manufacturer: ClaimManufacturer, Brand: "X"},
	})
	assert.ErrorIs(t, err, ErrNothingToAudit)
	assert.Equal(t, StateNotStarted, empty.State())
}

func TestOperationsBeforeStart(t *testing.T) {
	c := NewController(Config{})
	assert.ErrorIs(t, c.MarkMatched(1), ErrInvalidTransition)
	assert.ErrorIs(t, c.Review(), ErrInvalidTransition)
	assert.ErrorIs(t, c.Cancel(), ErrInvalidTransition)
	_, err := c.Undo()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkMatched_UnknownEntry(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(1, "X", "M", 10))
	assert.ErrorIs(t, c.MarkMatched(99), ErrEntryNotInSession)
}

func TestAutoAdvance_WaitsForDebounce(t *testing.T) {
	clock := newFakeClock()
	c := startedController(t, clock,
		entry(1, "A", "S", 1),
		entry(2, "B", "S", 2),
		entry(3, "B", "M", 3),
	)

	require.NoError(t, c.MarkMatched(1))
	assert.Equal(t, "A", c.ActiveGroup())

	clock.Advance(499 * time.Millisecond)
	assert.Equal(t, "A", c.ActiveGroup())

	clock.Advance(time.Millisecond)
	assert.Equal(t, "B", c.ActiveGroup())

	require.NoError(t, c.MarkMatched(2))
	clock.Advance(time.Second)
	assert.Equal(t, "B", c.ActiveGroup())

	require.NoError(t, c.MarkMatched(3))
	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, AllGroups, c.ActiveGroup())
}

func TestAutoAdvance_SkipsCompleteGroups(t *testing.T) {
	clock := newFakeClock()
	c := startedController(t, clock,
		entry(1, "A", "S", 1),
		entry(2, "B", "S", 2),
		entry(3, "C", "S", 3),
	)

	require.NoError(t, c.MarkMatched(2))
	require.NoError(t, c.MarkMatched(1))
	clock.Advance(time.Second)

	assert.Equal(t, "C", c.ActiveGroup())
}

func TestAutoAdvance_DroppedWhenGroupReopens(t *testing.T) {
	clock := newFakeClock()
	c := startedController(t, clock,
		entry(1, "A", "S", 1),
		entry(2, "B", "S", 2),
	)

	require.NoError(t, c.MarkMatched(1))
	_, err := c.Undo()
	require.NoError(t, err)

	clock.Advance(time.Second)
	assert.Equal(t, "A", c.ActiveGroup())

	require.NoError(t, c.MarkMatched(1))
	require.NoError(t, c.MarkMismatched(1))
	clock.Advance(time.Second)
	assert.Equal(t, "A", c.ActiveGroup())
}

func TestSelectGroup(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(1, "A", "S", 1), entry(2, "B", "S", 2))

	assert.ErrorIs(t, c.SelectGroup("nope"), ErrUnknownGroup)
	require.NoError(t, c.SelectGroup("B"))
	assert.Equal(t, "B", c.ActiveGroup())
	require.NoError(t, c.SelectGroup(AllGroups))
	assert.Equal(t, AllGroups, c.ActiveGroup())
}

func TestProgress_CountsConfirmedOnly(t *testing.T) {
	c := startedController(t, newFakeClock(),
		entry(1, "A", "S", 1),
		entry(2, "A", "M", 2),
		entry(3, "B", "S", 3),
	)

	require.NoError(t, c.MarkMatched(1))
	require.NoError(t, c.MarkMismatched(2))

	confirmed, total := c.Progress("A")
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 2, total)

	confirmed, total = c.Progress(AllGroups)
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 3, total)
}

func TestCompletionGate(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(1, "X", "S", 10), entry(2, "Y", "S", 5))

	require.NoError(t, c.MarkMatched(1))
	assert.ErrorIs(t, c.Review(), ErrIncompleteAudit)
	assert.Equal(t, StateInProgress, c.State())

	_, err := c.BeginApply()
	assert.ErrorIs(t, err, ErrIncompleteAudit)

	require.NoError(t, c.MarkMismatched(2))
	assert.ErrorIs(t, c.Review(), ErrIncompleteAudit)

	require.NoError(t, c.MarkMatched(2))
	require.NoError(t, c.Review())
	assert.Equal(t, StateReviewPending, c.State())
	assert.ErrorIs(t, c.MarkMatched(1), ErrInvalidTransition)
}

func TestApplyLifecycle(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(1, "X", "S", 10), entry(2, "X", "M", 5))
	require.NoError(t, c.MarkMatched(1))
	require.NoError(t, c.MarkMatched(2))
	require.NoError(t, c.Review())

	sub, err := c.BeginApply()
	require.NoError(t, err)
	assert.Equal(t, "session-1", sub.SessionID)
	assert.Equal(t, "Kim", sub.PerformedBy)
	assert.Len(t, sub.Decisions, 2)

	_, err = c.BeginApply()
	assert.ErrorIs(t, err, ErrApplyInProgress)
	assert.ErrorIs(t, c.Cancel(), ErrApplyInProgress)
	assert.ErrorIs(t, c.ReopenCounting(), ErrApplyInProgress)

	c.AbortApply()
	assert.Equal(t, StateReviewPending, c.State())
	assert.Equal(t, 2, c.ConfirmedCount())

	_, err = c.BeginApply()
	require.NoError(t, err)
	c.CompleteApply()
	assert.Equal(t, StateApplied, c.State())
	assert.Equal(t, "session-1", c.SessionID())
	assert.Empty(t, c.Decisions())
}

func TestReopenCounting(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(1, "X", "S", 10))
	assert.ErrorIs(t, c.ReopenCounting(), ErrInvalidTransition)

	require.NoError(t, c.MarkMatched(1))
	require.NoError(t, c.Review())
	require.NoError(t, c.ReopenCounting())
	assert.Equal(t, StateInProgress, c.State())

	require.NoError(t, c.MarkMismatched(1))
	assert.Equal(t, 0, c.ConfirmedCount())
}

func TestUndo_IsLIFO(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(1, "X", "S", 10), entry(2, "X", "M", 5))
	require.NoError(t, c.MarkMatched(1))
	require.NoError(t, c.MarkMatched(2))

	id, err := c.Undo()
	require.NoError(t, err)
	assert.Equal(t, uint(2), id)
	_, ok := c.Decision(2)
	assert.False(t, ok)
	assert.Equal(t, 1, c.ConfirmedCount())

	id, err = c.Undo()
	require.NoError(t, err)
	assert.Equal(t, uint(1), id)

	_, err = c.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestUndo_OnlyInProgress(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(1, "X", "S", 10))
	require.NoError(t, c.MarkMatched(1))
	require.NoError(t, c.Review())

	_, err := c.Undo()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestToggleVerdict_KeepsUndoStackConsistent(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(1, "X", "S", 8))

	require.NoError(t, c.MarkMatched(1))
	assert.Equal(t, 1, c.UndoDepth())

	require.NoError(t, c.MarkMismatched(1))
	assert.Equal(t, 0, c.UndoDepth())
	assert.Equal(t, 0, c.ConfirmedCount())

	confirmMismatch(t, c, 1, 6, ReasonLost)
	assert.Equal(t, 1, c.UndoDepth())

	require.NoError(t, c.MarkMatched(1))
	assert.Equal(t, 1, c.UndoDepth())
	d, ok := c.Decision(1)
	require.True(t, ok)
	assert.Equal(t, VerdictMatched, d.Verdict)
	assert.Empty(t, d.Reason.Committed)
	assert.Equal(t, 8, d.ActualCount)

	_, err := c.Undo()
	require.NoError(t, err)
	_, ok = c.Decision(1)
	assert.False(t, ok)
}

func TestMarkMatched_Idempotent(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(1, "X", "S", 8))
	require.NoError(t, c.MarkMatched(1))
	require.NoError(t, c.MarkMatched(1))
	assert.Equal(t, 1, c.UndoDepth())
}

func TestCancel_ClearsEverything(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(1, "X", "S", 8), entry(2, "Y", "S", 1))
	require.NoError(t, c.MarkMatched(1))
	require.NoError(t, c.MarkMismatched(2))

	require.NoError(t, c.Cancel())

	assert.Equal(t, StateNotStarted, c.State())
	assert.Empty(t, c.Decisions())
	assert.Equal(t, 0, c.UndoDepth())
	assert.Empty(t, c.SessionID())
	assert.Equal(t, 0, c.TotalCount())

	require.NoError(t, c.Start("session-2", "scope-1", "Lee", []domain.InventoryEntry{entry(3, "Z", "S", 4)}))
	assert.Equal(t, "session-2", c.SessionID())
}

func TestSnapshot_RestoresResumableSession(t *testing.T) {
	clock := newFakeClock()
	c := startedController(t, clock, entry(1, "A", "S", 8), entry(2, "B", "S", 3))
	confirmMismatch(t, c, 1, 6, ReasonLost)
	require.NoError(t, c.MarkMismatched(2))
	_, err := c.SetActualCount(2, 7)
	require.NoError(t, err)

	raw, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	restored, err := Restore(snap, Config{AdvanceDelay: 500 * time.Millisecond, Clock: clock.Now})
	require.NoError(t, err)

	assert.Equal(t, c.State(), restored.State())
	assert.Equal(t, c.SessionID(), restored.SessionID())
	assert.Equal(t, c.Decisions(), restored.Decisions())
	assert.Equal(t, c.UndoDepth(), restored.UndoDepth())

	clock.Advance(time.Second)
	assert.Equal(t, "B", restored.ActiveGroup())

	id, err := restored.Undo()
	require.NoError(t, err)
	assert.Equal(t, uint(1), id)
	d, ok := restored.Decision(2)
	require.True(t, ok)
	assert.Equal(t, 7, d.ActualCount)
}

func TestSnapshot_KeepsApplyingMarker(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(1, "A", "S", 8))
	require.NoError(t, c.MarkMatched(1))
	require.NoError(t, c.Review())
	_, err := c.BeginApply()
	require.NoError(t, err)

	raw, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	restored, err := Restore(snap, Config{})
	require.NoError(t, err)

	assert.True(t, restored.Applying())
	_, err = restored.BeginApply()
	assert.ErrorIs(t, err, ErrApplyInProgress)
	assert.ErrorIs(t, restored.Cancel(), ErrApplyInProgress)
	assert.ErrorIs(t, restored.SelectGroup("A"), ErrApplyInProgress)
	assert.ErrorIs(t, restored.ReopenCounting(), ErrApplyInProgress)
	assert.ErrorIs(t, restored.MarkMismatched(1), ErrApplyInProgress)
	assert.ErrorIs(t, restored.Review(), ErrApplyInProgress)
	_, err = restored.Undo()
	assert.ErrorIs(t, err, ErrApplyInProgress)

	restored.AbortApply()
	raw, err = json.Marshal(restored.Snapshot())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"applying"`)
}

func TestRestore_RejectsForeignEntries(t *testing.T) {
	snap := Snapshot{
		SessionID:   "s",
		State:       StateInProgress,
		Entries:     []domain.InventoryEntry{entry(1, "A", "S", 1)},
		Decisions:   []Decision{{EntryID: 2, Verdict: VerdictMatched, Confirmed: true}},
		ActiveGroup: "A",
	}
	_, err := Restore(snap, Config{})
	assert.ErrorIs(t, err, ErrEntryNotInSession)
}
