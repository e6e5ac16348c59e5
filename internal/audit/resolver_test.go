package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMismatch_DefaultsToSystemStock(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(3, "X", "S", 8))
	require.NoError(t, c.MarkMismatched(3))

	d, ok := c.Decision(3)
	require.True(t, ok)
	assert.Equal(t, 8, d.SystemStock)
	assert.Equal(t, 8, d.ActualCount)
	assert.False(t, d.Confirmed)
}

func TestActualCount_FlooredAtZero(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(3, "X", "S", 8))
	require.NoError(t, c.MarkMismatched(3))

	n, err := c.SetActualCount(3, -3)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = c.StepActualCount(3, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.StepActualCount(3, -5)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestActualCount_RequiresMismatch(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(3, "X", "S", 8))
	_, err := c.SetActualCount(3, 4)
	assert.ErrorIs(t, err, ErrNotMismatched)

	require.NoError(t, c.MarkMatched(3))
	_, err = c.StepActualCount(3, 1)
	assert.ErrorIs(t, err, ErrNotMismatched)
}

func TestCommitReason_RequiresReason(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(3, "X", "S", 8))
	require.NoError(t, c.MarkMismatched(3))

	_, err := c.CommitReason(3)
	assert.ErrorIs(t, err, ErrReasonRequired)

	require.NoError(t, c.SelectReason(3, ReasonOther))
	require.NoError(t, c.SetReasonText(3, "   "))
	_, err = c.CommitReason(3)
	assert.ErrorIs(t, err, ErrReasonRequired)

	assert.Equal(t, 0, c.ConfirmedCount())
	assert.ErrorIs(t, c.SelectReason(3, ReasonCode("lost-ish")), ErrUnknownReason)
}

func TestCommitReason_FreeText(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(3, "X", "S", 8))
	require.NoError(t, c.MarkMismatched(3))
	require.NoError(t, c.SelectReason(3, ReasonOther))
	require.NoError(t, c.SetReasonText(3, " 유통 중 파손 "))

	reason, err := c.CommitReason(3)
	require.NoError(t, err)
	assert.Equal(t, "유통 중 파손", reason)

	d, _ := c.Decision(3)
	assert.True(t, d.Confirmed)
	assert.False(t, d.Reason.Editing)
	assert.Equal(t, 1, c.ConfirmedCount())
}

func TestSelectReason_EnumClearsText(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(3, "X", "S", 8))
	require.NoError(t, c.MarkMismatched(3))
	require.NoError(t, c.SetReasonText(3, "draft"))
	require.NoError(t, c.SelectReason(3, ReasonDamaged))

	d, _ := c.Decision(3)
	assert.Equal(t, ReasonDamaged, d.Reason.Code)
	assert.Empty(t, d.Reason.Text)
	assert.False(t, d.Reason.Editing)
}

func TestEditReason_OnConfirmedMismatch(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(3, "X", "S", 8))
	require.NoError(t, c.MarkMismatched(3))
	assert.ErrorIs(t, c.EditReason(3), ErrInvalidTransition)

	confirmMismatch(t, c, 3, 6, ReasonLost)
	require.NoError(t, c.EditReason(3))

	d, _ := c.Decision(3)
	assert.True(t, d.Confirmed)
	assert.True(t, d.Reason.Editing)
	assert.Equal(t, "분실", d.Reason.Text)
	assert.Equal(t, VerdictMismatched, d.Verdict)

	require.NoError(t, c.SetReasonText(3, "재고 이동"))
	reason, err := c.CommitReason(3)
	require.NoError(t, err)
	assert.Equal(t, "재고 이동", reason)
	assert.Equal(t, 2, c.UndoDepth())

	_, err = c.Undo()
	require.NoError(t, err)
	d, ok := c.Decision(3)
	require.True(t, ok)
	assert.True(t, d.Confirmed)
	assert.Equal(t, "분실", d.Reason.Committed)
	assert.Equal(t, 6, d.ActualCount)

	_, err = c.Undo()
	require.NoError(t, err)
	_, ok = c.Decision(3)
	assert.False(t, ok)
}

func TestCountChange_KeepsConfirmation(t *testing.T) {
	c := startedController(t, newFakeClock(), entry(3, "X", "S", 8))
	confirmMismatch(t, c, 3, 6, ReasonLost)

	_, err := c.StepActualCount(3, -1)
	require.NoError(t, err)

	d, _ := c.Decision(3)
	assert.True(t, d.Confirmed)
	assert.Equal(t, 5, d.ActualCount)
	assert.Equal(t, -3, d.Difference())
	assert.Equal(t, 1, c.UndoDepth())
}
