package audit

import "strings"

// SetActualCount records the counted quantity of a mismatched entry, floored at 0.
// Changing the count of a confirmed entry keeps it confirmed.
func (c *Controller) SetActualCount(entryID uint, count int) (int, error) {
	c.settle()
	d, err := c.mismatch(entryID)
	if err != nil {
		return 0, err
	}
	if count < 0 {
		count = 0
	}
	d.ActualCount = count
	return d.ActualCount, nil
}

func (c *Controller) StepActualCount(entryID uint, step int) (int, error) {
	d, err := c.mismatch(entryID)
	if err != nil {
		return 0, err
	}
	return c.SetActualCount(entryID, d.ActualCount+step)
}

// SelectReason picks a reason code without confirming the entry. Selecting
// ReasonOther switches the draft to free-text editing.
func (c *Controller) SelectReason(entryID uint, code ReasonCode) error {
	c.settle()
	d, err := c.mismatch(entryID)
	if err != nil {
		return err
	}
	if !code.Valid() {
		return ErrUnknownReason
	}

	d.Reason.Code = code
	d.Reason.Editing = code == ReasonOther
	if code != ReasonOther {
		d.Reason.Text = ""
	}
	return nil
}

func (c *Controller) SetReasonText(entryID uint, text string) error {
	c.settle()
	d, err := c.mismatch(entryID)
	if err != nil {
		return err
	}
	if d.Reason.Code != ReasonOther {
		d.Reason.Code = ReasonOther
	}
	d.Reason.Editing = true
	d.Reason.Text = text
	return nil
}

// CommitReason confirms a mismatched entry with its drafted reason. Re-committing
// a confirmed entry pushes an undo frame that restores the previous reason.
func (c *Controller) CommitReason(entryID uint) (string, error) {
	c.settle()
	d, err := c.mismatch(entryID)
	if err != nil {
		return "", err
	}

	reason := string(d.Reason.Code)
	if d.Reason.Code == ReasonOther {
		reason = strings.TrimSpace(d.Reason.Text)
	}
	if reason == "" {
		return "", ErrReasonRequired
	}

	var prior *Decision
	if d.Confirmed {
		snapshot := *d
		snapshot.Reason.Editing = false
		prior = &snapshot
	}

	d.Reason.Committed = reason
	d.Reason.Editing = false
	d.Confirmed = true
	c.undo = append(c.undo, UndoFrame{EntryID: entryID, Prior: prior})
	c.afterChange()

	return reason, nil
}

// EditReason re-opens free-text editing on a confirmed mismatch without
// touching the match/mismatch choice. The entry stays confirmed.
func (c *Controller) EditReason(entryID uint) error {
	c.settle()
	d, err := c.mismatch(entryID)
	if err != nil {
		return err
	}
	if !d.Confirmed {
		return ErrInvalidTransition
	}

	d.Reason.Code = ReasonOther
	d.Reason.Text = d.Reason.Committed
	d.Reason.Editing = true
	return nil
}
