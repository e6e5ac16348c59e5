package audit

import (
	"time"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

// Snapshot is the serializable form of a Controller. Applying is kept so that
// other holders of the draft see an apply in flight.
type Snapshot struct {
	SessionID   string                  `json:"session_id"`
	ScopeID     string                  `json:"scope_id"`
	Operator    string                  `json:"operator"`
	State       State                   `json:"state"`
	StartedAt   time.Time               `json:"started_at"`
	Entries     []domain.InventoryEntry `json:"entries"`
	Decisions   []Decision              `json:"decisions"`
	Undo        []UndoFrame             `json:"undo"`
	ActiveGroup string                  `json:"active_group"`
	AdvanceAt   time.Time               `json:"advance_at"`
	Applying    bool                    `json:"applying,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	decisions := make([]Decision, 0, len(c.decisions))
	for _, e := range c.entries {
		if d, ok := c.decisions[e.ID]; ok {
			decisions = append(decisions, *d)
		}
	}

	undo := make([]UndoFrame, len(c.undo))
	for i, f := range c.undo {
		undo[i] = UndoFrame{EntryID: f.EntryID}
		if f.Prior != nil {
			prior := *f.Prior
			undo[i].Prior = &prior
		}
	}

	return Snapshot{
		SessionID:   c.sessionID,
		ScopeID:     c.scopeID,
		Operator:    c.operator,
		State:       c.state,
		StartedAt:   c.startedAt,
		Entries:     c.Entries(),
		Decisions:   decisions,
		Undo:        undo,
		ActiveGroup: c.active,
		AdvanceAt:   c.advanceAt,
		Applying:    c.applying,
	}
}

func Restore(s Snapshot, cfg Config) (*Controller, error) {
	c := NewController(cfg)
	switch s.State {
	case StateNotStarted:
		return c, nil
	case StateApplied:
		c.sessionID = s.SessionID
		c.state = StateApplied
		return c, nil
	}

	c.load(s.Entries)
	if len(c.entries) == 0 {
		return nil, ErrNothingToAudit
	}

	for _, d := range s.Decisions {
		if _, ok := c.index[d.EntryID]; !ok {
			return nil, ErrEntryNotInSession
		}
		d := d
		c.decisions[d.EntryID] = &d
	}
	for _, f := range s.Undo {
		if _, ok := c.index[f.EntryID]; !ok {
			return nil, ErrEntryNotInSession
		}
		c.undo = append(c.undo, f)
	}

	if s.ActiveGroup != AllGroups && !c.hasGroup(s.ActiveGroup) {
		return nil, ErrUnknownGroup
	}

	c.sessionID = s.SessionID
	c.scopeID = s.ScopeID
	c.operator = s.Operator
	c.state = s.State
	c.startedAt = s.StartedAt
	c.active = s.ActiveGroup
	c.advanceAt = s.AdvanceAt
	c.applying = s.Applying && s.State == StateReviewPending

	return c, nil
}
