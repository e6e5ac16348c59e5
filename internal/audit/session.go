package audit

import (
	"sort"
	"time"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

type State string

const (
	StateNotStarted    State = "not_started"
	StateInProgress    State = "in_progress"
	StateReviewPending State = "review_pending"
	StateApplied       State = "applied"
)

// AllGroups is the synthetic group that spans every entry of the session.
const AllGroups = "*"

const DefaultAdvanceDelay = 600 * time.Millisecond

type Verdict string

const (
	VerdictMatched    Verdict = "matched"
	VerdictMismatched Verdict = "mismatched"
)

type Decision struct {
	EntryID     uint        `json:"entry_id"`
	Verdict     Verdict     `json:"verdict"`
	SystemStock int         `json:"system_stock"`
	ActualCount int         `json:"actual_count"`
	Reason      ReasonDraft `json:"reason"`
	Confirmed   bool        `json:"confirmed"`
}

func (d Decision) Difference() int {
	return d.ActualCount - d.SystemStock
}

// UndoFrame remembers the decision an entry had before a confirming action.
// Prior is nil when the entry had no confirmed decision before.
type UndoFrame struct {
	EntryID uint      `json:"entry_id"`
	Prior   *Decision `json:"prior,omitempty"`
}

type Config struct {
	AdvanceDelay time.Duration
	Clock        func() time.Time
}

// Controller is the audit state machine of a single operator. It is not safe
// for concurrent use; callers serialize access per operator.
type Controller struct {
	sessionID string
	scopeID   string
	operator  string
	state     State
	startedAt time.Time

	entries []domain.InventoryEntry
	index   map[uint]int
	groups  []string

	decisions map[uint]*Decision
	undo      []UndoFrame

	active    string
	advanceAt time.Time
	applying  bool

	delay time.Duration
	now   func() time.Time
}

func NewController(cfg Config) *Controller {
	c := &Controller{
		state: StateNotStarted,
		delay: cfg.AdvanceDelay,
		now:   cfg.Clock,
	}
	if c.delay < 0 {
		c.delay = 0
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.reset()
	return c
}

func (c *Controller) reset() {
	c.sessionID = ""
	c.scopeID = ""
	c.operator = ""
	c.startedAt = time.Time{}
	c.entries = nil
	c.index = map[uint]int{}
	c.groups = nil
	c.decisions = map[uint]*Decision{}
	c.undo = nil
	c.active = AllGroups
	c.advanceAt = time.Time{}
	c.applying = false
}

// Start moves NotStarted -> InProgress over the eligible part of snapshot.
func (c *Controller) Start(sessionID, scopeID, operator string, snapshot []domain.InventoryEntry) error {
	if c.state != StateNotStarted {
		return ErrInvalidTransition
	}

	entries := Eligible(snapshot)
	if len(entries) == 0 {
		return ErrNothingToAudit
	}
	c.load(entries)

	c.sessionID = sessionID
	c.scopeID = scopeID
	c.operator = operator
	c.startedAt = c.now()
	c.active = c.groups[0]
	c.state = StateInProgress

	return nil
}

func (c *Controller) load(entries []domain.InventoryEntry) {
	sorted := make([]domain.InventoryEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Brand != sorted[j].Brand {
			return sorted[i].Brand < sorted[j].Brand
		}
		if sorted[i].Size != sorted[j].Size {
			return sorted[i].Size < sorted[j].Size
		}
		return sorted[i].ID < sorted[j].ID
	})

	c.entries = sorted
	c.index = make(map[uint]int, len(sorted))
	c.groups = nil
	for i, e := range sorted {
		c.index[e.ID] = i
		if len(c.groups) == 0 || c.groups[len(c.groups)-1] != e.Brand {
			c.groups = append(c.groups, e.Brand)
		}
	}
}

func (c *Controller) SessionID() string    { return c.sessionID }
func (c *Controller) ScopeID() string      { return c.scopeID }
func (c *Controller) Operator() string     { return c.operator }
func (c *Controller) StartedAt() time.Time { return c.startedAt }
func (c *Controller) Applying() bool       { return c.applying }

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) Entries() []domain.InventoryEntry {
	out := make([]domain.InventoryEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Controller) Groups() []string {
	out := make([]string, len(c.groups))
	copy(out, c.groups)
	return out
}

// ActiveGroup returns the group pointer after applying any auto-advance whose
// debounce has elapsed.
func (c *Controller) ActiveGroup() string {
	c.settle()
	return c.active
}

func (c *Controller) SelectGroup(group string) error {
	if c.state != StateInProgress && c.state != StateReviewPending {
		return ErrInvalidTransition
	}
	if c.applying {
		return ErrApplyInProgress
	}
	if group != AllGroups && !c.hasGroup(group) {
		return ErrUnknownGroup
	}
	c.active = group
	c.advanceAt = time.Time{}
	return nil
}

func (c *Controller) hasGroup(group string) bool {
	for _, g := range c.groups {
		if g == group {
			return true
		}
	}
	return false
}

func (c *Controller) Decision(entryID uint) (Decision, bool) {
	d, ok := c.decisions[entryID]
	if !ok {
		return Decision{}, false
	}
	return *d, true
}

func (c *Controller) Decisions() map[uint]Decision {
	out := make(map[uint]Decision, len(c.decisions))
	for id, d := range c.decisions {
		out[id] = *d
	}
	return out
}

func (c *Controller) TotalCount() int {
	return len(c.entries)
}

func (c *Controller) ConfirmedCount() int {
	n := 0
	for _, d := range c.decisions {
		if d.Confirmed {
			n++
		}
	}
	return n
}

// Progress returns the confirmed and total entry counts of group.
func (c *Controller) Progress(group string) (confirmed, total int) {
	for _, e := range c.entries {
		if group != AllGroups && e.Brand != group {
			continue
		}
		total++
		if d, ok := c.decisions[e.ID]; ok && d.Confirmed {
			confirmed++
		}
	}
	return confirmed, total
}

func (c *Controller) groupComplete(group string) bool {
	confirmed, total := c.Progress(group)
	return total > 0 && confirmed >= total
}

func (c *Controller) UndoDepth() int {
	return len(c.undo)
}

// MarkMatched confirms an entry as counted equal to its system stock.
func (c *Controller) MarkMatched(entryID uint) error {
	c.settle()
	entry, err := c.editable(entryID)
	if err != nil {
		return err
	}

	if d, ok := c.decisions[entryID]; ok {
		if d.Verdict == VerdictMatched && d.Confirmed {
			return nil
		}
		if d.Confirmed {
			c.dropFrames(entryID)
		}
	}

	c.decisions[entryID] = &Decision{
		EntryID:     entryID,
		Verdict:     VerdictMatched,
		SystemStock: entry.CurrentStock,
		ActualCount: entry.CurrentStock,
		Confirmed:   true,
	}
	c.undo = append(c.undo, UndoFrame{EntryID: entryID})
	c.afterChange()

	return nil
}

// MarkMismatched opens the resolver for an entry. The entry stays unconfirmed
// until a reason is committed.
func (c *Controller) MarkMismatched(entryID uint) error {
	c.settle()
	entry, err := c.editable(entryID)
	if err != nil {
		return err
	}

	if d, ok := c.decisions[entryID]; ok {
		if d.Verdict == VerdictMismatched {
			return nil
		}
		if d.Confirmed {
			c.dropFrames(entryID)
		}
	}

	c.decisions[entryID] = &Decision{
		EntryID:     entryID,
		Verdict:     VerdictMismatched,
		SystemStock: entry.CurrentStock,
		ActualCount: entry.CurrentStock,
	}
	c.afterChange()

	return nil
}

// Undo pops the most recent confirmation and returns the affected entry.
func (c *Controller) Undo() (uint, error) {
	c.settle()
	if c.applying {
		return 0, ErrApplyInProgress
	}
	if c.state != StateInProgress {
		return 0, ErrInvalidTransition
	}
	if len(c.undo) == 0 {
		return 0, ErrNothingToUndo
	}

	frame := c.undo[len(c.undo)-1]
	c.undo = c.undo[:len(c.undo)-1]

	if frame.Prior != nil && frame.Prior.Confirmed {
		prior := *frame.Prior
		c.decisions[frame.EntryID] = &prior
	} else {
		delete(c.decisions, frame.EntryID)
	}
	c.afterChange()

	return frame.EntryID, nil
}

// Review is the completion gate: every eligible entry across all groups must be confirmed.
func (c *Controller) Review() error {
	c.settle()
	if c.applying {
		return ErrApplyInProgress
	}
	if c.state != StateInProgress {
		return ErrInvalidTransition
	}
	if c.ConfirmedCount() < c.TotalCount() {
		return ErrIncompleteAudit
	}
	c.state = StateReviewPending
	c.advanceAt = time.Time{}
	return nil
}

func (c *Controller) ReopenCounting() error {
	if c.state != StateReviewPending {
		return ErrInvalidTransition
	}
	if c.applying {
		return ErrApplyInProgress
	}
	c.state = StateInProgress
	return nil
}

// Cancel discards every in-memory decision. Nothing has been persisted before apply.
func (c *Controller) Cancel() error {
	if c.state != StateInProgress && c.state != StateReviewPending {
		return ErrInvalidTransition
	}
	if c.applying {
		return ErrApplyInProgress
	}
	c.reset()
	c.state = StateNotStarted
	return nil
}

// BeginApply marks the session as applying so that re-entrant attempts are rejected.
func (c *Controller) BeginApply() (Submission, error) {
	if c.state != StateReviewPending {
		if c.state == StateInProgress {
			return Submission{}, ErrIncompleteAudit
		}
		return Submission{}, ErrInvalidTransition
	}
	if c.applying {
		return Submission{}, ErrApplyInProgress
	}
	if c.ConfirmedCount() < c.TotalCount() {
		return Submission{}, ErrIncompleteAudit
	}
	c.applying = true
	return c.submission(), nil
}

// AbortApply keeps every decision so the operator can retry.
func (c *Controller) AbortApply() {
	c.applying = false
}

func (c *Controller) CompleteApply() {
	sessionID := c.sessionID
	c.reset()
	c.sessionID = sessionID
	c.state = StateApplied
}

func (c *Controller) submission() Submission {
	decisions := make([]Decision, 0, len(c.entries))
	for _, e := range c.entries {
		if d, ok := c.decisions[e.ID]; ok && d.Confirmed {
			decisions = append(decisions, *d)
		}
	}
	return Submission{
		SessionID:   c.sessionID,
		ScopeID:     c.scopeID,
		PerformedBy: c.operator,
		Entries:     c.Entries(),
		Decisions:   decisions,
	}
}

func (c *Controller) editable(entryID uint) (domain.InventoryEntry, error) {
	if c.applying {
		return domain.InventoryEntry{}, ErrApplyInProgress
	}
	if c.state != StateInProgress {
		return domain.InventoryEntry{}, ErrInvalidTransition
	}
	i, ok := c.index[entryID]
	if !ok {
		return domain.InventoryEntry{}, ErrEntryNotInSession
	}
	return c.entries[i], nil
}

func (c *Controller) mismatch(entryID uint) (*Decision, error) {
	if _, err := c.editable(entryID); err != nil {
		return nil, err
	}
	d, ok := c.decisions[entryID]
	if !ok || d.Verdict != VerdictMismatched {
		return nil, ErrNotMismatched
	}
	return d, nil
}

func (c *Controller) dropFrames(entryID uint) {
	kept := c.undo[:0]
	for _, f := range c.undo {
		if f.EntryID != entryID {
			kept = append(kept, f)
		}
	}
	c.undo = kept
}

// afterChange restarts the auto-advance debounce when the active group is
// complete and drops a pending advance when it no longer is.
func (c *Controller) afterChange() {
	if c.active == AllGroups {
		return
	}
	if c.groupComplete(c.active) {
		c.advanceAt = c.now().Add(c.delay)
		return
	}
	c.advanceAt = time.Time{}
}

func (c *Controller) settle() {
	if c.advanceAt.IsZero() || c.now().Before(c.advanceAt) {
		return
	}
	c.advanceAt = time.Time{}
	if c.state != StateInProgress || c.active == AllGroups || !c.groupComplete(c.active) {
		return
	}
	c.active = c.nextIncompleteGroup(c.active)
}

func (c *Controller) nextIncompleteGroup(from string) string {
	start := 0
	for i, g := range c.groups {
		if g == from {
			start = i
			break
		}
	}
	for step := 1; step < len(c.groups); step++ {
		g := c.groups[(start+step)%len(c.groups)]
		if !c.groupComplete(g) {
			return g
		}
	}
	return AllGroups
}
