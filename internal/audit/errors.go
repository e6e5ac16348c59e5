package audit

import "errors"

var (
	ErrInvalidTransition = errors.New("operation not allowed in the current audit state")
	ErrEntryNotInSession = errors.New("entry is not part of the audit session")
	ErrNotMismatched     = errors.New("entry is not marked as mismatched")
	ErrReasonRequired    = errors.New("a reason is required for a mismatched entry")
	ErrUnknownReason     = errors.New("unknown mismatch reason")
	ErrIncompleteAudit   = errors.New("not every eligible entry has been confirmed")
	ErrNothingToUndo     = errors.New("nothing to undo")
	ErrUnknownGroup      = errors.New("unknown group")
	ErrNothingToAudit    = errors.New("no eligible entries to audit")
	ErrApplyInProgress   = errors.New("an apply is already in progress for this session")
)

var validationErrors = []error{
	ErrInvalidTransition,
	ErrEntryNotInSession,
	ErrNotMismatched,
	ErrReasonRequired,
	ErrUnknownReason,
	ErrIncompleteAudit,
	ErrNothingToUndo,
	ErrUnknownGroup,
	ErrNothingToAudit,
}

// IsValidation reports whether err is a local, recoverable operator error that
// never reaches persistence.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
