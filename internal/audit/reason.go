package audit

type ReasonCode string

const (
	ReasonLost       ReasonCode = "분실"
	ReasonDamaged    ReasonCode = "파손"
	ReasonExpired    ReasonCode = "유효기간 경과"
	ReasonEntryError ReasonCode = "입력 오류"
	ReasonOther      ReasonCode = "기타"
)

var Reasons = []ReasonCode{
	ReasonLost,
	ReasonDamaged,
	ReasonExpired,
	ReasonEntryError,
	ReasonOther,
}

func (c ReasonCode) Valid() bool {
	for _, r := range Reasons {
		if r == c {
			return true
		}
	}
	return false
}

// ReasonDraft is the operator's reason input for one mismatched entry. Committed
// holds the reason that will be persisted; it is empty until the entry is confirmed.
type ReasonDraft struct {
	Code      ReasonCode `json:"code,omitempty"`
	Text      string     `json:"text,omitempty"`
	Editing   bool       `json:"editing,omitempty"`
	Committed string     `json:"committed,omitempty"`
}
