package request

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/audit"
)

var (
	errCountOrStep = errors.New("exactly one of count or step is required")
	errEmptyReason = errors.New("code, text or commit is required")
)

type SelectGroupRequest struct {
	Group string `json:"group"`
}

func (req *SelectGroupRequest) Validate() error {
	return validation.ValidateStruct(
		req,
		validation.Field(&req.Group, validation.Required, validation.Length(1, 200)),
	)
}

// SetCountRequest either sets the counted quantity or moves it by Step.
// A negative Count is floored to zero by the session.
type SetCountRequest struct {
	Count *int `json:"count"`
	Step  *int `json:"step"`
}

func (req *SetCountRequest) Validate() error {
	if (req.Count == nil) == (req.Step == nil) {
		return errCountOrStep
	}

	return validation.ValidateStruct(
		req,
		validation.Field(&req.Step, validation.Min(-10000), validation.Max(10000)),
	)
}

type SetReasonRequest struct {
	Code   string  `json:"code"`
	Text   *string `json:"text"`
	Commit bool    `json:"commit"`
}

func (req *SetReasonRequest) Validate() error {
	if req.Code == "" && req.Text == nil && !req.Commit {
		return errEmptyReason
	}

	reasons := make([]interface{}, len(audit.Reasons))
	for i, r := range audit.Reasons {
		reasons[i] = string(r)
	}

	return validation.ValidateStruct(
		req,
		validation.Field(&req.Code, validation.In(reasons...)),
		validation.Field(&req.Text, validation.Length(0, 500)),
	)
}
