package v1

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/api/handler/v1/request"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/api/handler/v1/response"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/api/middleware"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/audit"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/export"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/pkg/jwthelper"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/service"
)

var errMissingClaims = errors.New("missing operator claims")

type AuditService interface {
	Start(ctx context.Context, op service.Operator) (service.SessionView, error)
	State(ctx context.Context, op service.Operator) (service.SessionView, error)
	Cancel(ctx context.Context, op service.Operator) error
	KPI(ctx context.Context, op service.Operator, group string) (audit.KPI, error)
	SelectGroup(ctx context.Context, op service.Operator, group string) (service.SessionView, error)
	MarkMatched(ctx context.Context, op service.Operator, entryID uint) (service.SessionView, error)
	MarkMismatched(ctx context.Context, op service.Operator, entryID uint) (service.SessionView, error)
	SetCount(ctx context.Context, op service.Operator, entryID uint, count *int, step int) (service.SessionView, error)
	SetReason(ctx context.Context, op service.Operator, entryID uint, in service.ReasonInput) (service.SessionView, error)
	EditReason(ctx context.Context, op service.Operator, entryID uint) (service.SessionView, error)
	Undo(ctx context.Context, op service.Operator) (service.SessionView, error)
	Review(ctx context.Context, op service.Operator) (service.SessionView, error)
	Reopen(ctx context.Context, op service.Operator) (service.SessionView, error)
	Apply(ctx context.Context, op service.Operator) (domain.ReconciliationOutcome, error)
	VerifyApply(ctx context.Context, scopeID, sessionID string) (domain.AuditSession, error)
	History(ctx context.Context, scopeID string, expand bool) ([]domain.AuditSession, error)
	ExportHistory(ctx context.Context, scopeID string, w io.Writer) error
}

type AuditHandler struct {
	svc AuditService
}

func NewAuditHandler(svc AuditService) *AuditHandler {
	return &AuditHandler{
		svc: svc,
	}
}

// HandleStartSession godoc
// @Summary      Start an audit session
// @Description  Loads every eligible inventory entry of the operator's hospital scope into a new session.
// @Tags         audit
// @Produce      json
// @Success      201  {object}  service.SessionView
// @Failure      401  {object}  response.Err
// @Failure      409  {object}  response.Err
// @Failure      422  {object}  response.Err
// @Failure      500  {object}  response.Err
// @Router       /audit/session [post]
// @Security BearerAuth
func (h *AuditHandler) HandleStartSession(ctx *gin.Context) {
	op, respErr := getOperator(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	v, err := h.svc.Start(ctx.Request.Context(), op)
	if err != nil {
		renderAuditErr(ctx, op, "HandleStartSession -> h.svc.Start", err)
		return
	}

	ctx.JSON(http.StatusCreated, v)
}

// HandleGetSession godoc
// @Summary      Get the current audit session
// @Tags         audit
// @Produce      json
// @Success      200  {object}  service.SessionView
// @Failure      401  {object}  response.Err
// @Failure      404  {object}  response.Err
// @Failure      500  {object}  response.Err
// @Router       /audit/session [get]
// @Security BearerAuth
func (h *AuditHandler) HandleGetSession(ctx *gin.Context) {
	h.view(ctx, "HandleGetSession -> h.svc.State", h.svc.State)
}

// HandleCancelSession godoc
// @Summary      Cancel the current audit session
// @Description  Discards the draft. Nothing is written to the ledger.
// @Tags         audit
// @Success      204
// @Failure      401  {object}  response.Err
// @Failure      404  {object}  response.Err
// @Failure      409  {object}  response.Err
// @Router       /audit/session [delete]
// @Security BearerAuth
func (h *AuditHandler) HandleCancelSession(ctx *gin.Context) {
	op, respErr := getOperator(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	if err := h.svc.Cancel(ctx.Request.Context(), op); err != nil {
		renderAuditErr(ctx, op, "HandleCancelSession -> h.svc.Cancel", err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

// HandleSelectGroup godoc
// @Summary      Select the active brand group
// @Tags         audit
// @Accept       json
// @Produce      json
// @Param        input  body      request.SelectGroupRequest  true  "Brand group, or * for all"
// @Success      200    {object}  service.SessionView
// @Failure      400    {object}  response.Err
// @Failure      404    {object}  response.Err
// @Router       /audit/session/group [put]
// @Security BearerAuth
func (h *AuditHandler) HandleSelectGroup(ctx *gin.Context) {
	op, respErr := getOperator(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	req := request.SelectGroupRequest{}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RenderErr(ctx, response.ErrBadRequest(err))
		return
	}
	if err := req.Validate(); err != nil {
		response.RenderErr(ctx, response.ErrBadRequest(err))
		return
	}

	v, err := h.svc.SelectGroup(ctx.Request.Context(), op, req.Group)
	if err != nil {
		renderAuditErr(ctx, op, "HandleSelectGroup -> h.svc.SelectGroup", err)
		return
	}

	ctx.JSON(http.StatusOK, v)
}

// HandleMarkMatched godoc
// @Summary      Mark an entry as matching the system stock
// @Tags         audit
// @Produce      json
// @Param        entryID  path      int  true  "Inventory entry ID"
// @Success      200      {object}  service.SessionView
// @Failure      400      {object}  response.Err
// @Failure      404      {object}  response.Err
// @Failure      409      {object}  response.Err
// @Router       /audit/session/entries/{entryID}/match [post]
// @Security BearerAuth
func (h *AuditHandler) HandleMarkMatched(ctx *gin.Context) {
	h.entryView(ctx, "HandleMarkMatched -> h.svc.MarkMatched", h.svc.MarkMatched)
}

// HandleMarkMismatched godoc
// @Summary      Mark an entry as mismatched
// @Description  The counted quantity starts at the system stock; a reason must be committed to confirm the entry.
// @Tags         audit
// @Produce      json
// @Param        entryID  path      int  true  "Inventory entry ID"
// @Success      200      {object}  service.SessionView
// @Failure      400      {object}  response.Err
// @Failure      404      {object}  response.Err
// @Failure      409      {object}  response.Err
// @Router       /audit/session/entries/{entryID}/mismatch [post]
// @Security BearerAuth
func (h *AuditHandler) HandleMarkMismatched(ctx *gin.Context) {
	h.entryView(ctx, "HandleMarkMismatched -> h.svc.MarkMismatched", h.svc.MarkMismatched)
}

// HandleSetCount godoc
// @Summary      Set or step the counted quantity of a mismatched entry
// @Tags         audit
// @Accept       json
// @Produce      json
// @Param        entryID  path      int                       true  "Inventory entry ID"
// @Param        input    body      request.SetCountRequest  true  "Either count or step"
// @Success      200      {object}  service.SessionView
// @Failure      400      {object}  response.Err
// @Failure      404      {object}  response.Err
// @Router       /audit/session/entries/{entryID}/count [put]
// @Security BearerAuth
func (h *AuditHandler) HandleSetCount(ctx *gin.Context) {
	op, respErr := getOperator(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	entryID, respErr := getEntryID(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	req := request.SetCountRequest{}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RenderErr(ctx, response.ErrBadRequest(err))
		return
	}
	if err := req.Validate(); err != nil {
		response.RenderErr(ctx, response.ErrBadRequest(err))
		return
	}

	step := 0
	if req.Step != nil {
		step = *req.Step
	}

	v, err := h.svc.SetCount(ctx.Request.Context(), op, entryID, req.Count, step)
	if err != nil {
		renderAuditErr(ctx, op, "HandleSetCount -> h.svc.SetCount", err)
		return
	}

	ctx.JSON(http.StatusOK, v)
}

// HandleSetReason godoc
// @Summary      Select, type or commit the reason of a mismatched entry
// @Description  Committing confirms the entry. Selecting 기타 switches to free text.
// @Tags         audit
// @Accept       json
// @Produce      json
// @Param        entryID  path      int                        true  "Inventory entry ID"
// @Param        input    body      request.SetReasonRequest  true  "Reason draft"
// @Success      200      {object}  service.SessionView
// @Failure      400      {object}  response.Err
// @Failure      404      {object}  response.Err
// @Router       /audit/session/entries/{entryID}/reason [put]
// @Security BearerAuth
func (h *AuditHandler) HandleSetReason(ctx *gin.Context) {
	op, respErr := getOperator(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	entryID, respErr := getEntryID(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	req := request.SetReasonRequest{}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RenderErr(ctx, response.ErrBadRequest(err))
		return
	}
	if err := req.Validate(); err != nil {
		response.RenderErr(ctx, response.ErrBadRequest(err))
		return
	}

	in := service.ReasonInput{
		Code:   audit.ReasonCode(req.Code),
		Text:   req.Text,
		Commit: req.Commit,
	}
	v, err := h.svc.SetReason(ctx.Request.Context(), op, entryID, in)
	if err != nil {
		renderAuditErr(ctx, op, "HandleSetReason -> h.svc.SetReason", err)
		return
	}

	ctx.JSON(http.StatusOK, v)
}

// HandleEditReason godoc
// @Summary      Re-open the reason of a confirmed mismatch for editing
// @Tags         audit
// @Produce      json
// @Param        entryID  path      int  true  "Inventory entry ID"
// @Success      200      {object}  service.SessionView
// @Failure      400      {object}  response.Err
// @Failure      409      {object}  response.Err
// @Router       /audit/session/entries/{entryID}/reason/edit [post]
// @Security BearerAuth
func (h *AuditHandler) HandleEditReason(ctx *gin.Context) {
	h.entryView(ctx, "HandleEditReason -> h.svc.EditReason", h.svc.EditReason)
}

// HandleUndo godoc
// @Summary      Undo the last confirmation
// @Tags         audit
// @Produce      json
// @Success      200  {object}  service.SessionView
// @Failure      404  {object}  response.Err
// @Failure      409  {object}  response.Err
// @Router       /audit/session/undo [post]
// @Security BearerAuth
func (h *AuditHandler) HandleUndo(ctx *gin.Context) {
	h.view(ctx, "HandleUndo -> h.svc.Undo", h.svc.Undo)
}

// HandleReview godoc
// @Summary      Move the session to review
// @Description  Fails until every entry is confirmed.
// @Tags         audit
// @Produce      json
// @Success      200  {object}  service.SessionView
// @Failure      404  {object}  response.Err
// @Failure      409  {object}  response.Err
// @Router       /audit/session/review [post]
// @Security BearerAuth
func (h *AuditHandler) HandleReview(ctx *gin.Context) {
	h.view(ctx, "HandleReview -> h.svc.Review", h.svc.Review)
}

// HandleReopen godoc
// @Summary      Return a reviewed session to counting
// @Tags         audit
// @Produce      json
// @Success      200  {object}  service.SessionView
// @Failure      404  {object}  response.Err
// @Failure      409  {object}  response.Err
// @Router       /audit/session/reopen [post]
// @Security BearerAuth
func (h *AuditHandler) HandleReopen(ctx *gin.Context) {
	h.view(ctx, "HandleReopen -> h.svc.Reopen", h.svc.Reopen)
}

// HandleApply godoc
// @Summary      Apply the reviewed session to the ledger
// @Description  Writes the audit records and stock corrections in one transaction. A 504 means the outcome is unknown; verify it with GET /audit/applies/{sessionID}.
// @Tags         audit
// @Produce      json
// @Success      200  {object}  response.ApplyResponse
// @Failure      404  {object}  response.Err
// @Failure      409  {object}  response.Err
// @Failure      500  {object}  response.Err
// @Failure      504  {object}  response.Err
// @Router       /audit/session/apply [post]
// @Security BearerAuth
func (h *AuditHandler) HandleApply(ctx *gin.Context) {
	op, respErr := getOperator(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	outcome, err := h.svc.Apply(ctx.Request.Context(), op)
	if err != nil {
		renderAuditErr(ctx, op, "HandleApply -> h.svc.Apply", err)
		return
	}

	mismatches := 0
	for _, r := range outcome.Records {
		if r.Difference != 0 {
			mismatches++
		}
	}

	ctx.JSON(http.StatusOK, response.ApplyResponse{
		ReconciliationOutcome: outcome,
		MismatchCount:         mismatches,
	})
}

// HandleGetKPI godoc
// @Summary      Get KPIs of the current session
// @Tags         audit
// @Produce      json
// @Param        group  query     string  false  "Brand group, * or empty for all"
// @Success      200    {object}  audit.KPI
// @Failure      400    {object}  response.Err
// @Failure      404    {object}  response.Err
// @Router       /audit/kpi [get]
// @Security BearerAuth
func (h *AuditHandler) HandleGetKPI(ctx *gin.Context) {
	op, respErr := getOperator(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	group := ctx.DefaultQuery("group", audit.AllGroups)
	if group == "" {
		group = audit.AllGroups
	}

	kpi, err := h.svc.KPI(ctx.Request.Context(), op, group)
	if err != nil {
		renderAuditErr(ctx, op, "HandleGetKPI -> h.svc.KPI", err)
		return
	}

	ctx.JSON(http.StatusOK, kpi)
}

// HandleGetHistory godoc
// @Summary      List past audit sessions of the hospital scope
// @Tags         audit
// @Produce      json
// @Param        expand  query     bool  false  "Include every record of each session"
// @Success      200     {object}  response.HistoryResponse
// @Failure      400     {object}  response.Err
// @Failure      500     {object}  response.Err
// @Router       /audit/history [get]
// @Security BearerAuth
func (h *AuditHandler) HandleGetHistory(ctx *gin.Context) {
	op, respErr := getOperator(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	expand, err := strconv.ParseBool(ctx.DefaultQuery("expand", "false"))
	if err != nil {
		response.RenderErr(ctx, response.ErrBadRequest(fmt.Errorf("invalid expand -> %w", err)))
		return
	}

	sessions, err := h.svc.History(ctx.Request.Context(), op.ScopeID, expand)
	if err != nil {
		renderAuditErr(ctx, op, "HandleGetHistory -> h.svc.History", err)
		return
	}

	ctx.JSON(http.StatusOK, response.HistoryResponse{Sessions: sessions})
}

// HandleExportHistory godoc
// @Summary      Download the audit history as an xlsx workbook
// @Tags         audit
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success      200
// @Failure      500  {object}  response.Err
// @Router       /audit/history/export [get]
// @Security BearerAuth
func (h *AuditHandler) HandleExportHistory(ctx *gin.Context) {
	op, respErr := getOperator(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	var buf bytes.Buffer
	if err := h.svc.ExportHistory(ctx.Request.Context(), op.ScopeID, &buf); err != nil {
		renderAuditErr(ctx, op, "HandleExportHistory -> h.svc.ExportHistory", err)
		return
	}

	ctx.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-history-%s.xlsx"`, op.ScopeID))
	ctx.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

// HandleVerifyApply godoc
// @Summary      Check whether a session was applied
// @Description  Used after an apply that timed out.
// @Tags         audit
// @Produce      json
// @Param        sessionID  path      string  true  "Session ID"
// @Success      200        {object}  domain.AuditSession
// @Failure      404        {object}  response.Err
// @Router       /audit/applies/{sessionID} [get]
// @Security BearerAuth
func (h *AuditHandler) HandleVerifyApply(ctx *gin.Context) {
	op, respErr := getOperator(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	sessionID := ctx.Param("sessionID")
	session, err := h.svc.VerifyApply(ctx.Request.Context(), op.ScopeID, sessionID)
	if err != nil {
		if errors.Is(err, service.ErrApplyNotFound) {
			response.RenderErr(ctx, response.ErrNotFound("apply", "sessionID", sessionID))
			return
		}
		renderAuditErr(ctx, op, "HandleVerifyApply -> h.svc.VerifyApply", err)
		return
	}

	ctx.JSON(http.StatusOK, session)
}

func (h *AuditHandler) view(ctx *gin.Context, chain string, fn func(context.Context, service.Operator) (service.SessionView, error)) {
	op, respErr := getOperator(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	v, err := fn(ctx.Request.Context(), op)
	if err != nil {
		renderAuditErr(ctx, op, chain, err)
		return
	}

	ctx.JSON(http.StatusOK, v)
}

func (h *AuditHandler) entryView(ctx *gin.Context, chain string, fn func(context.Context, service.Operator, uint) (service.SessionView, error)) {
	op, respErr := getOperator(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	entryID, respErr := getEntryID(ctx)
	if respErr != nil {
		response.RenderErr(ctx, respErr)
		return
	}

	v, err := fn(ctx.Request.Context(), op, entryID)
	if err != nil {
		renderAuditErr(ctx, op, chain, err)
		return
	}

	ctx.JSON(http.StatusOK, v)
}

func getOperator(ctx *gin.Context) (service.Operator, *response.Err) {
	v, ok := ctx.Get(middleware.ClaimsKey)
	if !ok {
		return service.Operator{}, response.ErrUnauthorized(errMissingClaims)
	}
	claims, ok := v.(*jwthelper.Claims)
	if !ok {
		return service.Operator{}, response.ErrUnauthorized(errMissingClaims)
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}

	return service.Operator{
		ID:      claims.Subject,
		Name:    name,
		ScopeID: claims.HospitalScopeID,
	}, nil
}

func getEntryID(ctx *gin.Context) (uint, *response.Err) {
	raw := ctx.Param("entryID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, response.ErrBadRequest(fmt.Errorf("invalid entryID %q", raw))
	}
	return uint(id), nil
}

func renderAuditErr(ctx *gin.Context, op service.Operator, chain string, err error) {
	switch {
	case errors.Is(err, service.ErrNoSession):
		response.RenderErr(ctx, response.ErrNotFound("audit session", "operator", op.ID))
	case errors.Is(err, service.ErrEntryNotInSession):
		response.RenderErr(ctx, response.ErrNotFound("inventory entry", "entryID", ctx.Param("entryID")))
	case errors.Is(err, service.ErrReasonRequired),
		errors.Is(err, service.ErrUnknownReason),
		errors.Is(err, service.ErrNotMismatched),
		errors.Is(err, service.ErrUnknownGroup):
		response.RenderErr(ctx, response.ErrBadRequest(err))
	case errors.Is(err, service.ErrNothingToAudit):
		response.RenderErr(ctx, response.ErrUnprocessable(err))
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrIncompleteAudit),
		errors.Is(err, service.ErrNothingToUndo),
		errors.Is(err, service.ErrSessionInProgress),
		errors.Is(err, service.ErrApplyInProgress),
		errors.Is(err, service.ErrSessionBusy),
		errors.Is(err, service.ErrLedgerConflict),
		errors.Is(err, service.ErrEntryNotFound):
		response.RenderErr(ctx, response.ErrConflict(err))
	case errors.Is(err, service.ErrOutcomeUnknown):
		response.RenderErr(ctx, response.ErrGatewayTimeout(err))
	default:
		response.RenderErr(ctx, response.ErrInternalServerError(fmt.Errorf("%s -> %w", chain, err)))
	}
}
