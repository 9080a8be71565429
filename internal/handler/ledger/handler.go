package ledger

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/health-ledger/internal/handler"
	"github.com/jwalitptl/health-ledger/internal/middleware"
	"github.com/jwalitptl/health-ledger/internal/model"
	apperrors "github.com/jwalitptl/health-ledger/pkg/errors"
)

// Ledger is the access controller as seen by the HTTP layer.
type Ledger interface {
	RegisterUser(ctx context.Context, caller model.Principal, name, contact string, isProvider bool) error
	CreateHealthRecord(ctx context.Context, caller, patient model.Principal, contentRef, recordType string) (uint64, error)
	ManageAccess(ctx context.Context, caller, provider model.Principal, grant bool) error
	DeactivateRecord(ctx context.Context, caller model.Principal, id uint64) error
	GetUserProfile(p model.Principal) (model.Identity, bool)
	GetPatientRecords(caller, patient model.Principal) ([]uint64, error)
	GetHealthRecord(caller model.Principal, id uint64) (model.HealthRecord, error)
	HasAccess(patient, provider model.Principal) bool
	GetTotalRecords() uint64
	AuditEvents(caller model.Principal, from uint64, limit int) ([]model.AuditEvent, error)
}

type Handler struct {
	ledger Ledger
}

func NewHandler(ledger Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	users := r.Group("/users")
	{
		users.POST("", h.RegisterUser)
		users.GET("/:principal", h.GetUserProfile)
	}

	records := r.Group("/records")
	{
		records.POST("", h.CreateHealthRecord)
		records.GET("/total", h.GetTotalRecords)
		records.GET("/:id", h.GetHealthRecord)
		records.POST("/:id/deactivate", h.DeactivateRecord)
	}

	r.GET("/patients/:principal/records", h.GetPatientRecords)

	access := r.Group("/access")
	{
		access.PUT("/:provider", h.ManageAccess)
		access.GET("/:patient/:provider", h.HasAccess)
	}

	r.GET("/audit/events", h.AuditEvents)
}

// bind reports binding failures. Validation errors are left to the
// validation middleware; anything else is a malformed request.
func bind(c *gin.Context, err error) bool {
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return false
	}
	handler.RespondError(c, apperrors.BadRequest("malformed request", err))
	return false
}

func (h *Handler) RegisterUser(c *gin.Context) {
	var req model.RegisterUserRequest
	if !bind(c, c.ShouldBindJSON(&req)) {
		return
	}

	caller := middleware.Caller(c)
	if err := h.ledger.RegisterUser(c.Request.Context(), caller, req.Name, req.Contact, req.IsProvider); err != nil {
		handler.RespondError(c, err)
		return
	}

	identity, _ := h.ledger.GetUserProfile(caller)
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(identity))
}

func (h *Handler) GetUserProfile(c *gin.Context) {
	var uri model.PrincipalURI
	if !bind(c, c.ShouldBindUri(&uri)) {
		return
	}

	identity, ok := h.ledger.GetUserProfile(uri.Principal)
	if !ok {
		handler.RespondError(c, apperrors.NotFound("user", nil))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(identity))
}

func (h *Handler) CreateHealthRecord(c *gin.Context) {
	var req model.CreateRecordRequest
	if !bind(c, c.ShouldBindJSON(&req)) {
		return
	}

	id, err := h.ledger.CreateHealthRecord(c.Request.Context(), middleware.Caller(c), req.Patient, req.ContentRef, req.RecordType)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(gin.H{"id": id}))
}

func (h *Handler) GetHealthRecord(c *gin.Context) {
	var uri model.RecordURI
	if !bind(c, c.ShouldBindUri(&uri)) {
		return
	}

	rec, err := h.ledger.GetHealthRecord(middleware.Caller(c), uri.ID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(rec))
}

func (h *Handler) GetTotalRecords(c *gin.Context) {
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"total": h.ledger.GetTotalRecords()}))
}

func (h *Handler) DeactivateRecord(c *gin.Context) {
	var uri model.RecordURI
	if !bind(c, c.ShouldBindUri(&uri)) {
		return
	}

	if err := h.ledger.DeactivateRecord(c.Request.Context(), middleware.Caller(c), uri.ID); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"id": uri.ID, "active": false}))
}

func (h *Handler) GetPatientRecords(c *gin.Context) {
	var uri model.PatientURI
	if !bind(c, c.ShouldBindUri(&uri)) {
		return
	}

	ids, err := h.ledger.GetPatientRecords(middleware.Caller(c), uri.Patient)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(model.PatientRecordsResponse{
		Patient:   uri.Patient,
		RecordIDs: ids,
	}))
}

func (h *Handler) ManageAccess(c *gin.Context) {
	var uri model.ProviderURI
	if !bind(c, c.ShouldBindUri(&uri)) {
		return
	}
	var req model.ManageAccessRequest
	if !bind(c, c.ShouldBindJSON(&req)) {
		return
	}

	caller := middleware.Caller(c)
	if err := h.ledger.ManageAccess(c.Request.Context(), caller, uri.Provider, *req.Grant); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"patient":  caller,
		"provider": uri.Provider,
		"granted":  *req.Grant,
	}))
}

func (h *Handler) HasAccess(c *gin.Context) {
	var uri model.AccessURI
	if !bind(c, c.ShouldBindUri(&uri)) {
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"patient":  uri.Patient,
		"provider": uri.Provider,
		"granted":  h.ledger.HasAccess(uri.Patient, uri.Provider),
	}))
}

func (h *Handler) AuditEvents(c *gin.Context) {
	var q model.AuditQuery
	if !bind(c, c.ShouldBindQuery(&q)) {
		return
	}
	if q.Limit == 0 {
		q.Limit = 100
	}

	events, err := h.ledger.AuditEvents(middleware.Caller(c), q.From, q.Limit)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(events))
}
