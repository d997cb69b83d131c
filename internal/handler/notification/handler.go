package notification

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "github.com/textback/notify-api/pkg/errors"

	"github.com/textback/notify-api/internal/handler"
	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/service/dispatch"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		// hhmm validates wall-clock fields like "21:30".
		_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			_, err := time.Parse("15:04", fl.Field().String())
			return err == nil
		})
	}
}

type Handler struct {
	service *dispatch.Service
}

func NewHandler(service *dispatch.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/events", h.EmitEvent)

	customers := r.Group("/customers/:id")
	{
		customers.GET("/preferences", h.GetPreferences)
		customers.PUT("/preferences", h.UpsertPreference)
		customers.GET("/deliveries", h.ListDeliveries)
	}
}

type emitEventRequest struct {
	CustomerID string             `json:"customer_id" binding:"required,uuid"`
	EventType  string             `json:"event_type" binding:"required"`
	Payload    model.EventPayload `json:"payload"`
}

func (h *Handler) EmitEvent(c *gin.Context) {
	var req emitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid customer ID"))
		return
	}

	results, err := h.service.EmitEvent(c.Request.Context(), customerID, model.EventType(req.EventType), req.Payload)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(results))
}

func (h *Handler) GetPreferences(c *gin.Context) {
	customerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid customer ID"))
		return
	}

	prefs, err := h.service.GetPreferences(c.Request.Context(), customerID)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(prefs))
}

type upsertPreferenceRequest struct {
	UserID *string `json:"user_id" binding:"omitempty,uuid"`

	EmailEnabled bool `json:"email_enabled"`
	SMSEnabled   bool `json:"sms_enabled"`

	EmailNewLead        bool `json:"email_new_lead"`
	EmailNewMessage     bool `json:"email_new_message"`
	SMSNewLead          bool `json:"sms_new_lead"`
	SMSNewMessage       bool `json:"sms_new_message"`
	NotifyLeadManaged   bool `json:"notify_lead_managed"`
	NotifyLeadConverted bool `json:"notify_lead_converted"`
	NotifyAIFailed      bool `json:"notify_ai_failed"`

	CadenceMode            string `json:"cadence_mode" binding:"required,oneof=immediate hourly daily custom"`
	CadenceIntervalMinutes int    `json:"cadence_interval_minutes" binding:"omitempty,min=0"`
	MaxNotificationsPerDay *int   `json:"max_notifications_per_day" binding:"omitempty,min=1"`

	QuietHoursStart *string `json:"quiet_hours_start" binding:"omitempty,hhmm"`
	QuietHoursEnd   *string `json:"quiet_hours_end" binding:"omitempty,hhmm"`
	Timezone        string  `json:"timezone" binding:"omitempty,timezone"`
	DigestTime      string  `json:"digest_time" binding:"omitempty,hhmm"`

	Email    string `json:"email" binding:"omitempty,email"`
	SMSPhone string `json:"sms_phone" binding:"omitempty,e164"`
}

func (h *Handler) UpsertPreference(c *gin.Context) {
	customerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid customer ID"))
		return
	}

	var req upsertPreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	pref := &model.NotificationPreference{
		CustomerID:             customerID,
		EmailEnabled:           req.EmailEnabled,
		SMSEnabled:             req.SMSEnabled,
		EmailNewLead:           req.EmailNewLead,
		EmailNewMessage:        req.EmailNewMessage,
		SMSNewLead:             req.SMSNewLead,
		SMSNewMessage:          req.SMSNewMessage,
		NotifyLeadManaged:      req.NotifyLeadManaged,
		NotifyLeadConverted:    req.NotifyLeadConverted,
		NotifyAIFailed:         req.NotifyAIFailed,
		CadenceMode:            model.CadenceMode(req.CadenceMode),
		CadenceIntervalMinutes: req.CadenceIntervalMinutes,
		MaxNotificationsPerDay: req.MaxNotificationsPerDay,
		QuietHoursStart:        req.QuietHoursStart,
		QuietHoursEnd:          req.QuietHoursEnd,
		Timezone:               req.Timezone,
		DigestTime:             req.DigestTime,
		Email:                  req.Email,
		SMSPhone:               req.SMSPhone,
	}
	if req.UserID != nil {
		userID, err := uuid.Parse(*req.UserID)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid user ID"))
			return
		}
		pref.UserID = &userID
	}

	if err := h.service.UpsertPreference(c.Request.Context(), pref); err != nil {
		c.JSON(apperrors.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(pref))
}

func (h *Handler) ListDeliveries(c *gin.Context) {
	customerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid customer ID"))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.service.ListDeliveries(c.Request.Context(), customerID, limit)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(records))
}
