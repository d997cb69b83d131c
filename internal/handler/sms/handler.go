package sms

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/textback/notify-api/pkg/errors"

	"github.com/textback/notify-api/internal/handler"
	smsgw "github.com/textback/notify-api/internal/sms"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

type Handler struct {
	gateway *smsgw.Gateway
}

func NewHandler(gateway *smsgw.Gateway) *Handler {
	return &Handler{gateway: gateway}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	customers := r.Group("/customers/:id/sms")
	{
		customers.POST("/provision", h.ProvisionNumber)
		customers.DELETE("/number", h.ReleaseNumber)
	}
}

// RegisterWebhookRoutes mounts the unauthenticated provider callbacks.
func (h *Handler) RegisterWebhookRoutes(r *gin.RouterGroup) {
	r.POST("/sms/:provider", h.InboundWebhook)
}

type provisionRequest struct {
	Provider string `json:"provider" binding:"omitempty,oneof=twilio fonecloud"`
}

func (h *Handler) ProvisionNumber(c *gin.Context) {
	customerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid customer ID"))
		return
	}

	var req provisionRequest
	// An empty body is fine; the default provider is used.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	binding, err := h.gateway.ProvisionNumber(c.Request.Context(), customerID, req.Provider)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(binding))
}

func (h *Handler) ReleaseNumber(c *gin.Context) {
	customerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid customer ID"))
		return
	}

	result, err := h.gateway.ReleaseNumber(c.Request.Context(), customerID)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

// InboundWebhook receives provider callbacks for incoming SMS. The
// gateway verifies the provider signature before anything is applied.
func (h *Handler) InboundWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("failed to read webhook body"))
		return
	}

	result, err := h.gateway.HandleIncoming(c.Request.Context(), c.Param("provider"), c.Request, body)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}
