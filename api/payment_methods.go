package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/Domenick1991/guardbooking/internal/gateway"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type PaymentMethodService interface {
	ClientToken(ctx context.Context, actor domain.Actor) (gateway.ClientToken, error)
	AttachPaymentMethod(ctx context.Context, actor domain.Actor, cardToken string) (*domain.SavedPaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, actor domain.Actor, methodID string) error
	SetDefaultPaymentMethod(ctx context.Context, actor domain.Actor, methodID string) error
	ListPaymentMethods(ctx context.Context, actor domain.Actor) ([]domain.SavedPaymentMethod, error)
}

type PaymentMethodHandler struct {
	service PaymentMethodService
	log     logrus.FieldLogger
}

type attachMethodRequest struct {
	CardToken string `json:"card_token" binding:"required"`
}

type paymentMethodResponse struct {
	ID        string `json:"id"`
	Brand     string `json:"brand"`
	Last4     string `json:"last4"`
	IsDefault bool   `json:"is_default"`
	CreatedAt string `json:"created_at"`
}

func NewPaymentMethodHandler(service PaymentMethodService, log logrus.FieldLogger) *PaymentMethodHandler {
	return &PaymentMethodHandler{service: service, log: log}
}

func (h *PaymentMethodHandler) Register(router *gin.RouterGroup) {
	router.POST("/client-token", h.clientToken)
	router.GET("", h.list)
	router.POST("", h.attach)
	router.DELETE("/:id", h.detach)
	router.PUT("/:id/default", h.setDefault)
}

func (h *PaymentMethodHandler) clientToken(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	tok, err := h.service.ClientToken(c.Request.Context(), actor)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (h *PaymentMethodHandler) list(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	methods, err := h.service.ListPaymentMethods(c.Request.Context(), actor)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	resp := make([]paymentMethodResponse, 0, len(methods))
	for i := range methods {
		resp = append(resp, toPaymentMethodResponse(&methods[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PaymentMethodHandler) attach(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	var req attachMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	m, err := h.service.AttachPaymentMethod(c.Request.Context(), actor, req.CardToken)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, toPaymentMethodResponse(m))
}

func (h *PaymentMethodHandler) detach(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	if err := h.service.DetachPaymentMethod(c.Request.Context(), actor, c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PaymentMethodHandler) setDefault(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	if err := h.service.SetDefaultPaymentMethod(c.Request.Context(), actor, c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func toPaymentMethodResponse(m *domain.SavedPaymentMethod) paymentMethodResponse {
	return paymentMethodResponse{
		ID:        m.ID,
		Brand:     m.Brand,
		Last4:     m.Last4,
		IsDefault: m.IsDefault,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}
