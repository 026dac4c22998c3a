package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Domenick1991/guardbooking/internal/service/reconcile"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	signatureHeader = "X-Gateway-Signature"
	maxWebhookBody  = 1 << 20
)

type WebhookService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (reconcile.Result, error)
}

type WebhookHandler struct {
	service WebhookService
	timeout time.Duration
	log     logrus.FieldLogger
}

func NewWebhookHandler(service WebhookService, timeout time.Duration, log logrus.FieldLogger) *WebhookHandler {
	return &WebhookHandler{service: service, timeout: timeout, log: log}
}

func (h *WebhookHandler) Register(router *gin.RouterGroup) {
	router.POST("/gateway", h.receive)
}

// receive must see the body byte for byte; it is never bound or re-encoded
// before the signature is checked.
func (h *WebhookHandler) receive(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "could not read body"})
		return
	}
	if len(payload) > maxWebhookBody {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := h.service.HandleWebhook(ctx, payload, c.GetHeader(signatureHeader))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// the reservation was released; the provider will redeliver
			h.log.WithError(err).Warn("webhook processing timed out")
			c.Header("Retry-After", "5")
			c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "processing timed out"})
			return
		}
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, resultResponse{ResultSnapshot: res.Snapshot, Replayed: res.Replayed})
}
