package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/Domenick1991/guardbooking/internal/service/reconcile"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const idempotencyHeader = "Idempotency-Key"

type BookingService interface {
	CreateQuote(ctx context.Context, in reconcile.QuoteInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error)
	ConfirmPayment(ctx context.Context, in reconcile.ConfirmPaymentInput) (reconcile.Result, error)
	RefundBooking(ctx context.Context, in reconcile.RefundInput) (reconcile.Result, error)
	AdvanceBooking(ctx context.Context, in reconcile.AdvanceInput) (*domain.Booking, error)
}

type BookingHandler struct {
	service BookingService
	log     logrus.FieldLogger
}

type createQuoteRequest struct {
	TotalAmount int64  `json:"total_amount" binding:"required"`
	Currency    string `json:"currency"`
}

type confirmPaymentRequest struct {
	PaymentNonce string `json:"payment_nonce" binding:"required"`
}

type refundRequest struct {
	Reason string `json:"reason"`
}

type transitionRequest struct {
	Target  string `json:"target" binding:"required"`
	GuardID string `json:"guard_id"`
}

type bookingResponse struct {
	ID            string  `json:"id"`
	ClientID      string  `json:"client_id"`
	GuardID       string  `json:"guard_id,omitempty"`
	Status        string  `json:"status"`
	Currency      string  `json:"currency"`
	TotalAmount   int64   `json:"total_amount"`
	ProcessingFee int64   `json:"processing_fee"`
	PlatformCut   int64   `json:"platform_cut"`
	GuardPayout   int64   `json:"guard_payout"`
	PaymentRef    string  `json:"payment_ref,omitempty"`
	RefundRef     string  `json:"refund_ref,omitempty"`
	CreatedAt     string  `json:"created_at"`
	ConfirmedAt   *string `json:"confirmed_at,omitempty"`
	StartedAt     *string `json:"started_at,omitempty"`
	CompletedAt   *string `json:"completed_at,omitempty"`
	CancelledAt   *string `json:"cancelled_at,omitempty"`
	UpdatedAt     string  `json:"updated_at"`
}

// resultResponse is the body of every money-moving call. Replays carry the
// stored outcome with replayed set.
type resultResponse struct {
	domain.ResultSnapshot
	Replayed bool `json:"replayed,omitempty"`
}

func NewBookingHandler(service BookingService, log logrus.FieldLogger) *BookingHandler {
	return &BookingHandler{service: service, log: log}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("/:id", h.get)
	router.POST("/:id/confirm-payment", h.confirmPayment)
	router.POST("/:id/refund", h.refund)
	router.POST("/:id/transitions", h.transition)
}

func (h *BookingHandler) create(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	var req createQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	b, err := h.service.CreateQuote(c.Request.Context(), reconcile.QuoteInput{
		Actor:       actor,
		TotalAmount: req.TotalAmount,
		Currency:    req.Currency,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, toBookingResponse(b))
}

func (h *BookingHandler) get(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	b, err := h.service.GetBooking(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) confirmPayment(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	key := c.GetHeader(idempotencyHeader)
	if key == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: idempotencyHeader + " header is required"})
		return
	}
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := h.service.ConfirmPayment(c.Request.Context(), reconcile.ConfirmPaymentInput{
		Actor:        actor,
		BookingID:    c.Param("id"),
		PaymentNonce: req.PaymentNonce,
		EventID:      key,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(outcomeStatus(res.Snapshot.Outcome), resultResponse{ResultSnapshot: res.Snapshot, Replayed: res.Replayed})
}

func (h *BookingHandler) refund(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	key := c.GetHeader(idempotencyHeader)
	if key == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: idempotencyHeader + " header is required"})
		return
	}
	var req refundRequest
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	res, err := h.service.RefundBooking(c.Request.Context(), reconcile.RefundInput{
		Actor:     actor,
		BookingID: c.Param("id"),
		Reason:    req.Reason,
		EventID:   key,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, resultResponse{ResultSnapshot: res.Snapshot, Replayed: res.Replayed})
}

func (h *BookingHandler) transition(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	b, err := h.service.AdvanceBooking(c.Request.Context(), reconcile.AdvanceInput{
		Actor:     actor,
		BookingID: c.Param("id"),
		Target:    domain.BookingStatus(req.Target),
		GuardID:   req.GuardID,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func outcomeStatus(outcome string) int {
	switch outcome {
	case domain.OutcomeDeclined:
		return http.StatusPaymentRequired
	case domain.OutcomePending:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	return bookingResponse{
		ID:            b.ID,
		ClientID:      b.ClientID,
		GuardID:       b.GuardID,
		Status:        string(b.Status),
		Currency:      b.Currency,
		TotalAmount:   b.TotalAmount,
		ProcessingFee: b.ProcessingFee,
		PlatformCut:   b.PlatformCut,
		GuardPayout:   b.GuardPayout,
		PaymentRef:    b.PaymentRef,
		RefundRef:     b.RefundRef,
		CreatedAt:     b.CreatedAt.Format(time.RFC3339),
		ConfirmedAt:   formatTime(b.ConfirmedAt),
		StartedAt:     formatTime(b.StartedAt),
		CompletedAt:   formatTime(b.CompletedAt),
		CancelledAt:   formatTime(b.CancelledAt),
		UpdatedAt:     b.UpdatedAt.Format(time.RFC3339),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
