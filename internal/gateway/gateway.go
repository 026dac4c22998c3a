// Package gateway talks to the payment provider. Every call is bounded by a
// timeout and every failure is normalized into the domain error kinds, so the
// engine never sees provider-specific errors. The adapter does not retry.
package gateway

import (
	"context"
	"strings"

	"github.com/Domenick1991/guardbooking/internal/domain"
)

type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargePending   ChargeStatus = "pending"
	ChargeFailed    ChargeStatus = "failed"
)

type RefundStatus string

const (
	RefundSucceeded RefundStatus = "succeeded"
	RefundPending   RefundStatus = "pending"
)

type ChargeRequest struct {
	Amount   int64
	Currency string
	// Source is a one-time card token, a source id, or a saved card id when
	// CustomerID is set.
	Source     string
	CustomerID string
	Metadata   map[string]string
}

type ChargeResult struct {
	GatewayTransactionID string
	Status               ChargeStatus
	FailureCode          string
	FailureMessage       string
}

type RefundResult struct {
	GatewayRefundID string
	Status          RefundStatus
}

// ClientToken is what a client needs to tokenize a card against the
// provider. It never contains the secret key.
type ClientToken struct {
	CustomerID     string `json:"customer_id"`
	PublishableKey string `json:"publishable_key"`
}

type Gateway interface {
	// CustomerToken creates the provider customer when customerID is empty.
	CustomerToken(ctx context.Context, customerID, clientID string) (ClientToken, error)
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	// Refund returns amount minor units of the charge; amount must be positive.
	Refund(ctx context.Context, gatewayTransactionID string, amount int64) (RefundResult, error)
	AttachPaymentMethod(ctx context.Context, customerID, methodToken string) (domain.SavedPaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, customerID, methodID string) error
}

// declineMessages turns provider failure codes into text a client can act
// on. Unknown codes fall back to the provider's own message.
var declineMessages = map[string]string{
	"insufficient_fund":         "card declined: insufficient funds",
	"insufficient_funds":        "card declined: insufficient funds",
	"stolen_or_lost_card":       "card declined: card reported lost or stolen",
	"failed_processing":         "card declined",
	"payment_rejected":          "card declined",
	"invalid_security_code":     "card declined: invalid security code",
	"failed_fraud_check":        "card declined",
	"invalid_account_number":    "card declined: invalid card number",
	"confirmed_amount_mismatch": "card declined: amount mismatch",
	"invalid_card":              "card declined: invalid card",
	"expired_card":              "card declined: card expired",
}

// DeclineMessage returns the client-facing message for a failed charge.
func DeclineMessage(code, providerMessage string) string {
	if msg, ok := declineMessages[code]; ok {
		return msg
	}
	if strings.HasPrefix(providerMessage, "card declined") {
		return providerMessage
	}
	if providerMessage != "" {
		return "card declined: " + providerMessage
	}
	return "card declined"
}
