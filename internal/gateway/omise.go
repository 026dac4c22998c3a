package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/Domenick1991/guardbooking/internal/gateway")

type OmiseGateway struct {
	client    *omise.Client
	publicKey string
	timeout   time.Duration
}

func NewOmiseGateway(publicKey, secretKey string, timeout time.Duration) (*OmiseGateway, error) {
	if publicKey == "" || secretKey == "" {
		return nil, domain.Configuration(errors.New("gateway public and secret keys are required"))
	}
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, domain.Configuration(err)
	}
	return &OmiseGateway{client: client, publicKey: publicKey, timeout: timeout}, nil
}

func (g *OmiseGateway) CustomerToken(ctx context.Context, customerID, clientID string) (ClientToken, error) {
	if customerID == "" {
		cust := &omise.Customer{}
		op := &operations.CreateCustomer{Description: "client " + clientID}
		if err := g.call(ctx, "gateway.CreateCustomer", func() error { return g.client.Do(cust, op) }); err != nil {
			return ClientToken{}, err
		}
		customerID = cust.ID
	}
	return ClientToken{CustomerID: customerID, PublishableKey: g.publicKey}, nil
}

func (g *OmiseGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if req.Amount <= 0 || req.Source == "" {
		return ChargeResult{}, domain.Validation("charge needs a positive amount and a payment source")
	}
	meta := make(map[string]interface{}, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	op := &operations.CreateCharge{
		Amount:   req.Amount,
		Currency: strings.ToLower(req.Currency),
		Metadata: meta,
	}
	switch {
	case req.CustomerID != "":
		op.Customer = req.CustomerID
		op.Card = req.Source
	case strings.HasPrefix(req.Source, "src_"):
		op.Source = req.Source
	default:
		op.Card = req.Source
	}

	ch := &omise.Charge{}
	if err := g.call(ctx, "gateway.Charge", func() error { return g.client.Do(ch, op) }); err != nil {
		return ChargeResult{}, err
	}

	res := ChargeResult{GatewayTransactionID: ch.ID}
	switch string(ch.Status) {
	case "successful":
		res.Status = ChargeSucceeded
	case "failed", "expired", "reversed":
		res.Status = ChargeFailed
		if ch.FailureCode != nil {
			res.FailureCode = *ch.FailureCode
		}
		if ch.FailureMessage != nil {
			res.FailureMessage = *ch.FailureMessage
		}
	default:
		// pending or awaiting authorization; the webhook settles it
		res.Status = ChargePending
	}
	return res, nil
}

func (g *OmiseGateway) Refund(ctx context.Context, gatewayTransactionID string, amount int64) (RefundResult, error) {
	if gatewayTransactionID == "" || amount <= 0 {
		return RefundResult{}, domain.Validation("refund needs a charge id and a positive amount")
	}
	refund := &omise.Refund{}
	op := &operations.CreateRefund{ChargeID: gatewayTransactionID, Amount: amount}
	if err := g.call(ctx, "gateway.Refund", func() error { return g.client.Do(refund, op) }); err != nil {
		return RefundResult{}, err
	}
	return RefundResult{GatewayRefundID: refund.ID, Status: RefundSucceeded}, nil
}

func (g *OmiseGateway) AttachPaymentMethod(ctx context.Context, customerID, methodToken string) (domain.SavedPaymentMethod, error) {
	if customerID == "" || methodToken == "" {
		return domain.SavedPaymentMethod{}, domain.Validation("customer id and card token are required")
	}
	cust := &omise.Customer{}
	op := &operations.UpdateCustomer{CustomerID: customerID, Card: methodToken}
	if err := g.call(ctx, "gateway.AttachCard", func() error { return g.client.Do(cust, op) }); err != nil {
		return domain.SavedPaymentMethod{}, err
	}
	if cust.Cards == nil || len(cust.Cards.Data) == 0 {
		return domain.SavedPaymentMethod{}, domain.GatewayUnavailable(errors.New("customer has no cards after attach"))
	}
	// cards are listed oldest first
	card := cust.Cards.Data[len(cust.Cards.Data)-1]
	return domain.SavedPaymentMethod{
		ID:         card.ID,
		CustomerID: customerID,
		Brand:      card.Brand,
		Last4:      card.LastDigits,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (g *OmiseGateway) DetachPaymentMethod(ctx context.Context, customerID, methodID string) error {
	del := &omise.Deletion{}
	op := &operations.DestroyCard{CustomerID: customerID, CardID: methodID}
	return g.call(ctx, "gateway.DetachCard", func() error { return g.client.Do(del, op) })
}

// call runs fn under the configured timeout. Client.WithContext sets the
// context on the shared client, so it cannot carry per-call deadlines for
// concurrent requests; on timeout fn keeps running and its result is dropped.
func (g *OmiseGateway) call(ctx context.Context, name string, fn func() error) error {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	var err error
	select {
	case err = <-done:
		err = classify(err)
	case <-ctx.Done():
		err = domain.GatewayUnavailable(fmt.Errorf("%s: %w", name, ctx.Err()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("gateway.error_kind", string(domain.KindOf(err))))
	}
	return err
}

// classify maps SDK errors onto the domain kinds: credential problems are
// configuration errors, other 4xx are declines, everything else is transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var transportErr *omise.ErrTransport
	if errors.As(err, &transportErr) {
		return domain.GatewayUnavailable(err)
	}
	var apiErr *omise.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return domain.Configuration(err)
		case apiErr.StatusCode >= 500:
			return domain.GatewayUnavailable(err)
		case apiErr.StatusCode >= 400:
			return domain.GatewayRejected(apiErr.Code, DeclineMessage(apiErr.Code, apiErr.Message), err)
		}
	}
	return domain.GatewayUnavailable(err)
}

var _ Gateway = (*OmiseGateway)(nil)
