package reconcile

import (
	"context"
	"errors"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/Domenick1991/guardbooking/internal/gateway"
	"github.com/Domenick1991/guardbooking/internal/repository"
	"github.com/sirupsen/logrus"
)

// ClientToken returns what the client SDK needs to tokenize a card, creating
// the provider customer on first use.
func (e *Engine) ClientToken(ctx context.Context, actor domain.Actor) (gateway.ClientToken, error) {
	if err := e.admit(ctx, actor.ID, ActionPaymentMethod); err != nil {
		return gateway.ClientToken{}, err
	}
	return e.customerToken(ctx, actor)
}

func (e *Engine) customerToken(ctx context.Context, actor domain.Actor) (gateway.ClientToken, error) {
	customerID, err := e.methods.GetCustomerID(ctx, actor.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return gateway.ClientToken{}, err
	}
	tok, err := e.gateway.CustomerToken(ctx, customerID, actor.ID)
	if err != nil {
		return gateway.ClientToken{}, err
	}
	if customerID == "" {
		if err := e.methods.SaveCustomerID(ctx, actor.ID, tok.CustomerID); err != nil {
			return gateway.ClientToken{}, err
		}
		// a concurrent first call may have won; use whatever was stored
		if stored, err := e.methods.GetCustomerID(ctx, actor.ID); err == nil {
			tok.CustomerID = stored
		}
	}
	return tok, nil
}

func (e *Engine) AttachPaymentMethod(ctx context.Context, actor domain.Actor, cardToken string) (*domain.SavedPaymentMethod, error) {
	if err := e.admit(ctx, actor.ID, ActionPaymentMethod); err != nil {
		return nil, err
	}
	if cardToken == "" {
		return nil, domain.Validation("card token is required")
	}
	tok, err := e.customerToken(ctx, actor)
	if err != nil {
		return nil, err
	}
	m, err := e.gateway.AttachPaymentMethod(ctx, tok.CustomerID, cardToken)
	if err != nil {
		return nil, err
	}
	m.ClientID = actor.ID
	if err := e.methods.Save(ctx, m); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"client_id": actor.ID, "method_id": m.ID}).Info("payment method attached")
	return e.methods.Get(ctx, actor.ID, m.ID)
}

func (e *Engine) DetachPaymentMethod(ctx context.Context, actor domain.Actor, methodID string) error {
	if err := e.admit(ctx, actor.ID, ActionPaymentMethod); err != nil {
		return err
	}
	m, err := e.methods.Get(ctx, actor.ID, methodID)
	if err != nil {
		return methodErr(err, methodID)
	}
	if err := e.gateway.DetachPaymentMethod(ctx, m.CustomerID, m.ID); err != nil {
		return err
	}
	return methodErr(e.methods.Delete(ctx, actor.ID, methodID), methodID)
}

// SetDefaultPaymentMethod is local only; the provider is not told.
func (e *Engine) SetDefaultPaymentMethod(ctx context.Context, actor domain.Actor, methodID string) error {
	if err := e.admit(ctx, actor.ID, ActionPaymentMethod); err != nil {
		return err
	}
	return methodErr(e.methods.SetDefault(ctx, actor.ID, methodID), methodID)
}

func (e *Engine) ListPaymentMethods(ctx context.Context, actor domain.Actor) ([]domain.SavedPaymentMethod, error) {
	return e.methods.List(ctx, actor.ID)
}

func methodErr(err error, methodID string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.NotFound("payment method", methodID)
	}
	return err
}
