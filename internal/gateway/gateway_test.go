package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/omise/omise-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","kind":"charge.succeeded"}`)
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name    string
		header  string
		secret  string
		wantErr error
	}{
		{name: "bare hex", header: SignRaw(payload, testSecret), secret: testSecret},
		{name: "timestamped", header: Sign(payload, testSecret, now.Add(-time.Minute)), secret: testSecret},
		{name: "wrong secret", header: SignRaw(payload, "other"), secret: testSecret, wantErr: domain.ErrSignatureInvalid},
		{name: "stale timestamp", header: Sign(payload, testSecret, now.Add(-time.Hour)), secret: testSecret, wantErr: domain.ErrSignatureInvalid},
		{name: "missing header", header: "", secret: testSecret, wantErr: domain.ErrSignatureInvalid},
		{name: "not hex", header: "zzzz", secret: testSecret, wantErr: domain.ErrSignatureInvalid},
		{name: "no v1", header: "t=1700000000", secret: testSecret, wantErr: domain.ErrSignatureInvalid},
		{name: "secret not configured", header: SignRaw(payload, testSecret), secret: "", wantErr: domain.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(payload, tt.header, tt.secret, 5*time.Minute, now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifySignature_TamperedPayload(t *testing.T) {
	now := time.Unix(1700000000, 0)
	header := Sign([]byte(`{"id":"evt_1","data":{"amount":100}}`), testSecret, now)

	err := VerifySignature([]byte(`{"id":"evt_1","data":{"amount":1}}`), header, testSecret, time.Minute, now)

	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
}

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, ev WebhookEvent)
	}{
		{
			name:    "charge succeeded",
			payload: `{"id":"evt_1","kind":"charge.succeeded","data":{"gateway_transaction_id":"chrg_1","booking_id":"b1","amount":10000,"currency":"usd"}}`,
			check: func(t *testing.T, ev WebhookEvent) {
				e, ok := ev.(ChargeSucceededEvent)
				require.True(t, ok)
				assert.Equal(t, "evt_1", e.EventID())
				assert.Equal(t, "chrg_1", e.GatewayTransactionID)
				assert.Equal(t, "b1", e.BookingID)
				assert.Equal(t, int64(10000), e.Amount)
				assert.Equal(t, "USD", e.Currency)
			},
		},
		{
			name:    "provider charge.complete failed with metadata",
			payload: `{"id":"evt_2","key":"charge.complete","data":{"charge_id":"chrg_2","status":"failed","failure_code":"insufficient_fund","metadata":{"booking_id":"b2"}}}`,
			check: func(t *testing.T, ev WebhookEvent) {
				e, ok := ev.(ChargeFailedEvent)
				require.True(t, ok)
				assert.Equal(t, "chrg_2", e.GatewayTransactionID)
				assert.Equal(t, "b2", e.BookingID)
				assert.Equal(t, "insufficient_fund", e.FailureCode)
			},
		},
		{
			name:    "dispute",
			payload: `{"id":"evt_3","kind":"dispute.opened","data":{"gateway_transaction_id":"chrg_3","dispute_id":"dspt_1"}}`,
			check: func(t *testing.T, ev WebhookEvent) {
				e, ok := ev.(DisputeOpenedEvent)
				require.True(t, ok)
				assert.Equal(t, "dspt_1", e.DisputeID)
			},
		},
		{
			name:    "refund settled",
			payload: `{"id":"evt_4","kind":"refund.settled","data":{"gateway_transaction_id":"chrg_4","refund_id":"rfnd_1","amount":500}}`,
			check: func(t *testing.T, ev WebhookEvent) {
				e, ok := ev.(RefundSettledEvent)
				require.True(t, ok)
				assert.Equal(t, "rfnd_1", e.GatewayRefundID)
				assert.Equal(t, int64(500), e.Amount)
			},
		},
		{
			name:    "recurring",
			payload: `{"id":"evt_5","kind":"subscription.renewed"}`,
			check: func(t *testing.T, ev WebhookEvent) {
				_, ok := ev.(RecurringEvent)
				assert.True(t, ok)
			},
		},
		{
			name:    "unknown",
			payload: `{"id":"evt_6","kind":"customer.update"}`,
			check: func(t *testing.T, ev WebhookEvent) {
				_, ok := ev.(UnknownEvent)
				assert.True(t, ok)
				assert.Equal(t, "customer.update", ev.Kind())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseWebhook([]byte(tt.payload))
			require.NoError(t, err)
			tt.check(t, ev)
		})
	}
}

func TestParseWebhook_Rejects(t *testing.T) {
	_, err := ParseWebhook([]byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = ParseWebhook([]byte(`{"kind":"charge.succeeded"}`))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestParseWebhook_ProviderObjectShapes(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantType    WebhookEvent
		wantCharge  string
		wantBooking string
		check       func(t *testing.T, ev WebhookEvent)
	}{
		{
			name: "charge.complete successful charge object",
			payload: `{"object":"event","id":"evnt_test_1","key":"charge.complete","created_at":"2026-10-01T09:21:29Z",
				"data":{"object":"charge","id":"chrg_test_1","livemode":false,"amount":10000,"currency":"thb","status":"successful",
				"paid":true,"failure_code":null,"failure_message":null,"metadata":{"booking_id":"b-1","attempt":2,"tags":["x"]}}}`,
			wantType:    ChargeSucceededEvent{},
			wantCharge:  "chrg_test_1",
			wantBooking: "b-1",
			check: func(t *testing.T, ev WebhookEvent) {
				e := ev.(ChargeSucceededEvent)
				assert.Equal(t, "THB", e.Currency)
				assert.Equal(t, time.Date(2026, 10, 1, 9, 21, 29, 0, time.UTC), e.OccurredAt.UTC())
			},
		},
		{
			name: "charge.complete failed charge object",
			payload: `{"object":"event","id":"evnt_test_2","key":"charge.complete",
				"data":{"object":"charge","id":"chrg_test_2","status":"failed","failure_code":"insufficient_fund",
				"failure_message":"insufficient funds in the account","metadata":{"booking_id":"b-2"}}}`,
			wantType:    ChargeFailedEvent{},
			wantCharge:  "chrg_test_2",
			wantBooking: "b-2",
			check: func(t *testing.T, ev WebhookEvent) {
				assert.Equal(t, "insufficient_fund", ev.(ChargeFailedEvent).FailureCode)
			},
		},
		{
			name: "refund.create refund object",
			payload: `{"object":"event","id":"evnt_test_3","key":"refund.create",
				"data":{"object":"refund","id":"rfnd_test_1","amount":4000,"currency":"thb","charge":"chrg_test_3","transaction":"trxn_1","metadata":{}}}`,
			wantType:    RefundSettledEvent{},
			wantCharge:  "chrg_test_3",
			check: func(t *testing.T, ev WebhookEvent) {
				e := ev.(RefundSettledEvent)
				assert.Equal(t, "rfnd_test_1", e.GatewayRefundID)
				assert.Equal(t, int64(4000), e.Amount)
			},
		},
		{
			name: "dispute.create dispute object",
			payload: `{"object":"event","id":"evnt_test_4","key":"dispute.create",
				"data":{"object":"dispute","id":"dspt_test_1","amount":10000,"currency":"thb","status":"open","charge":"chrg_test_4"}}`,
			wantType:    DisputeOpenedEvent{},
			wantCharge:  "chrg_test_4",
			check: func(t *testing.T, ev WebhookEvent) {
				assert.Equal(t, "dspt_test_1", ev.(DisputeOpenedEvent).DisputeID)
			},
		},
		{
			name: "numeric booking id in metadata",
			payload: `{"id":"evnt_test_5","key":"charge.complete",
				"data":{"object":"charge","id":"chrg_test_5","status":"successful","metadata":{"booking_id":12345}}}`,
			wantType:    ChargeSucceededEvent{},
			wantCharge:  "chrg_test_5",
			wantBooking: "12345",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseWebhook([]byte(tt.payload))
			require.NoError(t, err)
			require.IsType(t, tt.wantType, ev)

			var ref ChargeRef
			switch e := ev.(type) {
			case ChargeSucceededEvent:
				ref = e.ChargeRef
			case ChargeFailedEvent:
				ref = e.ChargeRef
			case RefundSettledEvent:
				ref = e.ChargeRef
			case DisputeOpenedEvent:
				ref = e.ChargeRef
			}
			assert.Equal(t, tt.wantCharge, ref.GatewayTransactionID)
			assert.Equal(t, tt.wantBooking, ref.BookingID)
			if tt.check != nil {
				tt.check(t, ev)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"declined", &omise.Error{StatusCode: http.StatusPaymentRequired, Code: "invalid_card", Message: "card is invalid"}, domain.KindGatewayRejected},
		{"bad request", &omise.Error{StatusCode: http.StatusBadRequest, Code: "bad_request"}, domain.KindGatewayRejected},
		{"bad key", &omise.Error{StatusCode: http.StatusUnauthorized, Code: "authentication_failure"}, domain.KindConfiguration},
		{"provider down", &omise.Error{StatusCode: http.StatusBadGateway}, domain.KindGatewayUnavailable},
		{"unreadable body", &omise.ErrTransport{Err: errors.New("unexpected EOF"), Buffer: []byte("<html>")}, domain.KindGatewayUnavailable},
		{"wrapped decline", fmt.Errorf("charge: %w", &omise.Error{StatusCode: http.StatusPaymentRequired, Code: "insufficient_fund"}), domain.KindGatewayRejected},
		{"network", errors.New("dial tcp: connection refused"), domain.KindGatewayUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.KindOf(classify(tt.err)))
		})
	}
	assert.NoError(t, classify(nil))
}

func TestDeclineMessage(t *testing.T) {
	assert.Equal(t, "card declined: insufficient funds", DeclineMessage("insufficient_fund", "whatever"))
	assert.Equal(t, "card declined: do not honor", DeclineMessage("unlisted", "do not honor"))
	assert.Equal(t, "card declined", DeclineMessage("", ""))
}

func TestOmiseGateway_CallTimesOutAsUnavailable(t *testing.T) {
	g := &OmiseGateway{timeout: 20 * time.Millisecond}
	release := make(chan struct{})
	defer close(release)

	err := g.call(context.Background(), "gateway.Charge", func() error {
		<-release
		return nil
	})

	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.True(t, domain.IsRetryable(err))
}

func TestNewOmiseGateway_RequiresKeys(t *testing.T) {
	_, err := NewOmiseGateway("", "skey_test", time.Second)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
