package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"

	"github.com/tmwangi/kalenda/services/booking-service/internal/booking"
)

func stripeEvent(t *testing.T, evtType string, intent map[string]any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(intent)
	if err != nil {
		t.Fatal(err)
	}
	return stripe.Event{
		Type:    stripe.EventType(evtType),
		Created: time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC).Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
}

func TestNormalizeCard_AppointmentIntent(t *testing.T) {
	evt, err := NormalizeCard(stripeEvent(t, "payment_intent.succeeded", map[string]any{
		"id":       "pi_123",
		"amount":   5000,
		"currency": "kes",
		"metadata": map[string]string{
			"business_id":      "biz-1",
			"client_ref":       "client-1",
			"service_id":       "svc-1",
			"appointment_date": "2026-09-10",
			"appointment_time": "10:00",
		},
	}))
	if err != nil {
		t.Fatalf("NormalizeCard: %v", err)
	}
	if evt.Kind != KindAppointment {
		t.Fatalf("expected appointment kind, got %s", evt.Kind)
	}
	if evt.ExternalTransactionID != "pi_123" || evt.AmountMinor != 5000 || evt.Currency != "KES" {
		t.Fatalf("unexpected normalization: %+v", evt)
	}
	if evt.Gateway != "card" {
		t.Fatalf("gateway must be card, got %q", evt.Gateway)
	}
}

func TestNormalizeCard_SubscriptionIntent(t *testing.T) {
	evt, err := NormalizeCard(stripeEvent(t, "payment_intent.succeeded", map[string]any{
		"id":       "pi_456",
		"amount":   2000,
		"currency": "usd",
		"metadata": map[string]string{"user_id": "user-1", "plan": "pro"},
	}))
	if err != nil {
		t.Fatalf("NormalizeCard: %v", err)
	}
	if evt.Kind != KindSubscription {
		t.Fatalf("metadata without the appointment triple must be a subscription, got %s", evt.Kind)
	}
}

func TestNormalizeCard_FailureIgnored(t *testing.T) {
	for _, evtType := range []string{"payment_intent.payment_failed", "charge.refunded", "charge.dispute.created"} {
		evt, err := NormalizeCard(stripeEvent(t, evtType, map[string]any{"id": "pi_x"}))
		if err != nil {
			t.Fatalf("%s: %v", evtType, err)
		}
		if evt.Kind != KindIgnored {
			t.Fatalf("%s must be ignored, got %s", evtType, evt.Kind)
		}
	}
}

func momoBody(t *testing.T, v map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNormalizeMomo_Success(t *testing.T) {
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	evt, err := NormalizeMomo(momoBody(t, map[string]any{
		"transaction_id": "MM1001",
		"status":         "SUCCESS",
		"amount":         "1250.50",
		"currency":       "kes",
		"msisdn":         "254700000001",
		"metadata": map[string]string{
			"business_id":      "biz-1",
			"client_ref":       "client-1",
			"service_id":       "svc-1",
			"appointment_date": "2026-09-10",
			"appointment_time": "10:00",
		},
	}), now)
	if err != nil {
		t.Fatalf("NormalizeMomo: %v", err)
	}
	if evt.Kind != KindAppointment || evt.Gateway != "momo" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.AmountMinor != 125050 {
		t.Fatalf("1250.50 must be 125050 minor units, got %d", evt.AmountMinor)
	}
	if evt.Currency != "KES" || evt.Meta["msisdn"] != "254700000001" {
		t.Fatalf("unexpected normalization: %+v", evt)
	}
	if !evt.OccurredAt.Equal(now) {
		t.Fatalf("missing timestamp must fall back to receipt time, got %s", evt.OccurredAt)
	}
}

func TestNormalizeMomo_ReferenceFallback(t *testing.T) {
	evt, err := NormalizeMomo(momoBody(t, map[string]any{
		"reference": "REF-22",
		"status":    "SUCCESS",
		"amount":    "100",
		"currency":  "KES",
		"metadata":  map[string]string{"user_id": "user-1"},
	}), time.Now())
	if err != nil {
		t.Fatalf("NormalizeMomo: %v", err)
	}
	if evt.ExternalTransactionID != "REF-22" {
		t.Fatalf("reference must back up transaction_id, got %q", evt.ExternalTransactionID)
	}
	if evt.Kind != KindSubscription {
		t.Fatalf("expected subscription kind, got %s", evt.Kind)
	}
}

func TestNormalizeMomo_MissingIDRejected(t *testing.T) {
	_, err := NormalizeMomo(momoBody(t, map[string]any{
		"status": "SUCCESS", "amount": "100", "currency": "KES",
	}), time.Now())
	var vErr *booking.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestNormalizeMomo_FailureIgnored(t *testing.T) {
	evt, err := NormalizeMomo(momoBody(t, map[string]any{
		"transaction_id": "MM1002", "status": "FAILED", "amount": "100", "currency": "KES",
	}), time.Now())
	if err != nil {
		t.Fatalf("NormalizeMomo: %v", err)
	}
	if evt.Kind != KindIgnored {
		t.Fatalf("failed status must be ignored, got %s", evt.Kind)
	}
	if evt.ExternalTransactionID != "MM1002" {
		t.Fatal("ignored events still carry the transaction id for logging")
	}
}

func TestParseAmountMinor(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1250", 125000, false},
		{"1250.5", 125050, false},
		{"1250.50", 125050, false},
		{"0.01", 1, false},
		{" 12.34 ", 1234, false},
		{"", 0, true},
		{"-5", 0, true},
		{"1.234", 0, true},
		{"abc", 0, true},
		{"12.x", 0, true},
	}
	for _, tc := range cases {
		got, err := parseAmountMinor(tc.in)
		if tc.wantErr != (err != nil) {
			t.Fatalf("%q: err = %v, wantErr = %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("%q: got %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestVerifyMomoSignature(t *testing.T) {
	secret := []byte("momo-test-secret")
	body := []byte(`{"transaction_id":"MM1001"}`)

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	if !VerifyMomoSignature(body, sig, secret) {
		t.Fatal("valid signature rejected")
	}
	if VerifyMomoSignature(body, sig, []byte("other-secret")) {
		t.Fatal("signature with wrong secret accepted")
	}
	if VerifyMomoSignature([]byte(`{"transaction_id":"MM1002"}`), sig, secret) {
		t.Fatal("signature over different body accepted")
	}
	if VerifyMomoSignature(body, "not-hex", secret) {
		t.Fatal("malformed signature accepted")
	}
}
