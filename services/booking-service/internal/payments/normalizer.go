package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"

	"github.com/tmwangi/kalenda/services/booking-service/internal/booking"
)

// NormalizeCard maps a verified Stripe event to a PaymentEvent. Only
// payment_intent.succeeded carries money we act on; failures, refunds and
// everything else come back KindIgnored.
func NormalizeCard(evt stripe.Event) (PaymentEvent, error) {
	out := PaymentEvent{
		Gateway:    "card",
		Kind:       KindIgnored,
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
	}
	if evt.Type != "payment_intent.succeeded" {
		return out, nil
	}
	if evt.Data == nil {
		return PaymentEvent{}, booking.Invalid("payload", "event data missing")
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return PaymentEvent{}, booking.Invalid("payload", "malformed payment intent")
	}
	if strings.TrimSpace(pi.ID) == "" {
		return PaymentEvent{}, booking.Invalid("transaction_id", "required")
	}

	meta := make(map[string]string, len(pi.Metadata))
	for k, v := range pi.Metadata {
		meta[k] = strings.TrimSpace(v)
	}

	out.ExternalTransactionID = pi.ID
	out.Kind = discriminate(meta)
	out.AmountMinor = pi.Amount
	out.Currency = strings.ToUpper(string(pi.Currency))
	out.Meta = meta
	return out, nil
}

// momoCallback is the mobile-money gateway's JSON shape. Amounts arrive as
// major-unit decimal strings.
type momoCallback struct {
	TransactionID string            `json:"transaction_id"`
	Reference     string            `json:"reference"`
	Status        string            `json:"status"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	Msisdn        string            `json:"msisdn"`
	Timestamp     string            `json:"timestamp"`
	Metadata      map[string]string `json:"metadata"`
}

// NormalizeMomo parses a mobile-money callback body. The caller has already
// verified the signature; receivedAt is used when the payload carries no
// timestamp.
func NormalizeMomo(body []byte, receivedAt time.Time) (PaymentEvent, error) {
	var cb momoCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return PaymentEvent{}, booking.Invalid("payload", "malformed callback body")
	}

	txID := strings.TrimSpace(cb.TransactionID)
	if txID == "" {
		txID = strings.TrimSpace(cb.Reference)
	}
	if txID == "" {
		return PaymentEvent{}, booking.Invalid("transaction_id", "transaction_id or reference required")
	}

	occurredAt := receivedAt.UTC()
	if ts, err := time.Parse(time.RFC3339, cb.Timestamp); err == nil {
		occurredAt = ts.UTC()
	}

	out := PaymentEvent{
		Gateway:               "momo",
		ExternalTransactionID: txID,
		Kind:                  KindIgnored,
		OccurredAt:            occurredAt,
	}
	if !strings.EqualFold(strings.TrimSpace(cb.Status), "SUCCESS") {
		return out, nil
	}

	amount, err := parseAmountMinor(cb.Amount)
	if err != nil {
		return PaymentEvent{}, booking.Invalid("amount", err.Error())
	}

	meta := make(map[string]string, len(cb.Metadata)+1)
	for k, v := range cb.Metadata {
		meta[k] = strings.TrimSpace(v)
	}
	if cb.Msisdn != "" {
		meta["msisdn"] = cb.Msisdn
	}

	out.Kind = discriminate(meta)
	out.AmountMinor = amount
	out.Currency = strings.ToUpper(strings.TrimSpace(cb.Currency))
	out.Meta = meta
	return out, nil
}

// VerifyMomoSignature checks the hex HMAC-SHA256 signature header the gateway
// computes over the raw request body.
func VerifyMomoSignature(body []byte, signature string, secret []byte) bool {
	sig, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

// discriminate picks the payment kind from normalized metadata: a full
// appointment triple means an appointment payment, anything else pays for a
// subscription.
func discriminate(meta map[string]string) Kind {
	if meta["service_id"] != "" && meta["appointment_date"] != "" && meta["appointment_time"] != "" {
		return KindAppointment
	}
	return KindSubscription
}

// parseAmountMinor converts a major-unit decimal string ("1250", "1250.5",
// "1250.50") to minor units, assuming two decimal places.
func parseAmountMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	whole, frac, _ := strings.Cut(s, ".")
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	switch len(frac) {
	case 0:
		frac = "00"
	case 1:
		frac += "0"
	case 2:
	default:
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return major*100 + cents, nil
}
