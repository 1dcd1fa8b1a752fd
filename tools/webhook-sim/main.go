// webhook-sim posts signed card (Stripe-shaped) and mobile-money payloads at
// a locally running booking service, for exercising the reconciliation path
// without a real gateway.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	var (
		baseURL    = flag.String("base-url", getenv("BASE_URL", "http://localhost:8083"), "booking service base url")
		gateway    = flag.String("gateway", getenv("GATEWAY", "card"), "card or momo")
		kind       = flag.String("kind", getenv("PAYMENT_KIND", "appointment"), "appointment or subscription")
		business   = flag.String("business-id", getenv("BUSINESS_ID", ""), "business_id metadata")
		clientRef  = flag.String("client-ref", getenv("CLIENT_REF", "sim-client@kalenda.local"), "client_ref metadata")
		service    = flag.String("service-id", getenv("SERVICE_ID", ""), "service_id metadata")
		date       = flag.String("date", getenv("APPOINTMENT_DATE", ""), "appointment_date metadata (YYYY-MM-DD)")
		hhmm       = flag.String("time", getenv("APPOINTMENT_TIME", "10:00"), "appointment_time metadata (HH:MM)")
		userID     = flag.String("user-id", getenv("USER_ID", ""), "user_id metadata (subscription kind)")
		plan       = flag.String("plan", getenv("PLAN", "pro"), "plan metadata (subscription kind)")
		amount     = flag.String("amount", getenv("AMOUNT", "1250.00"), "amount, major units")
		currency   = flag.String("currency", getenv("CURRENCY", "KES"), "currency code")
		txID       = flag.String("transaction-id", "", "external transaction id (default: generated)")
		cardSecret = flag.String("card-secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
		momoSecret = flag.String("momo-secret", getenv("MOMO_WEBHOOK_SECRET", ""), "momo hmac secret")
	)
	flag.Parse()

	now := time.Now().UTC()
	id := strings.TrimSpace(*txID)
	if id == "" {
		id = "sim_" + uuid.NewString()
	}

	meta := map[string]string{}
	switch *kind {
	case "appointment":
		if strings.TrimSpace(*business) == "" || strings.TrimSpace(*service) == "" || strings.TrimSpace(*date) == "" {
			fatal("BUSINESS_ID, SERVICE_ID and APPOINTMENT_DATE are required for appointment payments")
		}
		meta["business_id"] = *business
		meta["client_ref"] = *clientRef
		meta["service_id"] = *service
		meta["appointment_date"] = *date
		meta["appointment_time"] = *hhmm
	case "subscription":
		if strings.TrimSpace(*userID) == "" {
			fatal("USER_ID is required for subscription payments")
		}
		meta["user_id"] = *userID
		meta["plan"] = *plan
	default:
		fatal("kind must be appointment or subscription")
	}

	var (
		path string
		body []byte
		hdr  http.Header = http.Header{}
		err  error
	)
	switch *gateway {
	case "card":
		if strings.TrimSpace(*cardSecret) == "" {
			fatal("STRIPE_WEBHOOK_SECRET is required for the card gateway")
		}
		body, err = buildCardEvent(id, now, *amount, *currency, meta)
		if err != nil {
			fatal(err.Error())
		}
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   body,
			Secret:    *cardSecret,
			Timestamp: now,
			Scheme:    "v1",
		})
		hdr.Set("Stripe-Signature", signed.Header)
		path = "/api/v1/webhooks/card"
	case "momo":
		if strings.TrimSpace(*momoSecret) == "" {
			fatal("MOMO_WEBHOOK_SECRET is required for the momo gateway")
		}
		body, err = json.Marshal(map[string]any{
			"transaction_id": id,
			"status":         "SUCCESS",
			"amount":         *amount,
			"currency":       *currency,
			"msisdn":         "254700000001",
			"timestamp":      now.Format(time.RFC3339),
			"metadata":       meta,
		})
		if err != nil {
			fatal(err.Error())
		}
		mac := hmac.New(sha256.New, []byte(*momoSecret))
		mac.Write(body)
		hdr.Set("X-Momo-Signature", hex.EncodeToString(mac.Sum(nil)))
		path = "/api/v1/webhooks/momo"
	default:
		fatal("gateway must be card or momo")
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		fatal(err.Error())
	}
	req.Header = hdr
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	fmt.Printf("transaction_id=%s status=%d\n", id, resp.StatusCode)
}

// buildCardEvent shapes a minimal payment_intent.succeeded event; amounts are
// converted to minor units the way the card gateway reports them.
func buildCardEvent(id string, t time.Time, amount, currency string, meta map[string]string) ([]byte, error) {
	minor, err := toMinor(amount)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"id":          fmt.Sprintf("evt_%s", id),
		"object":      "event",
		"created":     t.Unix(),
		"type":        "payment_intent.succeeded",
		"api_version": "2020-08-27",
		"data": map[string]any{
			"object": map[string]any{
				"id":       id,
				"object":   "payment_intent",
				"amount":   minor,
				"currency": strings.ToLower(currency),
				"metadata": meta,
			},
		},
	})
}

func toMinor(amount string) (int64, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(amount), ".")
	for len(frac) < 2 {
		frac += "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	var minor int64
	if _, err := fmt.Sscanf(whole+frac, "%d", &minor); err != nil {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	return minor, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
