package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tmwangi/kalenda/libs/config"
	"github.com/tmwangi/kalenda/libs/db"
	"github.com/tmwangi/kalenda/libs/httpx"
	"github.com/tmwangi/kalenda/libs/kafkax"
	otelx "github.com/tmwangi/kalenda/libs/otel"
	"github.com/tmwangi/kalenda/libs/runtime"
	"github.com/tmwangi/kalenda/services/notification-service/internal/consumer"
	"github.com/tmwangi/kalenda/services/notification-service/internal/email"
	"github.com/tmwangi/kalenda/services/notification-service/internal/inbox"
	"github.com/tmwangi/kalenda/services/notification-service/internal/outbox"
	"github.com/tmwangi/kalenda/services/notification-service/internal/sms"
	"github.com/tmwangi/kalenda/services/notification-service/internal/storage"
)

// appointmentPayload matches the booking.appointment.*.v1 events.
type appointmentPayload struct {
	AppointmentID string `json:"appointment_id"`
	BusinessID    string `json:"business_id"`
	ServiceID     string `json:"service_id"`
	ClientRef     string `json:"client_ref"`
	EmployeeRef   string `json:"employee_ref"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

// subscriptionPayload matches the billing.subscription.*.v1 events.
type subscriptionPayload struct {
	SubscriptionID string `json:"subscription_id"`
	UserID         string `json:"user_id"`
	PlanName       string `json:"plan_name"`
	RenewalAt      string `json:"renewal_at"`
}

// channelFor picks the delivery channel from the contact handle: an address
// with "@" goes by email, a phone-looking handle by SMS.
func channelFor(contact string) string {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return ""
	}
	if strings.Contains(contact, "@") {
		return "email"
	}
	digits := strings.TrimPrefix(contact, "+")
	for _, r := range digits {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return "sms"
}

type app struct {
	pool   *db.Pool
	repo   *storage.Repository
	email  email.Sender
	sms    sms.Sender
	logger *slog.Logger
}

// deliver sends one message, records the audit row, and queues the
// sent/failed event. Delivery is fire-and-forget: failures are recorded,
// never retried against the provider.
func (a *app) deliver(ctx context.Context, eventType, entityID, businessID, contact, subject, body string, payload map[string]any) error {
	channel := channelFor(contact)

	status := "sent"
	failureReason := ""
	providerID := ""
	switch channel {
	case "email":
		if err := a.email.Send(contact, subject, body); err != nil {
			status = "failed"
			failureReason = err.Error()
			a.logger.Error("email send failed", "err", err, "recipient", contact)
		} else {
			providerID = "smtp"
		}
	case "sms":
		if err := a.sms.Send(ctx, contact, body); err != nil {
			status = "failed"
			failureReason = err.Error()
			a.logger.Error("sms send failed", "err", err, "recipient", contact)
		} else {
			providerID = a.sms.ProviderID()
		}
	default:
		status = "skipped"
	}

	if err := a.repo.Insert(ctx, storage.Notification{
		EntityID:   entityID,
		BusinessID: businessID,
		EventType:  eventType,
		Channel:    channel,
		Recipient:  contact,
		Payload:    payload,
		Status:     status,
	}); err != nil {
		a.logger.Error("failed to persist notification", "err", err)
		return err
	}
	if status == "skipped" {
		a.logger.Info("notification skipped (no deliverable contact)", "entity_id", entityID, "event_type", eventType)
		return nil
	}

	resultType := "notification.sent.v1"
	resultPayload := map[string]any{
		"entity_id":   entityID,
		"business_id": businessID,
		"channel":     channel,
		"provider_id": providerID,
		"sent_at":     time.Now().UTC().Format(time.RFC3339),
	}
	if status == "failed" {
		resultType = "notification.failed.v1"
		resultPayload = map[string]any{
			"entity_id":    entityID,
			"business_id":  businessID,
			"channel":      channel,
			"error_reason": failureReason,
			"failed_at":    time.Now().UTC().Format(time.RFC3339),
		}
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	raw, err := json.Marshal(resultPayload)
	if err != nil {
		return err
	}
	if err := outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   entityID,
		EventType:     resultType,
		Payload:       raw,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	a.logger.Info("notification processed",
		"entity_id", entityID, "event_type", eventType, "channel", channel, "status", status)
	return nil
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	emailSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@kalenda.local"),
	)

	var smsSender sms.Sender
	switch strings.ToLower(config.String("SMS_PROVIDER", "noop")) {
	case "webhook":
		smsSender = sms.NewWebhookSender(config.String("SMS_WEBHOOK_URL", ""), config.String("SMS_WEBHOOK_TOKEN", ""))
	default:
		smsSender = sms.NewNoopSender()
	}

	a := &app{
		pool:   pool,
		repo:   storage.NewRepository(pool),
		email:  emailSender,
		sms:    smsSender,
		logger: logger,
	}

	startConsumer := func(topic string, handler consumer.Handler) {
		if strings.TrimSpace(topic) == "" {
			return
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	appointmentHandler := func(subjectFmt, bodyFmt string) consumer.Handler {
		return func(ctx context.Context, msg kafka.Message) error {
			var p appointmentPayload
			if err := json.Unmarshal(msg.Value, &p); err != nil {
				logger.Error("invalid appointment payload", "err", err, "topic", msg.Topic)
				return nil
			}
			if p.AppointmentID == "" || p.BusinessID == "" {
				logger.Error("missing appointment fields", "topic", msg.Topic)
				return nil
			}
			return a.deliver(ctx, msg.Topic, p.AppointmentID, p.BusinessID, p.ClientRef,
				fmt.Sprintf(subjectFmt, p.StartTime),
				fmt.Sprintf(bodyFmt, p.AppointmentID, p.StartTime),
				map[string]any{"service_id": p.ServiceID, "start_time": p.StartTime, "end_time": p.EndTime})
		}
	}

	startConsumer(config.String("KAFKA_TOPIC_CONFIRMED", "booking.appointment.confirmed.v1"),
		appointmentHandler("Appointment confirmed for %s", "Your appointment %s is confirmed for %s."))
	startConsumer(config.String("KAFKA_TOPIC_CANCELLED", "booking.appointment.cancelled.v1"),
		appointmentHandler("Appointment cancelled (%s)", "Your appointment %s for %s has been cancelled."))

	startConsumer(config.String("KAFKA_TOPIC_SUBSCRIPTION", "billing.subscription.activated.v1"),
		func(ctx context.Context, msg kafka.Message) error {
			var p subscriptionPayload
			if err := json.Unmarshal(msg.Value, &p); err != nil {
				logger.Error("invalid subscription payload", "err", err, "topic", msg.Topic)
				return nil
			}
			if p.SubscriptionID == "" || p.UserID == "" {
				logger.Error("missing subscription fields", "topic", msg.Topic)
				return nil
			}
			body := fmt.Sprintf("Your %s subscription is active. Next renewal: %s.", p.PlanName, p.RenewalAt)
			return a.deliver(ctx, msg.Topic, p.SubscriptionID, "", p.UserID,
				"Subscription activated", body,
				map[string]any{"plan_name": p.PlanName, "renewal_at": p.RenewalAt})
		})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
