package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects for billing-state notifications. Downstream consumers (entitlement
// enforcement, analytics) subscribe to these; delivery is best-effort and
// never blocks webhook acknowledgment.
const (
	SubjectSubscriptionUpdated  = "billing.subscription.updated"
	SubjectSubscriptionCanceled = "billing.subscription.canceled"
	SubjectSubscriptionRevoked  = "billing.subscription.revoked"
	SubjectPaymentRecorded      = "billing.payment.recorded"
	SubjectPaymentRefunded      = "billing.payment.refunded"
)

// SubscriptionNotice is published on subscription lifecycle subjects.
type SubscriptionNotice struct {
	PolarSubscriptionID string    `json:"polar_subscription_id"`
	UserID              string    `json:"user_id,omitempty"`
	Status              string    `json:"status"`
	CurrentPeriodEnd    time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd   bool      `json:"cancel_at_period_end"`
}

// PaymentNotice is published on payment subjects.
type PaymentNotice struct {
	PolarPaymentID string `json:"polar_payment_id"`
	UserID         string `json:"user_id,omitempty"`
	AmountCents    int32  `json:"amount_cents"`
	Status         string `json:"status"`
}

// Publisher emits billing notifications over NATS. A nil Publisher is valid
// and publishes nothing, so callers can run without a broker configured.
type Publisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewPublisher connects to the NATS server at url. Returns a nil publisher
// when url is empty.
func NewPublisher(url string, logger zerolog.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.Name("vanir"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		conn:   conn,
		logger: logger.With().Str("component", "events").Logger(),
	}, nil
}

// Publish sends a JSON-encoded notice on the given subject. Failures are
// logged, not returned: the billing record is already committed and a broker
// outage must not fail the webhook.
func (p *Publisher) Publish(subject string, notice any) {
	if p == nil {
		return
	}

	payload, err := json.Marshal(notice)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("failed to encode notification")
		return
	}

	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish notification")
	}
}

// Close drains the connection, flushing any buffered notifications.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn().Err(err).Msg("failed to drain nats connection")
	}
}
