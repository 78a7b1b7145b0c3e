package billing

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Event is the envelope Polar delivers on every webhook: a string type tag and
// a data object carrying the payload for the event's family. Only the variant
// matching the family is populated; handlers for one family never need to
// inspect another's fields.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData holds the per-family payload variants.
type EventData struct {
	Checkout     *CheckoutData     `json:"checkout,omitempty"`
	Customer     *CustomerData     `json:"customer,omitempty"`
	Subscription *SubscriptionData `json:"subscription,omitempty"`
	Order        *OrderData        `json:"order,omitempty"`
}

// CheckoutData carries the fields of checkout.* events. Checkouts are not
// persisted locally; the payload exists for logging.
type CheckoutData struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CustomerData carries the fields of customer.* events.
type CustomerData struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ProductRef is a product reference as delivered on the wire. Checkout
// metadata carries the local catalog id as a number or numeric string, but the
// field tolerates any scalar so an unexpected shape never rejects the event.
type ProductRef string

func (p *ProductRef) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = ProductRef(s)
		return nil
	}
	*p = ProductRef(strings.Trim(string(b), `"`))
	return nil
}

// SubscriptionData carries the fields of subscription.* lifecycle events.
type SubscriptionData struct {
	ID                 string     `json:"id"`
	CustomerID         string     `json:"customer_id"`
	ProductID          ProductRef `json:"product_id"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
}

// LocalProductID resolves the payload's product reference to a local catalog
// row id. Returns nil when the reference is absent or not numeric; the
// subscription is still recorded, just without a catalog link.
func (s *SubscriptionData) LocalProductID() *int64 {
	if s.ProductID == "" {
		return nil
	}
	id, err := strconv.ParseInt(string(s.ProductID), 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// OrderData carries the fields of order.* events. The order id doubles as the
// payment's reconciliation key.
type OrderData struct {
	ID                  string `json:"id"`
	CustomerID          string `json:"customer_id"`
	AmountSubtotalCents int32  `json:"amount_subtotal_cents"`
	Status              string `json:"status"`
	SubscriptionID      string `json:"subscription_id"`
	BillingReason       string `json:"billing_reason"`
}

// BillingReasonSubscriptionCycle marks orders generated by a subscription
// renewal rather than an initial purchase.
const BillingReasonSubscriptionCycle = "subscription_cycle"

// ParseEvent decodes a verified webhook body into a typed Event.
// Returns ErrMalformedPayload when the body is not valid JSON or lacks the
// type discriminant.
func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ErrMalformedPayload
	}
	if event.Type == "" {
		return nil, ErrMalformedPayload
	}
	return &event, nil
}
