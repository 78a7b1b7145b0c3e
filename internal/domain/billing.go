package domain

import (
	"context"
	"time"
)

// BillingInterval is the cadence a product bills on.
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
	IntervalOneTime BillingInterval = "one_time"
)

// SubscriptionStatus values follow the provider's vocabulary. The provider may
// assert any status at any time; the store records the latest assertion.
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusUncanceled SubscriptionStatus = "uncanceled"

	// SubscriptionStatusCanceled marks cancellation intent: the customer keeps
	// access until the period ends. Entitlements are only withdrawn on revoked.
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"

	// SubscriptionStatusRevoked is the terminal state: access withdrawn.
	SubscriptionStatusRevoked SubscriptionStatus = "revoked"
)

// PaymentStatus follows the provider's order status vocabulary.
type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Product is a purchasable catalog entry. The catalog is synced from the
// provider out of band; this service only reads it.
type Product struct {
	ID           int64
	Name         string
	Description  string
	PriceCents   int32
	Interval     BillingInterval
	PolarPriceID string
	Active       bool
	CreatedAt    time.Time
}

// Subscription is the local record of a provider subscription. It is keyed for
// reconciliation by PolarSubscriptionID and never hard-deleted; terminal
// states are recorded in place.
type Subscription struct {
	ID                  int64
	UserID              string
	ProductID           *int64
	Status              SubscriptionStatus
	CurrentPeriodStart  time.Time
	CurrentPeriodEnd    time.Time
	CancelAtPeriodEnd   bool
	PolarSubscriptionID string
	PolarCustomerID     string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Payment is the local record of a provider order. SubscriptionID is nil for
// one-time purchases and for orders whose subscription has not been seen yet.
type Payment struct {
	ID             int64
	UserID         string
	SubscriptionID *int64
	AmountCents    int32
	Status         PaymentStatus
	PolarPaymentID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Pre-defined lookup errors. Referencing entities that have not arrived yet is
// expected under out-of-order delivery, so callers treat these as no-ops.
var (
	ErrSubscriptionNotFound = &Error{Code: ENOTFOUND, Message: "subscription not found"}
	ErrPaymentNotFound      = &Error{Code: ENOTFOUND, Message: "payment not found"}
)

// UpsertSubscriptionParams carries every field the subscription upsert writes.
// On conflict only the mutable fields (status, period, cancel flag) are
// applied; identity fields and created_at stay untouched.
type UpsertSubscriptionParams struct {
	PolarSubscriptionID string
	PolarCustomerID     string
	UserID              string
	ProductID           *int64
	Status              SubscriptionStatus
	CurrentPeriodStart  time.Time
	CurrentPeriodEnd    time.Time
	CancelAtPeriodEnd   bool
}

// SubscriptionStatusUpdate carries a status change plus the optional extra
// fields a lifecycle event asserts alongside it.
type SubscriptionStatusUpdate struct {
	Status SubscriptionStatus

	// CancelAtPeriodEnd is applied only when non-nil.
	CancelAtPeriodEnd *bool
}

// UpsertPaymentParams carries the fields written when recording an order.
type UpsertPaymentParams struct {
	PolarPaymentID string
	UserID         string
	SubscriptionID *int64
	AmountCents    int32
	Status         PaymentStatus
}

// BillingStore is the persistence boundary for billing reconciliation.
// Implementations must provide atomic conditional upserts keyed by the unique
// provider reference columns; handlers rely on that instead of locking.
type BillingStore interface {
	// UpsertSubscription inserts or updates a subscription keyed by its
	// provider subscription id in a single atomic statement.
	UpsertSubscription(ctx context.Context, params UpsertSubscriptionParams) error

	// UpdateSubscriptionStatus applies a status update to the subscription with
	// the given provider id. Returns ErrSubscriptionNotFound when no row matches.
	UpdateSubscriptionStatus(ctx context.Context, polarSubscriptionID string, update SubscriptionStatusUpdate) error

	// FindSubscriptionByExternalID resolves a provider subscription id to the
	// local row id. Returns ErrSubscriptionNotFound when absent.
	FindSubscriptionByExternalID(ctx context.Context, polarSubscriptionID string) (int64, error)

	// FindSubscriptionByUserID returns the most recently updated subscription
	// for a user. Returns ErrSubscriptionNotFound when the user has none.
	FindSubscriptionByUserID(ctx context.Context, userID string) (*Subscription, error)

	// UpsertPayment inserts or updates a payment keyed by its provider order id
	// in a single atomic statement. Re-delivery of the same order never creates
	// a second row.
	UpsertPayment(ctx context.Context, params UpsertPaymentParams) error

	// UpdatePaymentStatus sets the status of the payment with the given
	// provider order id. Returns ErrPaymentNotFound when no row matches.
	UpdatePaymentStatus(ctx context.Context, polarPaymentID string, status PaymentStatus) error
}

// HasActiveSubscription reports whether a subscription status counts as an
// active entitlement for dashboard purposes.
func HasActiveSubscription(status SubscriptionStatus) bool {
	return status == SubscriptionStatusActive || status == SubscriptionStatusTrialing
}
