package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/vanir/internal/domain"
)

// BillingStore implements domain.BillingStore using PostgreSQL. All writes are
// single-statement conditional upserts keyed by the provider reference
// columns, so concurrent webhook deliveries never race a read-then-write.
type BillingStore struct {
	pool *pgxpool.Pool
}

// Compile-time check that BillingStore implements domain.BillingStore.
var _ domain.BillingStore = (*BillingStore)(nil)

// NewBillingStore creates a new PostgreSQL-backed billing store.
func NewBillingStore(pool *pgxpool.Pool) *BillingStore {
	return &BillingStore{pool: pool}
}

// UpsertSubscription inserts or updates a subscription keyed by
// polar_subscription_id. On conflict only the mutable lifecycle fields are
// replaced; identity columns and created_at are preserved.
func (s *BillingStore) UpsertSubscription(ctx context.Context, params domain.UpsertSubscriptionParams) error {
	const query = `
		INSERT INTO subscriptions (
			user_id, product_id, status,
			current_period_start, current_period_end, cancel_at_period_end,
			polar_subscription_id, polar_customer_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (polar_subscription_id) DO UPDATE SET
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = now()`

	_, err := s.pool.Exec(ctx, query,
		params.UserID,
		params.ProductID,
		string(params.Status),
		params.CurrentPeriodStart,
		params.CurrentPeriodEnd,
		params.CancelAtPeriodEnd,
		params.PolarSubscriptionID,
		params.PolarCustomerID,
	)
	if err != nil {
		return domain.Internal(err, "subscription.upsert", "failed to upsert subscription")
	}
	return nil
}

// UpdateSubscriptionStatus applies a status transition to an existing
// subscription. The cancel flag is only touched when the update carries one.
func (s *BillingStore) UpdateSubscriptionStatus(ctx context.Context, polarSubscriptionID string, update domain.SubscriptionStatusUpdate) error {
	const query = `
		UPDATE subscriptions
		SET status = $2,
		    cancel_at_period_end = COALESCE($3, cancel_at_period_end),
		    updated_at = now()
		WHERE polar_subscription_id = $1`

	tag, err := s.pool.Exec(ctx, query, polarSubscriptionID, string(update.Status), update.CancelAtPeriodEnd)
	if err != nil {
		return domain.Internal(err, "subscription.update_status", "failed to update subscription status")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// FindSubscriptionByExternalID resolves a provider subscription id to the
// local row id.
func (s *BillingStore) FindSubscriptionByExternalID(ctx context.Context, polarSubscriptionID string) (int64, error) {
	const query = `SELECT id FROM subscriptions WHERE polar_subscription_id = $1`

	var id int64
	err := s.pool.QueryRow(ctx, query, polarSubscriptionID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrSubscriptionNotFound
		}
		return 0, domain.Internal(err, "subscription.find", "failed to look up subscription")
	}
	return id, nil
}

// FindSubscriptionByUserID returns the most recently updated subscription for
// a user.
func (s *BillingStore) FindSubscriptionByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	const query = `
		SELECT id, user_id, product_id, status,
		       current_period_start, current_period_end, cancel_at_period_end,
		       polar_subscription_id, polar_customer_id, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`

	var sub domain.Subscription
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.ProductID,
		&sub.Status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd,
		&sub.PolarSubscriptionID,
		&sub.PolarCustomerID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, domain.Internal(err, "subscription.find", "failed to look up subscription")
	}
	return &sub, nil
}

// UpsertPayment inserts or updates a payment keyed by polar_payment_id.
// Re-delivery of the same order refreshes status without creating a second row.
func (s *BillingStore) UpsertPayment(ctx context.Context, params domain.UpsertPaymentParams) error {
	const query = `
		INSERT INTO payments (
			user_id, subscription_id, amount_cents, status, polar_payment_id
		)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (polar_payment_id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = now()`

	_, err := s.pool.Exec(ctx, query,
		params.UserID,
		params.SubscriptionID,
		params.AmountCents,
		string(params.Status),
		params.PolarPaymentID,
	)
	if err != nil {
		return domain.Internal(err, "payment.upsert", "failed to upsert payment")
	}
	return nil
}

// UpdatePaymentStatus sets the status of an existing payment.
func (s *BillingStore) UpdatePaymentStatus(ctx context.Context, polarPaymentID string, status domain.PaymentStatus) error {
	const query = `
		UPDATE payments
		SET status = $2, updated_at = now()
		WHERE polar_payment_id = $1`

	tag, err := s.pool.Exec(ctx, query, polarPaymentID, string(status))
	if err != nil {
		return domain.Internal(err, "payment.update_status", "failed to update payment status")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}
