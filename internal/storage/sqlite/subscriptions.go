package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/driveshadow/driveshadow/internal/types"
)

const subscriptionColumns = `provider_id, resource, shared_secret, expiry, created_at`

func scanSubscription(row rowScanner) (*types.Subscription, error) {
	var sub types.Subscription
	err := row.Scan(&sub.ProviderID, &sub.Resource, &sub.SharedSecret, &sub.Expiry, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscriptionByResource returns the most recently created subscription
// record for a resource. Older records may linger for audit; only the newest
// is considered live.
func (s *Store) GetSubscriptionByResource(ctx context.Context, resource string) (*types.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE resource = ? ORDER BY created_at DESC, provider_id DESC LIMIT 1`, resource)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, wrapDBError("get subscription by resource", err)
	}
	return sub, nil
}

// GetSubscriptionByProviderID returns the subscription with the given
// provider-assigned id.
func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerID string) (*types.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_id = ?`, providerID)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, wrapDBError("get subscription by provider id", err)
	}
	return sub, nil
}

// UpsertSubscription inserts or replaces a subscription record.
func (s *Store) UpsertSubscription(ctx context.Context, sub *types.Subscription) error {
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
		sub.CreatedAt = createdAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (provider_id, resource, shared_secret, expiry, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			resource = excluded.resource,
			shared_secret = excluded.shared_secret,
			expiry = excluded.expiry`,
		sub.ProviderID, sub.Resource, sub.SharedSecret, sub.Expiry, createdAt)
	return wrapDBError("upsert subscription", err)
}

// UpdateSubscriptionExpiry extends the expiry of an existing record.
func (s *Store) UpdateSubscriptionExpiry(ctx context.Context, providerID string, expiry time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET expiry = ? WHERE provider_id = ?`, expiry, providerID)
	if err != nil {
		return wrapDBError("update subscription expiry", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wrapDBError("update subscription expiry", sql.ErrNoRows)
	}
	return nil
}

// DeleteSubscription removes a record. Deleting an absent record is a no-op.
func (s *Store) DeleteSubscription(ctx context.Context, providerID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE provider_id = ?`, providerID)
	return wrapDBError("delete subscription", err)
}

// DeleteExpiredSubscriptions removes records whose expiry is in the past and
// returns the provider ids that were removed so the caller can verify the
// provider-side counterpart is gone too.
func (s *Store) DeleteExpiredSubscriptions(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM subscriptions WHERE expiry < ? RETURNING provider_id`, now)
	if err != nil {
		return nil, wrapDBError("delete expired subscriptions", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("delete expired subscriptions", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, wrapDBError("delete expired subscriptions", err)
	}
	return ids, nil
}
