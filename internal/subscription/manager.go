// Package subscription keeps exactly one live provider push subscription per
// watched resource: creating it when absent, renewing it ahead of expiry,
// re-creating it when the provider has dropped it, and authenticating
// inbound notifications against the stored shared secret.
package subscription

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/driveshadow/driveshadow/internal/graph"
	"github.com/driveshadow/driveshadow/internal/storage"
	"github.com/driveshadow/driveshadow/internal/types"
)

// TSub is the target subscription lifetime at creation and renewal, the
// largest value the provider allows for drive resources.
const TSub = 70 * time.Hour

// TRenewThreshold triggers renewal when remaining life drops below it.
const TRenewThreshold = 24 * time.Hour

// ErrSecretMismatch is returned when an inbound notification's clientState
// does not match the stored shared secret.
var ErrSecretMismatch = errors.New("shared secret mismatch")

// ErrUnknownSubscription is returned when a notification references a
// subscription id with no local record.
var ErrUnknownSubscription = errors.New("unknown subscription")

// ProviderAPI is the slice of the gateway the manager needs.
type ProviderAPI interface {
	CreateSubscription(ctx context.Context, bearer, notificationURL, resource, clientState string, expiry time.Time) (*graph.ProviderSubscription, error)
	GetSubscription(ctx context.Context, bearer, id string) (*graph.ProviderSubscription, error)
	RenewSubscription(ctx context.Context, bearer, id string, expiry time.Time) error
	DeleteSubscription(ctx context.Context, bearer, id string) error
}

// Manager owns the subscription lifecycle for a single user's resources.
type Manager struct {
	store       storage.Store
	api         ProviderAPI
	bearer      string
	notifyURL   string
	secretFloor int
	now         func() time.Time
}

// Config holds the manager's dependencies.
type Config struct {
	Store       storage.Store
	API         ProviderAPI
	Bearer      string
	NotifyURL   string
	SecretFloor int              // minimum generated secret length; >= 32
	Now         func() time.Time // test hook; defaults to time.Now
}

// NewManager creates a subscription manager.
func NewManager(cfg Config) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	floor := cfg.SecretFloor
	if floor < 32 {
		floor = 32
	}
	return &Manager{
		store:       cfg.Store,
		api:         cfg.API,
		bearer:      cfg.Bearer,
		notifyURL:   cfg.NotifyURL,
		secretFloor: floor,
		now:         now,
	}
}

// EnsureLive guarantees a live subscription for resource and returns the
// local record.
//
// The pass walks the per-subscription state machine: with no local record
// it creates one; a record whose provider counterpart is healthy is kept; a
// counterpart close to expiry is renewed to now+TSub; a counterpart the
// provider has dropped causes the local record to be replaced with a fresh
// subscription.
func (m *Manager) EnsureLive(ctx context.Context, resource string) (*types.Subscription, error) {
	local, err := m.store.GetSubscriptionByResource(ctx, resource)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup subscription for %q: %w", resource, err)
	}

	if local != nil {
		remote, err := m.api.GetSubscription(ctx, m.bearer, local.ProviderID)
		if err != nil {
			return nil, fmt.Errorf("probe subscription %s: %w", local.ProviderID, err)
		}
		if remote != nil {
			if remote.Expiry.Sub(m.now()) > TRenewThreshold {
				return local, nil
			}
			return m.renew(ctx, local)
		}
		// Provider lost the record; recreate from scratch.
		log.Printf("subscription: provider record %s is gone, recreating", local.ProviderID)
		if err := m.store.DeleteSubscription(ctx, local.ProviderID); err != nil {
			return nil, fmt.Errorf("drop stale subscription %s: %w", local.ProviderID, err)
		}
	}

	return m.create(ctx, resource)
}

func (m *Manager) create(ctx context.Context, resource string) (*types.Subscription, error) {
	secret, err := generateSecret(m.secretFloor)
	if err != nil {
		return nil, fmt.Errorf("generate shared secret: %w", err)
	}

	expiry := m.now().Add(TSub)
	remote, err := m.api.CreateSubscription(ctx, m.bearer, m.notifyURL, resource, secret, expiry)
	if err != nil {
		return nil, fmt.Errorf("create subscription for %q: %w", resource, err)
	}

	sub := &types.Subscription{
		ProviderID:   remote.ID,
		Resource:     resource,
		SharedSecret: secret,
		Expiry:       remote.Expiry,
		CreatedAt:    m.now().UTC(),
	}
	if err := m.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("persist subscription %s: %w", remote.ID, err)
	}
	log.Printf("subscription: created %s for %q, expires %s", sub.ProviderID, resource, sub.Expiry.Format(time.RFC3339))
	return sub, nil
}

func (m *Manager) renew(ctx context.Context, local *types.Subscription) (*types.Subscription, error) {
	expiry := m.now().Add(TSub)
	if err := m.api.RenewSubscription(ctx, m.bearer, local.ProviderID, expiry); err != nil {
		return nil, fmt.Errorf("renew subscription %s: %w", local.ProviderID, err)
	}
	if err := m.store.UpdateSubscriptionExpiry(ctx, local.ProviderID, expiry); err != nil {
		return nil, fmt.Errorf("persist renewed expiry for %s: %w", local.ProviderID, err)
	}
	local.Expiry = expiry
	log.Printf("subscription: renewed %s until %s", local.ProviderID, expiry.Format(time.RFC3339))
	return local, nil
}

// Authenticate compares the clientState carried by an inbound notification
// against the stored shared secret for the referenced subscription. The
// comparison is constant-time.
func (m *Manager) Authenticate(ctx context.Context, providerID, clientState string) error {
	sub, err := m.store.GetSubscriptionByProviderID(ctx, providerID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUnknownSubscription
	}
	if err != nil {
		return fmt.Errorf("lookup subscription %s: %w", providerID, err)
	}
	if subtle.ConstantTimeCompare([]byte(sub.SharedSecret), []byte(clientState)) != 1 {
		return ErrSecretMismatch
	}
	return nil
}

// SweepExpired removes local records whose expiry has passed and clears any
// provider-side leftovers for them (a provider 404 counts as already gone).
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	ids, err := m.store.DeleteExpiredSubscriptions(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired subscriptions: %w", err)
	}
	for _, id := range ids {
		if err := m.api.DeleteSubscription(ctx, m.bearer, id); err != nil {
			log.Printf("subscription: sweep could not delete provider record %s: %v", id, err)
		}
	}
	return len(ids), nil
}

// generateSecret returns a cryptographically random URL-safe string of at
// least floor characters.
func generateSecret(floor int) (string, error) {
	buf := make([]byte, floor)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
