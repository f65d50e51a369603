package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveshadow/driveshadow/internal/graph"
	"github.com/driveshadow/driveshadow/internal/storage"
	"github.com/driveshadow/driveshadow/internal/storage/sqlite"
	"github.com/driveshadow/driveshadow/internal/types"
)

// fakeAPI is an in-memory provider: subscriptions live in a map keyed by id.
type fakeAPI struct {
	subs    map[string]*graph.ProviderSubscription
	nextID  int
	creates int
	renews  int
	deletes int
	err     error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{subs: make(map[string]*graph.ProviderSubscription)}
}

func (f *fakeAPI) CreateSubscription(ctx context.Context, bearer, notificationURL, resource, clientState string, expiry time.Time) (*graph.ProviderSubscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.creates++
	f.nextID++
	id := "prov-" + string(rune('a'+f.nextID-1))
	sub := &graph.ProviderSubscription{
		ID:              id,
		Resource:        resource,
		NotificationURL: notificationURL,
		ClientState:     clientState,
		Expiry:          expiry,
	}
	f.subs[id] = sub
	return sub, nil
}

func (f *fakeAPI) GetSubscription(ctx context.Context, bearer, id string) (*graph.ProviderSubscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.subs[id], nil
}

func (f *fakeAPI) RenewSubscription(ctx context.Context, bearer, id string, expiry time.Time) error {
	if f.err != nil {
		return f.err
	}
	sub, ok := f.subs[id]
	if !ok {
		return &graph.Error{Class: graph.ClassFatal, Status: 404, Op: "renew subscription"}
	}
	f.renews++
	sub.Expiry = expiry
	return nil
}

func (f *fakeAPI) DeleteSubscription(ctx context.Context, bearer, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deletes++
	delete(f.subs, id)
	return nil
}

func newTestManager(t *testing.T, api ProviderAPI, now time.Time) (*Manager, storage.Store) {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := NewManager(Config{
		Store:     store,
		API:       api,
		Bearer:    "tok",
		NotifyURL: "https://sink.example.com/notify",
		Now:       func() time.Time { return now },
	})
	return m, store
}

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func TestEnsureLiveCreatesWhenAbsent(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	m, store := newTestManager(t, api, testNow)

	sub, err := m.EnsureLive(ctx, "/drives/d1/root")
	require.NoError(t, err)
	assert.Equal(t, 1, api.creates)
	assert.Equal(t, "/drives/d1/root", sub.Resource)
	assert.GreaterOrEqual(t, len(sub.SharedSecret), 32)
	assert.WithinDuration(t, testNow.Add(TSub), sub.Expiry, time.Second)

	// The local record is persisted with the same secret the provider got.
	stored, err := store.GetSubscriptionByProviderID(ctx, sub.ProviderID)
	require.NoError(t, err)
	assert.Equal(t, sub.SharedSecret, stored.SharedSecret)
	assert.Equal(t, api.subs[sub.ProviderID].ClientState, stored.SharedSecret)
}

func TestEnsureLiveKeepsHealthySubscription(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	m, _ := newTestManager(t, api, testNow)

	first, err := m.EnsureLive(ctx, "/drives/d1/root")
	require.NoError(t, err)

	second, err := m.EnsureLive(ctx, "/drives/d1/root")
	require.NoError(t, err)
	assert.Equal(t, first.ProviderID, second.ProviderID)
	assert.Equal(t, 1, api.creates)
	assert.Equal(t, 0, api.renews)
}

func TestEnsureLiveRenewsNearExpiry(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	m, store := newTestManager(t, api, testNow)

	first, err := m.EnsureLive(ctx, "/drives/d1/root")
	require.NoError(t, err)

	// Push the provider-side expiry under the renewal threshold.
	api.subs[first.ProviderID].Expiry = testNow.Add(TRenewThreshold - time.Hour)

	renewed, err := m.EnsureLive(ctx, "/drives/d1/root")
	require.NoError(t, err)
	assert.Equal(t, first.ProviderID, renewed.ProviderID)
	assert.Equal(t, 1, api.renews)
	assert.WithinDuration(t, testNow.Add(TSub), renewed.Expiry, time.Second)

	stored, err := store.GetSubscriptionByProviderID(ctx, first.ProviderID)
	require.NoError(t, err)
	assert.WithinDuration(t, testNow.Add(TSub), stored.Expiry, time.Second)
}

func TestEnsureLiveRecreatesWhenProviderDropped(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	m, store := newTestManager(t, api, testNow)

	first, err := m.EnsureLive(ctx, "/drives/d1/root")
	require.NoError(t, err)

	// Provider forgot the subscription.
	delete(api.subs, first.ProviderID)

	second, err := m.EnsureLive(ctx, "/drives/d1/root")
	require.NoError(t, err)
	assert.NotEqual(t, first.ProviderID, second.ProviderID)
	assert.NotEqual(t, first.SharedSecret, second.SharedSecret)
	assert.Equal(t, 2, api.creates)

	// The stale local record is gone.
	_, err = store.GetSubscriptionByProviderID(ctx, first.ProviderID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEnsureLivePropagatesProviderFailure(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.err = &graph.Error{Class: graph.ClassAuth, Status: 401, Op: "create subscription"}
	m, _ := newTestManager(t, api, testNow)

	_, err := m.EnsureLive(ctx, "/drives/d1/root")
	require.Error(t, err)
	assert.True(t, graph.IsAuth(err))
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	m, _ := newTestManager(t, api, testNow)

	sub, err := m.EnsureLive(ctx, "/drives/d1/root")
	require.NoError(t, err)

	assert.NoError(t, m.Authenticate(ctx, sub.ProviderID, sub.SharedSecret))
	assert.ErrorIs(t, m.Authenticate(ctx, sub.ProviderID, "wrong"), ErrSecretMismatch)
	assert.ErrorIs(t, m.Authenticate(ctx, sub.ProviderID, ""), ErrSecretMismatch)
	assert.ErrorIs(t, m.Authenticate(ctx, "ghost", sub.SharedSecret), ErrUnknownSubscription)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	m, store := newTestManager(t, api, testNow)

	// One expired record with a provider-side leftover, one live record.
	require.NoError(t, store.UpsertSubscription(ctx, &types.Subscription{
		ProviderID: "prov-old", Resource: "/drives/d1/root", SharedSecret: "s",
		Expiry: testNow.Add(-time.Hour),
	}))
	api.subs["prov-old"] = &graph.ProviderSubscription{ID: "prov-old"}
	require.NoError(t, store.UpsertSubscription(ctx, &types.Subscription{
		ProviderID: "prov-live", Resource: "/drives/d2/root", SharedSecret: "s",
		Expiry: testNow.Add(48 * time.Hour),
	}))

	n, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotContains(t, api.subs, "prov-old")

	_, err = store.GetSubscriptionByProviderID(ctx, "prov-live")
	assert.NoError(t, err)
}

func TestSweepExpiredToleratesProviderFailure(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	m, store := newTestManager(t, api, testNow)

	require.NoError(t, store.UpsertSubscription(ctx, &types.Subscription{
		ProviderID: "prov-old", Resource: "/drives/d1/root", SharedSecret: "s",
		Expiry: testNow.Add(-time.Hour),
	}))
	api.err = errors.New("provider down")

	// The local record is still removed; provider cleanup is best effort.
	n, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGenerateSecret(t *testing.T) {
	a, err := generateSecret(32)
	require.NoError(t, err)
	b, err := generateSecret(32)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(a), 32)
	assert.NotEqual(t, a, b)
}

func TestNewManagerClampsSecretFloor(t *testing.T) {
	m := NewManager(Config{SecretFloor: 8})
	assert.Equal(t, 32, m.secretFloor)

	m = NewManager(Config{SecretFloor: 64})
	assert.Equal(t, 64, m.secretFloor)
}
