package gate

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveshadow/driveshadow/internal/graph"
)

type fakeProber struct {
	identity *graph.Identity
	err      error
}

func (f *fakeProber) ProbeIdentity(ctx context.Context, bearer string) (*graph.Identity, error) {
	return f.identity, f.err
}

func TestGateInitialState(t *testing.T) {
	assert.False(t, New(&fakeProber{}, false).IsEnabled())
	assert.True(t, New(&fakeProber{}, true).IsEnabled())
}

func TestGateEnableDisable(t *testing.T) {
	g := New(&fakeProber{}, false)

	g.Enable()
	assert.True(t, g.IsEnabled())

	g.Disable()
	assert.False(t, g.IsEnabled())
}

func TestValidateSuccess(t *testing.T) {
	want := &graph.Identity{UserID: "u-1", PrincipalName: "ada@example.com"}
	g := New(&fakeProber{identity: want}, false)

	id, err := g.Validate(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, want, id)

	// Validation alone does not open the gate; bootstrap does that.
	assert.False(t, g.IsEnabled())
}

func TestValidateReasonMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{
			"401 means expired",
			&graph.Error{Class: graph.ClassAuth, Status: http.StatusUnauthorized},
			ReasonExpired,
		},
		{
			"403 means forbidden",
			&graph.Error{Class: graph.ClassAuth, Status: http.StatusForbidden},
			ReasonForbidden,
		},
		{
			"5xx means transport",
			&graph.Error{Class: graph.ClassTransient, Status: http.StatusBadGateway},
			ReasonTransport,
		},
		{
			"exhausted rate limit means transport",
			&graph.Error{Class: graph.ClassRateLimited, Status: http.StatusTooManyRequests},
			ReasonTransport,
		},
		{
			"other gateway failure means unknown",
			&graph.Error{Class: graph.ClassFatal, Status: http.StatusBadRequest},
			ReasonUnknown,
		},
		{
			"untyped error means unknown",
			errors.New("dial tcp: broken"),
			ReasonUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(&fakeProber{err: tt.err}, false)
			_, err := g.Validate(context.Background(), "tok")
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.want, verr.Reason)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestValidationErrorString(t *testing.T) {
	verr := &ValidationError{Reason: ReasonExpired, Err: errors.New("token expired")}
	assert.Contains(t, verr.Error(), "expired")
	assert.Contains(t, verr.Error(), "token expired")
}
