package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionLive(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sub := &Subscription{Expiry: now.Add(time.Hour)}

	assert.True(t, sub.Live(now))
	assert.False(t, sub.Live(now.Add(time.Hour)))
	assert.False(t, sub.Live(now.Add(2*time.Hour)))
}
