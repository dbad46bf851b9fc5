package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		autoRenew bool
		want      Status
	}{
		{"active", now.Add(24 * time.Hour), true, StatusActive},
		{"cancelled keeps access until expiry", now.Add(24 * time.Hour), false, StatusCancelled},
		{"expired", now.Add(-time.Second), true, StatusExpired},
		{"expiry boundary counts as expired", now, true, StatusExpired},
		{"expired wins over cancelled", now.Add(-time.Hour), false, StatusExpired},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sub := UserSubscription{ExpiresAt: tc.expiresAt, AutoRenew: tc.autoRenew}
			assert.Equal(t, tc.want, DeriveStatus(sub, now))
		})
	}
}
