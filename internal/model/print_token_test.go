package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrintTokenRedeemable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		token      PrintToken
		at         time.Time
		expired    bool
		redeemable bool
	}{
		{"fresh", PrintToken{ExpiresAt: now.Add(time.Minute)}, now, false, true},
		{"used but not delivered", PrintToken{ExpiresAt: now.Add(time.Minute), Used: true}, now, false, true},
		{"delivered", PrintToken{ExpiresAt: now.Add(time.Minute), Used: true, ResponseDelivered: true}, now, false, false},
		{"at expiry", PrintToken{ExpiresAt: now}, now, true, false},
		{"after expiry", PrintToken{ExpiresAt: now}, now.Add(time.Second), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, tt.token.Expired(tt.at))
			assert.Equal(t, tt.redeemable, tt.token.Redeemable(tt.at))
		})
	}
}
