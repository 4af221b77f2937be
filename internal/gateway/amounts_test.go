package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderAmount(t *testing.T) {
	tests := []struct {
		currency string
		amount   int64
		want     int64
	}{
		{"KRW", 50000, 50000},
		{"JPY", 1200, 1200},
		{"VND", 99000, 99000},
		{"USD", 120, 12000},
		{"EUR", 45, 4500},
	}
	for _, tt := range tests {
		t.Run(tt.currency, func(t *testing.T) {
			assert.Equal(t, tt.want, ProviderAmount(tt.amount, tt.currency))
			assert.Equal(t, tt.amount, LocalAmount(tt.want, tt.currency))
		})
	}
}
