package redemption

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatDebtAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0.00"},
		{"999.994", "999.99"},
		{"1000", "1.00K"},
		{"15250", "15.25K"},
		{"2500000", "2.50M"},
		{"1234567890", "1.23B"},
		{"-45000", "-45.00K"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDebtAmount(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestIsCalculationStale(t *testing.T) {
	assert.True(t, IsCalculationStale(now.Add(-301*time.Second), 5*time.Minute, now))
	assert.False(t, IsCalculationStale(now.Add(-299*time.Second), 5*time.Minute, now))
	assert.False(t, IsCalculationStale(now.Add(-299*time.Second), 0, now), "zero means the default")
	assert.True(t, IsCalculationStale(time.Time{}, 0, now))
	assert.True(t, IsCalculationStale(now.Add(-2*time.Minute), time.Minute, now))
}
