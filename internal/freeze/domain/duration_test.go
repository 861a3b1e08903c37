package domain

import (
	"testing"
	"time"

	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFreezeDuration(t *testing.T) {
	tests := []struct {
		name      string
		start     time.Time
		end       time.Time
		frequency ledgerdomain.BillingFrequency
		want      int
	}{
		{"two whole months", date(2024, 1, 1), date(2024, 3, 1), ledgerdomain.BillingFrequencyMonthly, 2},
		{"partial month rounds up", date(2024, 1, 1), date(2024, 3, 2), ledgerdomain.BillingFrequencyMonthly, 3},
		{"month end clamps", date(2024, 1, 31), date(2024, 2, 29), ledgerdomain.BillingFrequencyMonthly, 1},
		{"ten days weekly", date(2024, 1, 1), date(2024, 1, 11), ledgerdomain.BillingFrequencyWeekly, 2},
		{"exact quarter", date(2024, 1, 1), date(2024, 4, 1), ledgerdomain.BillingFrequencyQuarterly, 1},
		{"one day annual", date(2024, 1, 1), date(2024, 1, 2), ledgerdomain.BillingFrequencyAnnually, 1},
		{"empty range", date(2024, 1, 1), date(2024, 1, 1), ledgerdomain.BillingFrequencyMonthly, 0},
		{"inverted range", date(2024, 3, 1), date(2024, 1, 1), ledgerdomain.BillingFrequencyMonthly, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FreezeDuration(tt.start, tt.end, tt.frequency))
		})
	}
}
