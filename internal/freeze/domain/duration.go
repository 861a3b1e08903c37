package domain

import (
	"time"

	"github.com/smallbiznis/dojopay/internal/clock"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
)

// maxPeriods bounds the search for absurd date ranges.
const maxPeriods = 10_000

// FreezeDuration returns how many billing periods of the given frequency are
// needed to cover [start, end), rounding partial periods up. Months are
// calendar months, so 2024-01-01..2024-03-01 monthly is 2.
func FreezeDuration(start, end time.Time, frequency ledgerdomain.BillingFrequency) int {
	start, end = clock.Date(start), clock.Date(end)
	if !end.After(start) {
		return 0
	}
	n := 0
	for cursor := start; cursor.Before(end) && n < maxPeriods; {
		n++
		cursor = frequency.Advance(start, n)
	}
	return n
}
