package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Stats is a read-only copy of the scheduler's counters.
type Stats struct {
	TotalAllocated int64
	TotalFound     int64
	LookupFailures int64
	SinkFailures   int64
	Errors         int64
	Cycles         int64
	Interrupts     int64
	Completed      int64
	Running        bool
	ActiveRangeKey string
	StartedAt      time.Time
	Uptime         time.Duration
	UptimeSeconds  int64
	SuccessRate    decimal.Decimal
}

type counters struct {
	allocated      atomic.Int64
	found          atomic.Int64
	lookupFailures atomic.Int64
	sinkFailures   atomic.Int64
	errors         atomic.Int64
	cycles         atomic.Int64
	interrupts     atomic.Int64
	completed      atomic.Int64
}

var hundred = decimal.NewFromInt(100)

// successRate is found/allocated as a percentage with two decimal places.
func successRate(found, allocated int64) decimal.Decimal {
	if allocated == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(found).
		Mul(hundred).
		DivRound(decimal.NewFromInt(allocated), 2)
}
