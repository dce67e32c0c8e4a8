// Package storage defines the persisted state of the request filter and its
// implementations.
package storage

import "context"

// Counters are the persisted block counters.
type Counters struct {
	// Day is the calendar day of BlockedToday in the "2006-01-02" layout.  It
	// is empty if unknown.
	Day string `json:"day,omitempty"`

	// BlockedToday is the number of requests blocked during Day.
	BlockedToday uint64 `json:"blockedToday"`

	// TotalBlocked is the number of requests blocked since the last clear.
	TotalBlocked uint64 `json:"totalBlocked"`
}

// Interface is the persisted key-value state of the request filter.  All
// methods must be safe for concurrent use.
type Interface interface {
	// RuleConfig returns the raw stored rule configuration.  data is nil if
	// there is none.
	RuleConfig(ctx context.Context) (data []byte, err error)

	// SetRuleConfig stores the raw rule configuration.
	SetRuleConfig(ctx context.Context, data []byte) (err error)

	// Counters returns the stored counters.  Absent counters are zero.
	Counters(ctx context.Context) (c Counters, err error)

	// SetCounters stores the counters.
	SetCounters(ctx context.Context, c Counters) (err error)

	// Enabled returns the stored enabled flag.  An absent flag is true.
	Enabled(ctx context.Context) (enabled bool, err error)

	// SetEnabled stores the enabled flag.
	SetEnabled(ctx context.Context, enabled bool) (err error)
}
