package main

// LifecycleState is the monthly behavioral label for one customer on one
// classification dimension.
type LifecycleState string

const (
	StateNew       LifecycleState = "new"
	StateRecurring LifecycleState = "recurring"
	StateInactive  LifecycleState = "inactive"
	StateChurned   LifecycleState = "churned"
	StateRecovered LifecycleState = "recovered"

	// StateAnomaly signals a precondition violation: the customer was
	// evaluated in a month where all three buckets are empty. The driver's
	// skip-pruning makes this unreachable in normal operation, but it is
	// reported explicitly rather than folded into a valid state.
	StateAnomaly LifecycleState = "anomaly"
)

// RollingCounts holds distinct order-line counts for the three disjoint
// buckets of one analysis month. Hist covers everything before the rolling
// window, Roll the 23 months before the analysis month, Curr the analysis
// month itself.
type RollingCounts struct {
	Hist int
	Roll int
	Curr int
}

// classifyLifecycle maps a bucket triple to a lifecycle state. Conditions
// are evaluated in priority order; the first match wins. Note that a
// customer with Roll >= 2 and Curr == 0 is still "recurring": sustained
// rolling-window activity counts regardless of current-month silence.
func classifyLifecycle(c RollingCounts) LifecycleState {
	switch {
	case c.Hist == 0 && c.Roll == 0 && c.Curr > 0:
		return StateNew
	case c.Hist > 0 && c.Roll == 0 && c.Curr == 0:
		return StateChurned
	case c.Hist > 0 && c.Roll == 0 && c.Curr > 0:
		return StateRecovered
	case c.Roll+c.Curr >= 2:
		return StateRecurring
	case c.Roll == 1 && c.Curr == 0:
		return StateInactive
	default:
		return StateAnomaly
	}
}
