package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyLifecycleDecisionTable(t *testing.T) {
	cases := []struct {
		name   string
		counts RollingCounts
		want   LifecycleState
	}{
		{"first ever purchase", RollingCounts{Hist: 0, Roll: 0, Curr: 1}, StateNew},
		{"new with several lines this month", RollingCounts{Hist: 0, Roll: 0, Curr: 3}, StateNew},
		{"old history, long silence", RollingCounts{Hist: 1, Roll: 0, Curr: 0}, StateChurned},
		{"deep history, long silence", RollingCounts{Hist: 7, Roll: 0, Curr: 0}, StateChurned},
		{"back after the window", RollingCounts{Hist: 1, Roll: 0, Curr: 1}, StateRecovered},
		{"back with multiple lines", RollingCounts{Hist: 2, Roll: 0, Curr: 2}, StateRecovered},
		{"active this month and in window", RollingCounts{Hist: 0, Roll: 1, Curr: 1}, StateRecurring},
		{"momentum only, silent this month", RollingCounts{Hist: 0, Roll: 2, Curr: 0}, StateRecurring},
		{"momentum with history", RollingCounts{Hist: 3, Roll: 5, Curr: 0}, StateRecurring},
		{"single window purchase, silent now", RollingCounts{Hist: 0, Roll: 1, Curr: 0}, StateInactive},
		{"single window purchase with history", RollingCounts{Hist: 4, Roll: 1, Curr: 0}, StateInactive},
		{"no activity at all", RollingCounts{}, StateAnomaly},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, classifyLifecycle(tc.counts))
		})
	}
}

// Priority order matters: recovered must win over the recurring threshold
// when roll is zero, and new must win when there is no history at all.
func TestClassifyLifecyclePriority(t *testing.T) {
	require.Equal(t, StateRecovered, classifyLifecycle(RollingCounts{Hist: 1, Roll: 0, Curr: 2}))
	require.Equal(t, StateNew, classifyLifecycle(RollingCounts{Hist: 0, Roll: 0, Curr: 5}))
}

// Every non-empty triple maps to exactly one of the five named states;
// anomaly fires only for the all-zero triple.
func TestClassifyLifecycleStateCoverage(t *testing.T) {
	for hist := 0; hist <= 4; hist++ {
		for roll := 0; roll <= 4; roll++ {
			for curr := 0; curr <= 4; curr++ {
				counts := RollingCounts{Hist: hist, Roll: roll, Curr: curr}
				state := classifyLifecycle(counts)
				name := fmt.Sprintf("h%d r%d c%d", hist, roll, curr)
				if hist == 0 && roll == 0 && curr == 0 {
					require.Equal(t, StateAnomaly, state, name)
					continue
				}
				require.NotEqual(t, StateAnomaly, state, name)
				require.Contains(t, []LifecycleState{
					StateNew, StateRecurring, StateInactive, StateChurned, StateRecovered,
				}, state, name)
			}
		}
	}
}
