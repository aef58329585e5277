package main

import (
	"testing"

	"swarmsim/internal/sim/fleet"
)

func TestStateSummary(t *testing.T) {
	m := fleet.WorldMetrics{
		StateCounts: map[fleet.State]int{
			fleet.StateDead:           1,
			fleet.StateIdle:           0,
			fleet.StateMovingToPickup: 2,
		},
		Booked: map[string]int{"pickup": 2},
	}
	got := stateSummary(m)
	want := "states: MOVING_TO_PICKUP=2 DEAD=1 booked_pickup=2 booked_dropoff=0 booked_charger=0"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}
