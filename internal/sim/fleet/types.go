package fleet

import "fmt"

// RobotID is the stable identity of a robot. Ids start at 1 and their numeric
// order is the tie-break order for avoidance and station contention.
type RobotID uint32

type State uint8

const (
	StateIdle State = iota
	StateMovingToPickup
	StatePickingUp
	StateWaitingForDropoff
	StateMovingToDropoff
	StateDroppingOff
	StateWaitingForCharger
	StateMovingToCharger
	StateCharging
	StateDead
)

var stateNames = [...]string{
	StateIdle:              "IDLE",
	StateMovingToPickup:    "MOVING_TO_PICKUP",
	StatePickingUp:         "PICKING_UP",
	StateWaitingForDropoff: "WAITING_FOR_DROPOFF",
	StateMovingToDropoff:   "MOVING_TO_DROPOFF",
	StateDroppingOff:       "DROPPING_OFF",
	StateWaitingForCharger: "WAITING_FOR_CHARGER",
	StateMovingToCharger:   "MOVING_TO_CHARGER",
	StateCharging:          "CHARGING",
	StateDead:              "DEAD",
}

// States lists every state in declaration order.
var States = []State{
	StateIdle, StateMovingToPickup, StatePickingUp,
	StateWaitingForDropoff, StateMovingToDropoff, StateDroppingOff,
	StateWaitingForCharger, StateMovingToCharger, StateCharging,
	StateDead,
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown robot state %q", string(b))
}

// IsMoving reports whether robots in this state are displaced and drain at
// the moving rate.
func (s State) IsMoving() bool {
	switch s {
	case StateMovingToPickup, StateMovingToDropoff, StateMovingToCharger:
		return true
	}
	return false
}

func (s State) IsChargingRelated() bool {
	switch s {
	case StateWaitingForCharger, StateMovingToCharger, StateCharging:
		return true
	}
	return false
}

// ResumeState is the state a robot returns to after a charging detour.
// Dwell states collapse to their movement phase so the dwell restarts cleanly.
func (s State) ResumeState() State {
	switch s {
	case StatePickingUp:
		return StateMovingToPickup
	case StateDroppingOff:
		return StateMovingToDropoff
	}
	return s
}

type BatteryTier string

const (
	TierNominal  BatteryTier = "NOMINAL"
	TierLow      BatteryTier = "LOW"
	TierTerminal BatteryTier = "TERMINAL"
)

// Cause labels why a transition happened in the tick log.
type Cause string

const (
	CauseReserved   Cause = "reserved"
	CauseArrived    Cause = "arrived"
	CauseWorkDone   Cause = "work_done"
	CauseCharged    Cause = "charged"
	CauseLowBattery Cause = "low_battery"
	CauseDepleted   Cause = "depleted"
)
