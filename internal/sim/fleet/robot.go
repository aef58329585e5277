package fleet

import (
	"swarmsim/internal/sim/fleet/logic/vecmath"
	"swarmsim/internal/sim/fleet/stations"
)

// timerEpsilon absorbs float accumulation error so that N ticks of 1/N
// elapse a 1.0 timer on the Nth tick.
const timerEpsilon = 1e-9

// Timer is a one-shot accumulator advanced by the tick duration.
type Timer struct {
	Duration float64
	Elapsed  float64
	finished bool
}

func NewTimer(d float64) Timer { return Timer{Duration: d} }

func (t *Timer) Reset() {
	t.Elapsed = 0
	t.finished = false
}

// Tick advances the timer by dt and reports whether it elapsed on this call.
// Once elapsed it stays finished (and Tick returns false) until Reset.
func (t *Timer) Tick(dt float64) bool {
	if t.finished {
		return false
	}
	t.Elapsed += dt
	if t.Elapsed+timerEpsilon >= t.Duration {
		t.Elapsed = t.Duration
		t.finished = true
		return true
	}
	return false
}

func (t Timer) Finished() bool { return t.finished }

type Timers struct {
	Work   Timer
	Charge Timer
}

// SavedMemory is the task context parked while a robot detours to charge.
type SavedMemory struct {
	ResumeState       State        `json:"resume_state"`
	ResumeTarget      vecmath.Vec3 `json:"resume_target"`
	ResumeReservation stations.ID  `json:"resume_reservation,omitempty"`
}

type Robot struct {
	ID     RobotID
	Pos    vecmath.Vec3
	Speed  float64
	Target vecmath.Vec3
	State  State
	Timers Timers

	Battery     float64
	Reservation stations.ID
	Memory      *SavedMemory

	Deliveries uint64
	Charges    uint64
}

func (r *Robot) Tier() BatteryTier {
	switch {
	case r.State == StateDead:
		return TierTerminal
	case r.Battery > 50:
		return TierNominal
	default:
		return TierLow
	}
}

// clone returns a deep copy safe to hand outside the world loop.
func (r *Robot) clone() Robot {
	c := *r
	if r.Memory != nil {
		m := *r.Memory
		c.Memory = &m
	}
	return c
}
