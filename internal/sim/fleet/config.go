package fleet

import "swarmsim/internal/sim/fleet/logic/vecmath"

// Config is the immutable simulation context handed to every system. Values
// are assumed physically sensible (radii >= 0, dead < low, charging time > 0);
// the tuning loader validates them.
type Config struct {
	ID         string
	TickRateHz int

	RobotCount        int
	RobotSpeed        float64
	CollisionRadius   float64
	StateChangeRadius float64

	// Battery.
	LowBatteryThreshold  float64
	DeadBatteryThreshold float64
	DrainIdle            float64
	DrainMove            float64
	ChargingTime         float64
	ChargeRate           float64
	InitialBattery       float64

	// WorkTime is the pickup/dropoff dwell.
	WorkTime float64

	SpawnOrigin  vecmath.Vec3
	SpawnSpacing float64

	// KeepReservationsOnDeath leaves a dead robot's stations booked forever
	// instead of releasing them when it dies.
	KeepReservationsOnDeath bool

	PerfLogEveryTicks int
	FrameEveryTicks   int

	PickupStations  []vecmath.Vec3
	DropoffStations []vecmath.Vec3
	ChargerStations []vecmath.Vec3
}

const (
	defaultTickRateHz     = 60
	defaultWorkTime       = 1.0
	defaultChargeRate     = 25.0
	maxBattery            = 100.0
	defaultPerfLogEvery   = 1000
	defaultFrameEveryTick = 1
)

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = "floor_1"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = defaultTickRateHz
	}
	if c.WorkTime <= 0 {
		c.WorkTime = defaultWorkTime
	}
	if c.ChargeRate <= 0 {
		c.ChargeRate = defaultChargeRate
	}
	if c.InitialBattery <= 0 || c.InitialBattery > maxBattery {
		c.InitialBattery = maxBattery
	}
	if c.PerfLogEveryTicks <= 0 {
		c.PerfLogEveryTicks = defaultPerfLogEvery
	}
	if c.FrameEveryTicks <= 0 {
		c.FrameEveryTicks = defaultFrameEveryTick
	}
}

// TickDuration is the fixed simulated time advanced per tick.
func (c Config) TickDuration() float64 { return 1.0 / float64(c.TickRateHz) }
