package tuning

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"swarmsim/internal/sim/fleet"
	"swarmsim/internal/sim/fleet/logic/vecmath"
)

//go:embed tuning.schema.json
var schemaJSON string

const schemaURL = "tuning.schema.json"

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	RobotCount        int     `yaml:"robot_count"`
	RobotSpeed        float64 `yaml:"robot_speed"`
	CollisionRadius   float64 `yaml:"collision_radius"`
	StateChangeRadius float64 `yaml:"state_change_radius"`

	Battery Battery `yaml:"battery"`

	WorkTime     float64   `yaml:"work_time"`
	SpawnOrigin  []float64 `yaml:"spawn_origin"`
	SpawnSpacing float64   `yaml:"spawn_spacing"`

	KeepReservationsOnDeath bool `yaml:"keep_reservations_on_death"`

	PerfLogEveryTicks int `yaml:"perf_log_every_ticks"`
	FrameEveryTicks   int `yaml:"frame_every_ticks"`

	PickupStations  [][]float64 `yaml:"pickup_stations"`
	DropoffStations [][]float64 `yaml:"dropoff_stations"`
	ChargerStations [][]float64 `yaml:"charger_stations"`
}

type Battery struct {
	LowThreshold  float64 `yaml:"low_threshold"`
	DeadThreshold float64 `yaml:"dead_threshold"`
	DrainIdle     float64 `yaml:"drain_idle"`
	DrainMove     float64 `yaml:"drain_move"`
	ChargingTime  float64 `yaml:"charging_time"`
	ChargeRate    float64 `yaml:"charge_rate"`
	Initial       float64 `yaml:"initial"`
}

// Defaults is a small single-robot floor that runs without a config file.
func Defaults() Tuning {
	return Tuning{
		TickRateHz:        60,
		RobotCount:        1,
		RobotSpeed:        100,
		CollisionRadius:   30,
		StateChangeRadius: 5,
		Battery: Battery{
			LowThreshold:  20,
			DeadThreshold: 5,
			DrainIdle:     0.5,
			DrainMove:     2,
			ChargingTime:  3,
			ChargeRate:    25,
			Initial:       100,
		},
		WorkTime:          1,
		SpawnOrigin:       []float64{0, 50},
		SpawnSpacing:      100,
		PerfLogEveryTicks: 1000,
		FrameEveryTicks:   1,
		PickupStations:    [][]float64{{-300, 200}},
		DropoffStations:   [][]float64{{300, 200}},
		ChargerStations:   [][]float64{{0, -200}},
	}
}

// Load reads path over Defaults and validates the result. Keys missing from
// the file keep their default; station lists present in the file replace the
// default lists entirely.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := validateSchema(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Validate checks the cross-field rules a schema cannot express.
func (t Tuning) Validate() error {
	var problems []string
	if t.TickRateHz <= 0 {
		problems = append(problems, "tick_rate_hz must be > 0")
	}
	if t.RobotCount < 0 {
		problems = append(problems, "robot_count must be >= 0")
	}
	if t.CollisionRadius < 0 || t.StateChangeRadius < 0 {
		problems = append(problems, "radii must be >= 0")
	}
	b := t.Battery
	if b.DeadThreshold >= b.LowThreshold {
		problems = append(problems, fmt.Sprintf("battery.dead_threshold (%v) must be below battery.low_threshold (%v)", b.DeadThreshold, b.LowThreshold))
	}
	if b.ChargingTime <= 0 {
		problems = append(problems, "battery.charging_time must be > 0")
	}
	if b.Initial <= b.DeadThreshold || b.Initial > 100 {
		problems = append(problems, "battery.initial must be in (dead_threshold, 100]")
	}
	if len(t.SpawnOrigin) != 2 {
		problems = append(problems, "spawn_origin must be [x, y]")
	}
	for name, list := range map[string][][]float64{
		"pickup_stations":  t.PickupStations,
		"dropoff_stations": t.DropoffStations,
		"charger_stations": t.ChargerStations,
	} {
		for i, p := range list {
			if len(p) != 2 {
				problems = append(problems, fmt.Sprintf("%s[%d] must be [x, y]", name, i))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid tuning: %s", strings.Join(problems, "; "))
	}
	return nil
}

// FleetConfig converts t into the world configuration for floor id.
func (t Tuning) FleetConfig(id string) fleet.Config {
	return fleet.Config{
		ID:                      id,
		TickRateHz:              t.TickRateHz,
		RobotCount:              t.RobotCount,
		RobotSpeed:              t.RobotSpeed,
		CollisionRadius:         t.CollisionRadius,
		StateChangeRadius:       t.StateChangeRadius,
		LowBatteryThreshold:     t.Battery.LowThreshold,
		DeadBatteryThreshold:    t.Battery.DeadThreshold,
		DrainIdle:               t.Battery.DrainIdle,
		DrainMove:               t.Battery.DrainMove,
		ChargingTime:            t.Battery.ChargingTime,
		ChargeRate:              t.Battery.ChargeRate,
		InitialBattery:          t.Battery.Initial,
		WorkTime:                t.WorkTime,
		SpawnOrigin:             point(t.SpawnOrigin),
		SpawnSpacing:            t.SpawnSpacing,
		KeepReservationsOnDeath: t.KeepReservationsOnDeath,
		PerfLogEveryTicks:       t.PerfLogEveryTicks,
		FrameEveryTicks:         t.FrameEveryTicks,
		PickupStations:          points(t.PickupStations),
		DropoffStations:         points(t.DropoffStations),
		ChargerStations:         points(t.ChargerStations),
	}
}

func point(p []float64) vecmath.Vec3 {
	if len(p) < 2 {
		return vecmath.Zero
	}
	return vecmath.V2(p[0], p[1])
}

func points(in [][]float64) []vecmath.Vec3 {
	out := make([]vecmath.Vec3, 0, len(in))
	for _, p := range in {
		out = append(out, point(p))
	}
	return out
}

// validateSchema checks the raw yaml document against the embedded schema.
// The document goes through JSON so the validator sees plain JSON values.
func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	s, err := jsonschema.CompileString(schemaURL, schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return s.Validate(v)
}
