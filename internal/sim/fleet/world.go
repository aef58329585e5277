package fleet

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"swarmsim/internal/sim/fleet/logic/avoidance"
	"swarmsim/internal/sim/fleet/logic/vecmath"
	"swarmsim/internal/sim/fleet/stations"
)

// World is a single-threaded authoritative fleet simulation.
// Robot state must be accessed only from the world loop goroutine; other
// goroutines read Metrics, LatestFrame, or talk to the loop through channels.
type World struct {
	cfg Config
	dt  float64

	robots   []Robot // index = id-1
	stations *stations.Registry

	tick atomic.Uint64

	// Per-tick scratch.
	obstacles   []avoidance.Obstacle
	transitions []Transition

	log        *log.Logger
	tickLogger TickLogger

	perfWindowStart time.Time
	perfWindowTick  uint64

	observers     map[string]*observerSub
	observerJoin  chan ObserverJoinRequest
	observerLeave chan string
	stop          chan struct{}

	metrics atomic.Value // WorldMetrics
	frame   atomic.Pointer[Frame]
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// Transition records one state change. Station is the station involved in
// the change (reserved, reached, released), if any.
type Transition struct {
	Robot   RobotID     `json:"robot"`
	From    State       `json:"from"`
	To      State       `json:"to"`
	Cause   Cause       `json:"cause"`
	Station stations.ID `json:"station,omitempty"`
	Battery float64     `json:"battery"`
}

type TickLogEntry struct {
	Tick        uint64       `json:"tick"`
	Transitions []Transition `json:"transitions,omitempty"`
	Digest      string       `json:"digest"`
}

func New(cfg Config) (*World, error) {
	cfg.applyDefaults()
	if cfg.RobotCount < 0 {
		return nil, fmt.Errorf("robot_count must be >= 0, got %d", cfg.RobotCount)
	}

	w := &World{
		cfg:           cfg,
		dt:            cfg.TickDuration(),
		stations:      stations.NewRegistry(cfg.PickupStations, cfg.DropoffStations, cfg.ChargerStations),
		observers:     map[string]*observerSub{},
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerLeave: make(chan string, 64),
		stop:          make(chan struct{}),
	}

	w.robots = make([]Robot, cfg.RobotCount)
	for i := range w.robots {
		pos := cfg.SpawnOrigin.Add(vecmath.Vec3{X: float64(i) * cfg.SpawnSpacing})
		w.robots[i] = Robot{
			ID:     RobotID(i + 1),
			Pos:    pos,
			Speed:  cfg.RobotSpeed,
			Target: vecmath.Zero,
			State:  StateIdle,
			Timers: Timers{
				Work:   NewTimer(cfg.WorkTime),
				Charge: NewTimer(cfg.ChargingTime),
			},
			Battery: cfg.InitialBattery,
		}
	}
	w.obstacles = make([]avoidance.Obstacle, 0, len(w.robots))

	w.publish(0, 0)
	return w, nil
}

func (w *World) SetLogger(l *log.Logger)      { w.log = l }
func (w *World) SetTickLogger(l TickLogger)   { w.tickLogger = l }
func (w *World) Config() Config               { return w.cfg }
func (w *World) CurrentTick() uint64          { return w.tick.Load() }
func (w *World) Stations() []stations.Station { return w.stations.Stations() }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

// Robots returns deep copies of every robot. Call only from the loop
// goroutine or while the loop is not running.
func (w *World) Robots() []Robot {
	out := make([]Robot, len(w.robots))
	for i := range w.robots {
		out[i] = w.robots[i].clone()
	}
	return out
}

// Robot returns a copy of robot id.
func (w *World) Robot(id RobotID) (Robot, bool) {
	r := w.robot(id)
	if r == nil {
		return Robot{}, false
	}
	return r.clone(), true
}

func (w *World) robot(id RobotID) *Robot {
	if id == 0 || int(id) > len(w.robots) {
		return nil
	}
	return &w.robots[id-1]
}

func (w *World) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Printf(format, args...)
	}
}

// transition moves r to state to and records it for this tick's log.
func (w *World) transition(r *Robot, to State, cause Cause, station stations.ID) {
	if r.State == to {
		return
	}
	w.transitions = append(w.transitions, Transition{
		Robot:   r.ID,
		From:    r.State,
		To:      to,
		Cause:   cause,
		Station: station,
		Battery: r.Battery,
	})
	r.State = to
}
