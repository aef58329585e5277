package fleet

import (
	"encoding/json"
	"math"
	"testing"

	"swarmsim/internal/observerproto"
	"swarmsim/internal/sim/fleet/logic/vecmath"
	"swarmsim/internal/sim/fleet/stations"
)

func baseConfig() Config {
	return Config{
		TickRateHz:           60,
		RobotCount:           1,
		RobotSpeed:           100,
		CollisionRadius:      10,
		StateChangeRadius:    5,
		LowBatteryThreshold:  20,
		DeadBatteryThreshold: 5,
		DrainIdle:            0.1,
		DrainMove:            0.1,
		ChargingTime:         0.5,
		SpawnOrigin:          vecmath.V2(0, 50),
		SpawnSpacing:         100,
	}
}

func newTestWorld(t *testing.T, cfg Config) *World {
	t.Helper()
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

type captureLogger struct {
	entries []TickLogEntry
}

func (c *captureLogger) WriteTick(e TickLogEntry) error {
	c.entries = append(c.entries, e)
	return nil
}

func (c *captureLogger) transitionsFor(id RobotID) []Transition {
	var out []Transition
	for _, e := range c.entries {
		for _, tr := range e.Transitions {
			if tr.Robot == id {
				out = append(out, tr)
			}
		}
	}
	return out
}

func mustRobot(t *testing.T, w *World, id RobotID) Robot {
	t.Helper()
	r, ok := w.Robot(id)
	if !ok {
		t.Fatalf("robot %d missing", id)
	}
	return r
}

func stationBooked(t *testing.T, w *World, id stations.ID) bool {
	t.Helper()
	st, ok := w.stations.Get(id)
	if !ok {
		t.Fatalf("station %d missing", id)
	}
	return st.Booked
}

func TestNew_SpawnsInALine(t *testing.T) {
	cfg := baseConfig()
	cfg.RobotCount = 3
	w := newTestWorld(t, cfg)

	for i, r := range w.Robots() {
		want := vecmath.V2(float64(i)*100, 50)
		if r.Pos != want {
			t.Fatalf("robot %d pos=%v want %v", r.ID, r.Pos, want)
		}
		if r.State != StateIdle || r.Battery != 100 {
			t.Fatalf("robot %d: state=%s battery=%v", r.ID, r.State, r.Battery)
		}
	}
	if f := w.LatestFrame(); f == nil || f.Tick != 0 || len(f.Robots) != 3 {
		t.Fatalf("initial frame: %+v", f)
	}
}

func TestNew_RejectsNegativeRobotCount(t *testing.T) {
	cfg := baseConfig()
	cfg.RobotCount = -1
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestIdleDrain_TenSecondsWithoutStations(t *testing.T) {
	cfg := baseConfig()
	cfg.DrainIdle = 1.0
	w := newTestWorld(t, cfg)

	for i := 0; i < 600; i++ {
		w.StepOnce()
	}
	r := mustRobot(t, w, 1)
	if r.State != StateIdle {
		t.Fatalf("state=%s want IDLE", r.State)
	}
	if math.Abs(r.Battery-90) > 1e-6 {
		t.Fatalf("battery=%v want 90", r.Battery)
	}
	if w.CurrentTick() != 600 {
		t.Fatalf("tick=%d want 600", w.CurrentTick())
	}
}

func TestDeath_IsTerminal(t *testing.T) {
	cfg := baseConfig()
	cfg.InitialBattery = 6
	cfg.DrainIdle = 30 // 0.5 per tick
	w := newTestWorld(t, cfg)

	w.StepOnce() // 5.5, low battery interrupt
	if r := mustRobot(t, w, 1); r.State != StateWaitingForCharger {
		t.Fatalf("tick 1 state=%s", r.State)
	}
	w.StepOnce() // 5.0, not below the threshold yet
	if r := mustRobot(t, w, 1); r.State == StateDead {
		t.Fatalf("died at exactly the threshold")
	}
	w.StepOnce() // 4.5
	r := mustRobot(t, w, 1)
	if r.State != StateDead {
		t.Fatalf("state=%s want DEAD", r.State)
	}
	deadBattery := r.Battery

	for i := 0; i < 120; i++ {
		w.StepOnce()
	}
	r = mustRobot(t, w, 1)
	if r.State != StateDead || r.Battery != deadBattery {
		t.Fatalf("dead robot changed: state=%s battery=%v", r.State, r.Battery)
	}
	if r.Tier() != TierTerminal {
		t.Fatalf("tier=%s", r.Tier())
	}
}

func TestDeath_ReleasesReservation(t *testing.T) {
	cfg := baseConfig()
	cfg.InitialBattery = 10
	cfg.DrainMove = 600 // 10 per tick
	cfg.PickupStations = []vecmath.Vec3{vecmath.V2(1000, 50)}
	w := newTestWorld(t, cfg)

	w.StepOnce()
	r := mustRobot(t, w, 1)
	if r.State != StateDead {
		t.Fatalf("state=%s want DEAD", r.State)
	}
	if r.Reservation != 0 {
		t.Fatalf("dead robot still holds %d", r.Reservation)
	}
	if stationBooked(t, w, 1) {
		t.Fatalf("pickup still booked after death")
	}
}

func TestDeath_KeepReservationsOnDeath(t *testing.T) {
	cfg := baseConfig()
	cfg.InitialBattery = 10
	cfg.DrainMove = 600
	cfg.KeepReservationsOnDeath = true
	cfg.PickupStations = []vecmath.Vec3{vecmath.V2(1000, 50)}
	w := newTestWorld(t, cfg)

	w.StepOnce()
	if r := mustRobot(t, w, 1); r.State != StateDead {
		t.Fatalf("state=%s want DEAD", r.State)
	}
	if !stationBooked(t, w, 1) {
		t.Fatalf("pickup should stay booked forever in keep mode")
	}
}

func TestInterruptFidelity_PickingUpResumesAsMovingToPickup(t *testing.T) {
	cfg := baseConfig()
	cfg.InitialBattery = 21.5
	cfg.LowBatteryThreshold = 20
	cfg.DeadBatteryThreshold = 1
	cfg.DrainIdle = 60 // 1 per tick
	cfg.DrainMove = 0
	cfg.PickupStations = []vecmath.Vec3{vecmath.V2(0, 50)}
	cfg.DropoffStations = []vecmath.Vec3{vecmath.V2(500, 50)}
	cfg.ChargerStations = []vecmath.Vec3{vecmath.V2(0, 50)}
	w := newTestWorld(t, cfg)

	w.StepOnce() // reserve pickup
	w.StepOnce() // arrive, start picking up
	if r := mustRobot(t, w, 1); r.State != StatePickingUp || r.Reservation != 1 {
		t.Fatalf("want PICKING_UP holding 1, got %s holding %d", r.State, r.Reservation)
	}

	w.StepOnce() // battery 19.5 -> interrupt
	r := mustRobot(t, w, 1)
	if r.State != StateWaitingForCharger {
		t.Fatalf("state=%s want WAITING_FOR_CHARGER", r.State)
	}
	if r.Memory == nil {
		t.Fatalf("no saved memory")
	}
	if r.Memory.ResumeState != StateMovingToPickup || r.Memory.ResumeReservation != 1 {
		t.Fatalf("memory=%+v", *r.Memory)
	}
	if r.Memory.ResumeTarget != vecmath.V2(0, 50) {
		t.Fatalf("resume target=%v", r.Memory.ResumeTarget)
	}

	prev := r.Battery
	sawCharging := false
	for i := 0; i < 200; i++ {
		w.StepOnce()
		r = mustRobot(t, w, 1)
		if r.State == StateCharging {
			sawCharging = true
			if r.Battery < prev {
				t.Fatalf("battery decreased while charging: %v -> %v", prev, r.Battery)
			}
			if !stationBooked(t, w, 1) {
				t.Fatalf("task pickup released during charging detour")
			}
		}
		prev = r.Battery
		if sawCharging && r.State != StateCharging {
			break
		}
	}
	if !sawCharging {
		t.Fatalf("never charged")
	}
	if r.State != StateMovingToPickup {
		t.Fatalf("resumed state=%s want MOVING_TO_PICKUP", r.State)
	}
	if r.Reservation != 1 || r.Memory != nil {
		t.Fatalf("reservation=%d memory=%v", r.Reservation, r.Memory)
	}
	if stationBooked(t, w, 3) {
		t.Fatalf("charger still booked after charging")
	}
	if r.Charges != 1 {
		t.Fatalf("charges=%d", r.Charges)
	}
}

func TestInterruptFidelity_DroppingOffResumesAsMovingToDropoff(t *testing.T) {
	cfg := baseConfig()
	cfg.LowBatteryThreshold = 20
	cfg.DeadBatteryThreshold = 1
	cfg.DrainIdle = 60 // 1 per tick
	cfg.DrainMove = 0
	cfg.WorkTime = 5.0 / 60
	cfg.PickupStations = []vecmath.Vec3{vecmath.V2(0, 50)}
	cfg.DropoffStations = []vecmath.Vec3{vecmath.V2(0, 50)}
	cfg.ChargerStations = []vecmath.Vec3{vecmath.V2(0, 50)}
	w := newTestWorld(t, cfg)

	for i := 0; i < 50 && mustRobot(t, w, 1).State != StateDroppingOff; i++ {
		w.StepOnce()
	}
	if r := mustRobot(t, w, 1); r.State != StateDroppingOff || r.Reservation != 2 {
		t.Fatalf("want DROPPING_OFF holding 2, got %s holding %d", r.State, r.Reservation)
	}

	w.robots[0].Battery = 20.5
	w.StepOnce() // battery 19.5 -> interrupt
	r := mustRobot(t, w, 1)
	if r.State != StateWaitingForCharger {
		t.Fatalf("state=%s want WAITING_FOR_CHARGER", r.State)
	}
	if r.Memory == nil {
		t.Fatalf("no saved memory")
	}
	if r.Memory.ResumeState != StateMovingToDropoff || r.Memory.ResumeReservation != 2 {
		t.Fatalf("memory=%+v", *r.Memory)
	}
	if r.Memory.ResumeTarget != vecmath.V2(0, 50) {
		t.Fatalf("resume target=%v", r.Memory.ResumeTarget)
	}
	if !stationBooked(t, w, 2) {
		t.Fatalf("dropoff released on interrupt")
	}

	sawCharging := false
	for i := 0; i < 200; i++ {
		w.StepOnce()
		r = mustRobot(t, w, 1)
		if r.State == StateCharging {
			sawCharging = true
			if !stationBooked(t, w, 2) {
				t.Fatalf("task dropoff released during charging detour")
			}
		}
		if sawCharging && r.State != StateCharging {
			break
		}
	}
	if !sawCharging {
		t.Fatalf("never charged")
	}
	if r.State != StateMovingToDropoff {
		t.Fatalf("resumed state=%s want MOVING_TO_DROPOFF", r.State)
	}
	if r.Reservation != 2 || r.Memory != nil {
		t.Fatalf("reservation=%d memory=%v", r.Reservation, r.Memory)
	}
	if stationBooked(t, w, 3) {
		t.Fatalf("charger still booked after charging")
	}

	for i := 0; i < 50 && mustRobot(t, w, 1).Deliveries == 0; i++ {
		w.StepOnce()
	}
	if r := mustRobot(t, w, 1); r.Deliveries != 1 || r.State != StateIdle {
		t.Fatalf("after resume: deliveries=%d state=%s", r.Deliveries, r.State)
	}
	if stationBooked(t, w, 2) {
		t.Fatalf("dropoff still booked after delivery")
	}
}

func TestEndToEndCycle(t *testing.T) {
	cfg := baseConfig()
	cfg.PickupStations = []vecmath.Vec3{vecmath.V2(100, 50)}
	cfg.DropoffStations = []vecmath.Vec3{vecmath.V2(200, 50)}
	w := newTestWorld(t, cfg)
	logs := &captureLogger{}
	w.SetTickLogger(logs)

	done := false
	for i := 0; i < 1000 && !done; i++ {
		w.StepOnce()
		if r := mustRobot(t, w, 1); r.Deliveries == 1 {
			done = true
			if r.State != StateIdle {
				t.Fatalf("state after delivery=%s", r.State)
			}
			if stationBooked(t, w, 1) || stationBooked(t, w, 2) {
				t.Fatalf("stations still booked after cycle")
			}
		}
	}
	if !done {
		t.Fatalf("cycle did not complete")
	}

	want := []State{
		StateMovingToPickup, StatePickingUp, StateWaitingForDropoff,
		StateMovingToDropoff, StateDroppingOff, StateIdle,
	}
	got := logs.transitionsFor(1)
	if len(got) != len(want) {
		t.Fatalf("transitions=%v", got)
	}
	for i, tr := range got {
		if tr.To != want[i] {
			t.Fatalf("transition %d: to=%s want %s", i, tr.To, want[i])
		}
	}
	if got[0].Cause != CauseReserved || got[0].Station != 1 {
		t.Fatalf("first transition=%+v", got[0])
	}
	if got[5].Cause != CauseWorkDone || got[5].Station != 2 {
		t.Fatalf("last transition=%+v", got[5])
	}
}

func TestContention_LowerIDClaimsFirst(t *testing.T) {
	cfg := baseConfig()
	cfg.RobotCount = 2
	cfg.PickupStations = []vecmath.Vec3{vecmath.V2(50, 500)}
	w := newTestWorld(t, cfg)

	w.StepOnce()
	r1 := mustRobot(t, w, 1)
	r2 := mustRobot(t, w, 2)
	if r1.State != StateMovingToPickup || r1.Reservation != 1 {
		t.Fatalf("robot 1: %s holding %d", r1.State, r1.Reservation)
	}
	if r2.State != StateIdle || r2.Reservation != 0 {
		t.Fatalf("robot 2: %s holding %d", r2.State, r2.Reservation)
	}
}

func TestContention_WaitingForDropoffTakesFreedStation(t *testing.T) {
	cfg := baseConfig()
	cfg.DrainIdle = 0
	cfg.DrainMove = 0
	cfg.WorkTime = 2.0 / 60
	cfg.PickupStations = []vecmath.Vec3{vecmath.V2(0, 50)}
	cfg.DropoffStations = []vecmath.Vec3{vecmath.V2(300, 50), vecmath.V2(400, 50)}
	w := newTestWorld(t, cfg)

	var held []stations.Station
	for i := 0; i < 2; i++ {
		st, ok := w.stations.Reserve(stations.KindDropoff)
		if !ok {
			t.Fatalf("could not book dropoff %d", i)
		}
		held = append(held, st)
	}

	for i := 0; i < 20 && mustRobot(t, w, 1).State != StateWaitingForDropoff; i++ {
		w.StepOnce()
	}
	for i := 0; i < 30; i++ {
		w.StepOnce()
		if r := mustRobot(t, w, 1); r.State != StateWaitingForDropoff || r.Reservation != 0 {
			t.Fatalf("tick %d: %s holding %d while every dropoff is booked", i, r.State, r.Reservation)
		}
	}

	w.stations.Release(held[1].ID)
	w.StepOnce()
	r := mustRobot(t, w, 1)
	if r.State != StateMovingToDropoff || r.Reservation != held[1].ID {
		t.Fatalf("after release: %s holding %d want MOVING_TO_DROPOFF holding %d", r.State, r.Reservation, held[1].ID)
	}
	if r.Target != held[1].Pos {
		t.Fatalf("target=%v want %v", r.Target, held[1].Pos)
	}
	if !stationBooked(t, w, held[1].ID) || !stationBooked(t, w, held[0].ID) {
		t.Fatalf("booked flags wrong after claim")
	}
}

func TestContention_WaitingForChargerTakesFreedStation(t *testing.T) {
	cfg := baseConfig()
	cfg.InitialBattery = 20.5
	cfg.LowBatteryThreshold = 20
	cfg.DeadBatteryThreshold = 1
	cfg.DrainIdle = 60 // 1 per tick
	cfg.DrainMove = 0
	cfg.ChargerStations = []vecmath.Vec3{vecmath.V2(0, 50)}
	w := newTestWorld(t, cfg)

	charger, ok := w.stations.Reserve(stations.KindCharger)
	if !ok {
		t.Fatalf("could not book charger")
	}

	w.StepOnce() // battery 19.5 -> interrupt
	for i := 0; i < 5; i++ {
		r := mustRobot(t, w, 1)
		if r.State != StateWaitingForCharger || r.Reservation != 0 {
			t.Fatalf("tick %d: %s holding %d while the charger is booked", i, r.State, r.Reservation)
		}
		w.StepOnce()
	}

	w.stations.Release(charger.ID)
	w.StepOnce()
	r := mustRobot(t, w, 1)
	if r.State != StateMovingToCharger || r.Reservation != charger.ID {
		t.Fatalf("after release: %s holding %d want MOVING_TO_CHARGER holding %d", r.State, r.Reservation, charger.ID)
	}
	if r.Memory == nil || r.Memory.ResumeState != StateIdle {
		t.Fatalf("memory=%v", r.Memory)
	}
	if !stationBooked(t, w, charger.ID) {
		t.Fatalf("charger not booked after claim")
	}
}

func TestFleetInvariants_UnderContention(t *testing.T) {
	cfg := baseConfig()
	cfg.RobotCount = 8
	cfg.DrainIdle = 2
	cfg.DrainMove = 6
	cfg.ChargingTime = 1
	cfg.PickupStations = []vecmath.Vec3{vecmath.V2(100, 300), vecmath.V2(400, 300)}
	cfg.DropoffStations = []vecmath.Vec3{vecmath.V2(100, -200), vecmath.V2(600, -200)}
	cfg.ChargerStations = []vecmath.Vec3{vecmath.V2(350, 50)}
	w := newTestWorld(t, cfg)

	prevBattery := map[RobotID]float64{}
	prevState := map[RobotID]State{}
	for tick := 0; tick < 4000; tick++ {
		w.StepOnce()

		holders := map[stations.ID]RobotID{}
		hold := func(r Robot, id stations.ID) {
			if id == 0 {
				return
			}
			if other, ok := holders[id]; ok && other != r.ID {
				t.Fatalf("tick %d: station %d held by robots %d and %d", tick, id, other, r.ID)
			}
			holders[id] = r.ID
		}
		for _, r := range w.Robots() {
			if r.Battery < 0 || r.Battery > 100 {
				t.Fatalf("tick %d: robot %d battery %v out of range", tick, r.ID, r.Battery)
			}
			if r.State == StateDead && (r.Reservation != 0 || r.Memory != nil) {
				t.Fatalf("tick %d: dead robot %d holds resources", tick, r.ID)
			}
			if r.State == StateCharging && prevState[r.ID] == StateCharging && r.Battery < prevBattery[r.ID] {
				t.Fatalf("tick %d: robot %d lost charge while charging", tick, r.ID)
			}
			hold(r, r.Reservation)
			if r.Memory != nil {
				hold(r, r.Memory.ResumeReservation)
			}
			prevBattery[r.ID] = r.Battery
			prevState[r.ID] = r.State
		}

		for _, st := range w.Stations() {
			_, held := holders[st.ID]
			if held != st.Booked {
				t.Fatalf("tick %d: station %d booked=%v held=%v", tick, st.ID, st.Booked, held)
			}
		}
		for _, k := range stations.Kinds {
			if w.stations.BookedCount(k) > w.stations.Total(k) {
				t.Fatalf("tick %d: %s over-booked", tick, k)
			}
		}
	}

	m := w.Metrics()
	if m.Tick != 4000 || m.Robots != 8 {
		t.Fatalf("metrics=%+v", m)
	}
	if m.Deliveries == 0 {
		t.Fatalf("no deliveries in 4000 ticks")
	}
}

func TestDeterminism_SameConfigSameDigests(t *testing.T) {
	cfg := baseConfig()
	cfg.RobotCount = 5
	cfg.DrainMove = 3
	cfg.PickupStations = []vecmath.Vec3{vecmath.V2(100, 200)}
	cfg.DropoffStations = []vecmath.Vec3{vecmath.V2(300, -100)}
	cfg.ChargerStations = []vecmath.Vec3{vecmath.V2(200, 50)}

	a := newTestWorld(t, cfg)
	b := newTestWorld(t, cfg)
	for i := 0; i < 1500; i++ {
		ta, da := a.StepOnce()
		tb, db := b.StepOnce()
		if ta != tb || da != db {
			t.Fatalf("diverged at step %d: %d/%s vs %d/%s", i, ta, da, tb, db)
		}
	}
}

func TestStepOnce_DigestMatchesTickLog(t *testing.T) {
	w := newTestWorld(t, baseConfig())
	logs := &captureLogger{}
	w.SetTickLogger(logs)

	for i := 0; i < 5; i++ {
		tick, digest := w.StepOnce()
		e := logs.entries[len(logs.entries)-1]
		if e.Tick != tick || e.Digest != digest {
			t.Fatalf("log entry %+v, StepOnce (%d, %s)", e, tick, digest)
		}
	}
}

func TestObserver_ReceivesFramesOnItsCadence(t *testing.T) {
	w := newTestWorld(t, baseConfig())
	out := make(chan []byte, 1)
	w.handleObserverJoin(ObserverJoinRequest{SessionID: "s1", Out: out, EveryNTicks: 2})

	readTick := func() uint64 {
		t.Helper()
		select {
		case b := <-out:
			var msg observerproto.FrameMsg
			if err := json.Unmarshal(b, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if msg.Type != observerproto.TypeFrame || len(msg.Robots) != 1 {
				t.Fatalf("frame=%+v", msg)
			}
			return msg.Tick
		default:
			t.Fatalf("no frame queued")
		}
		return 0
	}

	if got := readTick(); got != 0 {
		t.Fatalf("join frame tick=%d", got)
	}
	w.StepOnce()
	select {
	case <-out:
		t.Fatalf("frame sent off cadence")
	default:
	}
	w.StepOnce()
	if got := readTick(); got != 2 {
		t.Fatalf("frame tick=%d want 2", got)
	}
	if w.Metrics().Observers != 1 {
		t.Fatalf("observers=%d", w.Metrics().Observers)
	}

	w.handleObserverLeave("s1")
	w.StepOnce()
	w.StepOnce()
	select {
	case <-out:
		t.Fatalf("frame after leave")
	default:
	}
}
