package fleet

import (
	"encoding/json"

	"swarmsim/internal/observerproto"
	"swarmsim/internal/sim/fleet/logic/vecmath"
	"swarmsim/internal/sim/fleet/stations"
)

// Frame is the immutable presentation snapshot published after every tick.
// Tick counts completed ticks. Renderers read it; nothing writes it back.
type Frame struct {
	Tick     uint64             `json:"tick"`
	Robots   []RobotView        `json:"robots"`
	Stations []stations.Station `json:"stations"`
}

type RobotView struct {
	ID          RobotID      `json:"id"`
	Pos         vecmath.Vec3 `json:"pos"`
	State       State        `json:"state"`
	Battery     float64      `json:"battery"`
	Tier        BatteryTier  `json:"tier"`
	Reservation stations.ID  `json:"reservation,omitempty"`
	Deliveries  uint64       `json:"deliveries"`
}

// LatestFrame is safe to call from any goroutine.
func (w *World) LatestFrame() *Frame { return w.frame.Load() }

func (w *World) buildFrame(tick uint64) *Frame {
	f := &Frame{
		Tick:     tick,
		Robots:   make([]RobotView, len(w.robots)),
		Stations: w.stations.Stations(),
	}
	for i := range w.robots {
		r := &w.robots[i]
		f.Robots[i] = RobotView{
			ID:          r.ID,
			Pos:         r.Pos,
			State:       r.State,
			Battery:     r.Battery,
			Tier:        r.Tier(),
			Reservation: r.Reservation,
			Deliveries:  r.Deliveries,
		}
	}
	return f
}

// Msg converts the frame to its observer wire form.
func (f *Frame) Msg() observerproto.FrameMsg {
	msg := observerproto.FrameMsg{
		Type:            observerproto.TypeFrame,
		ProtocolVersion: observerproto.Version,
		Tick:            f.Tick,
		Robots:          make([]observerproto.RobotState, 0, len(f.Robots)),
		Stations:        StationStates(f.Stations),
	}
	for _, r := range f.Robots {
		msg.Robots = append(msg.Robots, observerproto.RobotState{
			ID:          uint32(r.ID),
			Pos:         [3]float64{r.Pos.X, r.Pos.Y, r.Pos.Z},
			State:       r.State.String(),
			Battery:     r.Battery,
			Tier:        string(r.Tier),
			Reservation: uint32(r.Reservation),
			Deliveries:  r.Deliveries,
		})
	}
	return msg
}

func StationStates(in []stations.Station) []observerproto.StationState {
	out := make([]observerproto.StationState, 0, len(in))
	for _, st := range in {
		out = append(out, observerproto.StationState{
			ID:     uint32(st.ID),
			Kind:   st.Kind.String(),
			Pos:    [3]float64{st.Pos.X, st.Pos.Y, st.Pos.Z},
			Booked: st.Booked,
		})
	}
	return out
}

// publish stores the read-only views for tick and fans the frame out to due
// observers.
func (w *World) publish(tick uint64, stepMS float64) {
	f := w.buildFrame(tick)
	w.frame.Store(f)
	w.metrics.Store(w.computeMetrics(tick, stepMS))

	if len(w.observers) == 0 {
		return
	}
	var b []byte
	for _, sub := range w.observers {
		if tick%uint64(sub.every) != 0 {
			continue
		}
		if b == nil {
			var err error
			if b, err = jsonFrame(f); err != nil {
				w.logf("tick=%d frame encode: %v", tick, err)
				return
			}
		}
		sendLatest(sub.out, b)
	}
}

func jsonFrame(f *Frame) ([]byte, error) { return json.Marshal(f.Msg()) }
