package fleet

import "swarmsim/internal/sim/fleet/stations"

// WorldMetrics is a thread-safe read-only view of fleet runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Robots      int           `json:"robots"`
	StateCounts map[State]int `json:"state_counts"`
	Dead        int           `json:"dead"`
	LowBattery  int           `json:"low_battery"`

	Booked map[string]int `json:"booked"`

	Deliveries uint64 `json:"deliveries"`
	Charges    uint64 `json:"charges"`

	Observers   int         `json:"observers"`
	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`
}

type QueueDepths struct {
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) computeMetrics(tick uint64, stepMS float64) WorldMetrics {
	m := WorldMetrics{
		Tick:        tick,
		Robots:      len(w.robots),
		StateCounts: make(map[State]int, len(States)),
		Booked:      make(map[string]int, 3),
		Observers:   len(w.observers),
		QueueDepths: QueueDepths{
			Join:  len(w.observerJoin),
			Leave: len(w.observerLeave),
		},
		StepMS: stepMS,
	}
	for i := range w.robots {
		r := &w.robots[i]
		m.StateCounts[r.State]++
		if r.State == StateDead {
			m.Dead++
		} else if r.Tier() == TierLow {
			m.LowBattery++
		}
		m.Deliveries += r.Deliveries
		m.Charges += r.Charges
	}
	for _, k := range stations.Kinds {
		m.Booked[k.String()] = w.stations.BookedCount(k)
	}
	return m
}
