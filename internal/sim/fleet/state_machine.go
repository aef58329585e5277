package fleet

import "swarmsim/internal/sim/fleet/stations"

// systemStateMachine evaluates one transition per robot, in id order. Station
// contention is resolved by that order: the first robot processed claims the
// first free station and later robots see it booked.
func (w *World) systemStateMachine(nowTick uint64) {
	for i := range w.robots {
		r := &w.robots[i]

		switch r.State {
		case StateDead:
			continue

		case StateIdle:
			w.tryReserve(r, stations.KindPickup, StateMovingToPickup)

		case StateMovingToPickup:
			if w.arrived(r) {
				r.Timers.Work.Reset()
				w.transition(r, StatePickingUp, CauseArrived, r.Reservation)
			}

		case StatePickingUp:
			if r.Timers.Work.Tick(w.dt) {
				id := w.releaseReservation(r)
				w.transition(r, StateWaitingForDropoff, CauseWorkDone, id)
			}

		case StateWaitingForDropoff:
			w.tryReserve(r, stations.KindDropoff, StateMovingToDropoff)

		case StateMovingToDropoff:
			if w.arrived(r) {
				r.Timers.Work.Reset()
				w.transition(r, StateDroppingOff, CauseArrived, r.Reservation)
			}

		case StateDroppingOff:
			if r.Timers.Work.Tick(w.dt) {
				id := w.releaseReservation(r)
				r.Deliveries++
				w.transition(r, StateIdle, CauseWorkDone, id)
			}

		case StateWaitingForCharger:
			// Overwrites the live reservation; the task station stays booked
			// through SavedMemory.
			w.tryReserve(r, stations.KindCharger, StateMovingToCharger)

		case StateMovingToCharger:
			if w.arrived(r) {
				r.Timers.Charge.Duration = w.cfg.ChargingTime
				r.Timers.Charge.Reset()
				w.transition(r, StateCharging, CauseArrived, r.Reservation)
			}

		case StateCharging:
			done := r.Timers.Charge.Tick(w.dt)
			r.Battery += w.cfg.ChargeRate * w.dt
			if r.Battery > maxBattery {
				r.Battery = maxBattery
			}
			if done {
				w.finishCharging(r, nowTick)
			}
		}
	}
}

func (w *World) tryReserve(r *Robot, kind stations.Kind, next State) {
	st, ok := w.stations.Reserve(kind)
	if !ok {
		return
	}
	r.Target = st.Pos
	r.Reservation = st.ID
	w.transition(r, next, CauseReserved, st.ID)
}

func (w *World) releaseReservation(r *Robot) stations.ID {
	id := r.Reservation
	w.stations.Release(id)
	r.Reservation = 0
	return id
}

func (w *World) finishCharging(r *Robot, nowTick uint64) {
	charger := w.releaseReservation(r)
	r.Charges++

	mem := r.Memory
	r.Memory = nil
	if mem == nil {
		w.transition(r, StateIdle, CauseCharged, charger)
		return
	}
	r.Target = mem.ResumeTarget
	r.Reservation = mem.ResumeReservation
	w.transition(r, mem.ResumeState, CauseCharged, charger)
	w.logf("tick=%d robot=%d charged, resuming %s", nowTick, r.ID, mem.ResumeState)
}
