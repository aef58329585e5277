package fleet

// systemBattery drains every active robot and applies the death and
// low-battery overrides. It runs after the state machine, so an interrupt
// replaces whatever state was chosen earlier in the same tick.
func (w *World) systemBattery(nowTick uint64) {
	for i := range w.robots {
		r := &w.robots[i]
		if r.State == StateDead || r.State == StateCharging {
			continue
		}

		drain := w.cfg.DrainIdle
		if r.State.IsMoving() {
			drain = w.cfg.DrainMove
		}
		r.Battery -= drain * w.dt

		depleted := r.Battery < w.cfg.DeadBatteryThreshold
		if r.Battery < 0 {
			r.Battery = 0
		}
		if depleted {
			w.kill(r, nowTick)
			continue
		}

		if r.Battery < w.cfg.LowBatteryThreshold && !r.State.IsChargingRelated() {
			r.Memory = &SavedMemory{
				ResumeState:       r.State.ResumeState(),
				ResumeTarget:      r.Target,
				ResumeReservation: r.Reservation,
			}
			w.transition(r, StateWaitingForCharger, CauseLowBattery, r.Reservation)
			w.logf("tick=%d robot=%d low battery (%.1f), looking for charger", nowTick, r.ID, r.Battery)
		}
	}
}

// kill moves r to the terminal state. Unless KeepReservationsOnDeath is set,
// the live reservation and any reservation parked in SavedMemory are released
// so the stations return to the pool.
func (w *World) kill(r *Robot, nowTick uint64) {
	held := r.Reservation
	if !w.cfg.KeepReservationsOnDeath {
		w.releaseReservation(r)
		if r.Memory != nil {
			w.stations.Release(r.Memory.ResumeReservation)
		}
	}
	r.Memory = nil
	w.transition(r, StateDead, CauseDepleted, held)
	w.logf("tick=%d robot=%d died (battery %.2f)", nowTick, r.ID, r.Battery)
}
