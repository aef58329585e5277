package fleet

import "swarmsim/internal/sim/fleet/logic/avoidance"

// systemMovement displaces every robot in a moving state. Avoidance reads a
// snapshot taken before any robot moves this tick, so the result does not
// depend on iteration order. Dead robots stay in the snapshot as obstacles.
func (w *World) systemMovement() {
	obs := w.obstacles[:0]
	for i := range w.robots {
		r := &w.robots[i]
		obs = append(obs, avoidance.Obstacle{ID: uint32(r.ID), Pos: r.Pos})
	}
	w.obstacles = obs

	for i := range w.robots {
		r := &w.robots[i]
		if r.State == StateDead || !r.State.IsMoving() {
			continue
		}
		sep, critical := avoidance.Force(uint32(r.ID), r.Pos, obs, w.cfg.CollisionRadius)
		r.Pos = r.Pos.Add(avoidance.Blend(r.Pos, r.Target, r.Speed, w.dt, sep, critical))
	}
}

func (w *World) arrived(r *Robot) bool {
	return r.Pos.Distance(r.Target) < w.cfg.StateChangeRadius
}
