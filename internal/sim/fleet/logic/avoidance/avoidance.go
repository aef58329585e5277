package avoidance

import "swarmsim/internal/sim/fleet/logic/vecmath"

const (
	// YieldWeight scales the push applied to the lower-id robot of a pair.
	YieldWeight = 0.5
	// HoldWeight scales the push applied to the higher-id robot of a pair.
	HoldWeight = 3.0

	// ArrivalRadius is the distance under which robots slow down on approach.
	ArrivalRadius   = 10.0
	minArrivalScale = 0.1

	goalEpsilon    = 0.01
	minDirectionSq = 0.0001
)

// Obstacle is one entry of the per-tick position snapshot.
type Obstacle struct {
	ID  uint32
	Pos vecmath.Vec3
}

// Force computes the separation vector for robot self at pos against the
// snapshot. Pairs are tie-broken by id: the lower id yields, the higher id
// holds. critical is set only on the holder side when the pair is closer than
// half the radius.
func Force(self uint32, pos vecmath.Vec3, obstacles []Obstacle, radius float64) (sep vecmath.Vec3, critical bool) {
	if radius <= 0 {
		return vecmath.Zero, false
	}
	for _, o := range obstacles {
		if o.ID == self {
			continue
		}
		d := pos.Distance(o.Pos)
		if d >= radius {
			continue
		}
		away := pos.Sub(o.Pos).Normalize()
		strength := 1 - d/radius

		if self < o.ID {
			sep = sep.Add(away.Scale(strength * YieldWeight))
			continue
		}
		if d < radius*0.5 {
			critical = true
		}
		sep = sep.Add(away.Scale(strength * HoldWeight))
	}
	return sep, critical
}

// Blend mixes the goal direction with the separation force and returns the
// displacement for one tick. In a critical overlap the goal is ignored.
func Blend(pos, target vecmath.Vec3, speed, dt float64, sep vecmath.Vec3, critical bool) vecmath.Vec3 {
	toTarget := target.Sub(pos)
	dist := toTarget.Length()

	goal := vecmath.Zero
	if dist > goalEpsilon {
		goal = toTarget.Normalize()
	}

	final := sep
	if !critical {
		final = goal.Add(sep)
	}
	if final.LengthSquared() <= minDirectionSq {
		return vecmath.Zero
	}

	eff := speed
	if dist < ArrivalRadius {
		eff = speed * vecmath.Clamp(dist/ArrivalRadius, minArrivalScale, 1.0)
	}
	return final.Normalize().Scale(eff * dt)
}
