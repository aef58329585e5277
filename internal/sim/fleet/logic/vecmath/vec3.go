package vecmath

import "math"

// Vec3 is a point or direction on the fleet floor. Z is carried for parity
// with 3D callers but the simulation keeps it at 0.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

var Zero = Vec3{}

func V2(x, y float64) Vec3 { return Vec3{X: x, Y: y} }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3) Scale(s float64) Vec3 { return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s} }

func (v Vec3) LengthSquared() float64 { return v.X*v.X + v.Y*v.Y + v.Z*v.Z }

func (v Vec3) Length() float64 { return math.Sqrt(v.LengthSquared()) }

func (v Vec3) Distance(o Vec3) float64 { return v.Sub(o).Length() }

// Normalize returns the unit vector in v's direction, or Zero when v has no
// length (instead of NaN components).
func (v Vec3) Normalize() Vec3 {
	l := v.Length()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return Zero
	}
	return v.Scale(1 / l)
}

func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
