package fleet

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// stateDigest hashes everything that influences future ticks: robot
// kinematics, states, timers, batteries, reservations and the station
// booking table. Two worlds with equal digests evolve identically.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteU64(h, &tmp, uint64(len(w.robots)))
	for i := range w.robots {
		r := &w.robots[i]
		digestWriteU64(h, &tmp, uint64(r.ID))
		h.Write([]byte{byte(r.State)})
		digestWriteF64(h, &tmp, r.Pos.X)
		digestWriteF64(h, &tmp, r.Pos.Y)
		digestWriteF64(h, &tmp, r.Pos.Z)
		digestWriteF64(h, &tmp, r.Target.X)
		digestWriteF64(h, &tmp, r.Target.Y)
		digestWriteF64(h, &tmp, r.Target.Z)
		digestWriteF64(h, &tmp, r.Battery)
		digestWriteF64(h, &tmp, r.Timers.Work.Elapsed)
		digestWriteF64(h, &tmp, r.Timers.Charge.Elapsed)
		digestWriteU64(h, &tmp, uint64(r.Reservation))
		if m := r.Memory; m != nil {
			h.Write([]byte{1, byte(m.ResumeState)})
			digestWriteF64(h, &tmp, m.ResumeTarget.X)
			digestWriteF64(h, &tmp, m.ResumeTarget.Y)
			digestWriteF64(h, &tmp, m.ResumeTarget.Z)
			digestWriteU64(h, &tmp, uint64(m.ResumeReservation))
		} else {
			h.Write([]byte{0})
		}
		digestWriteU64(h, &tmp, r.Deliveries)
		digestWriteU64(h, &tmp, r.Charges)
	}

	for _, st := range w.stations.Stations() {
		digestWriteU64(h, &tmp, uint64(st.ID))
		h.Write([]byte{boolByte(st.Booked)})
	}

	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
