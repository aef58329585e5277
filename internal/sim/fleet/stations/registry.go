package stations

import (
	"fmt"
	"sync"

	"swarmsim/internal/sim/fleet/logic/vecmath"
)

// ID names a station. Zero means "no station".
type ID uint32

type Kind uint8

const (
	KindPickup Kind = iota + 1
	KindDropoff
	KindCharger
)

var kindNames = [...]string{
	KindPickup:  "pickup",
	KindDropoff: "dropoff",
	KindCharger: "charger",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for i, n := range kindNames {
		if n != "" && n == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown station kind %q", string(b))
}

// Kinds lists the pools in their fixed registration order.
var Kinds = []Kind{KindPickup, KindDropoff, KindCharger}

type Station struct {
	ID     ID           `json:"id"`
	Kind   Kind         `json:"kind"`
	Pos    vecmath.Vec3 `json:"pos"`
	Booked bool         `json:"booked"`
}

// pool is a single-writer view over the stations of one kind.
type pool struct {
	mu  sync.Mutex
	ids []ID
}

// Registry owns every station and their booked flags. Stations live in one
// table indexed by id-1; each kind has its own pool lock so reservations of
// different kinds never contend, while two callers asking for the same kind
// are serialized.
type Registry struct {
	table []Station
	pools [len(kindNames)]*pool
}

func NewRegistry(pickups, dropoffs, chargers []vecmath.Vec3) *Registry {
	r := &Registry{}
	for _, k := range Kinds {
		r.pools[k] = &pool{}
	}
	r.add(KindPickup, pickups)
	r.add(KindDropoff, dropoffs)
	r.add(KindCharger, chargers)
	return r
}

func (r *Registry) add(kind Kind, positions []vecmath.Vec3) {
	p := r.pools[kind]
	for _, pos := range positions {
		id := ID(len(r.table) + 1)
		r.table = append(r.table, Station{ID: id, Kind: kind, Pos: pos})
		p.ids = append(p.ids, id)
	}
}

func (r *Registry) pool(kind Kind) *pool {
	if int(kind) >= len(r.pools) {
		return nil
	}
	return r.pools[kind]
}

func (r *Registry) slot(id ID) *Station {
	if id == 0 || int(id) > len(r.table) {
		return nil
	}
	return &r.table[id-1]
}

// Reserve books the first free station of kind in registration order.
// ok is false when every station of that kind is already booked.
func (r *Registry) Reserve(kind Kind) (Station, bool) {
	p := r.pool(kind)
	if p == nil {
		return Station{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.ids {
		st := &r.table[id-1]
		if st.Booked {
			continue
		}
		st.Booked = true
		return *st, true
	}
	return Station{}, false
}

// Release clears the booked flag. Unknown, zero, or already free ids are
// ignored: a robot may hold a stale reference.
func (r *Registry) Release(id ID) {
	st := r.slot(id)
	if st == nil {
		return
	}
	p := r.pool(st.Kind)
	p.mu.Lock()
	st.Booked = false
	p.mu.Unlock()
}

func (r *Registry) Get(id ID) (Station, bool) {
	st := r.slot(id)
	if st == nil {
		return Station{}, false
	}
	p := r.pool(st.Kind)
	p.mu.Lock()
	defer p.mu.Unlock()
	return *st, true
}

// Stations returns a copy of the table in registration order.
func (r *Registry) Stations() []Station {
	out := make([]Station, 0, len(r.table))
	for _, k := range Kinds {
		p := r.pools[k]
		p.mu.Lock()
		for _, id := range p.ids {
			out = append(out, r.table[id-1])
		}
		p.mu.Unlock()
	}
	return out
}

func (r *Registry) Total(kind Kind) int {
	p := r.pool(kind)
	if p == nil {
		return 0
	}
	return len(p.ids)
}

func (r *Registry) BookedCount(kind Kind) int {
	p := r.pool(kind)
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, id := range p.ids {
		if r.table[id-1].Booked {
			n++
		}
	}
	return n
}

func (r *Registry) Len() int { return len(r.table) }
