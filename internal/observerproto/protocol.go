package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeFrame     = "FRAME"
)

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// EveryNTicks throttles frames; 0 uses the server default.
	EveryNTicks int `json:"every_n_ticks,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	RunID           string         `json:"run_id"`
	FloorID         string         `json:"floor_id"`
	Tick            uint64         `json:"tick"`
	Params          FloorParams    `json:"params"`
	Stations        []StationState `json:"stations"`
}

type FloorParams struct {
	TickRateHz        int     `json:"tick_rate_hz"`
	RobotCount        int     `json:"robot_count"`
	CollisionRadius   float64 `json:"collision_radius"`
	StateChangeRadius float64 `json:"state_change_radius"`
	LowBattery        float64 `json:"low_battery_threshold"`
	DeadBattery       float64 `json:"dead_battery_threshold"`
}

// Server -> Client. Read-only view of one tick.
type FrameMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Tick            uint64         `json:"tick"`
	Robots          []RobotState   `json:"robots"`
	Stations        []StationState `json:"stations"`
}

type RobotState struct {
	ID          uint32     `json:"id"`
	Pos         [3]float64 `json:"pos"`
	State       string     `json:"state"`
	Battery     float64    `json:"battery"`
	Tier        string     `json:"tier"`
	Reservation uint32     `json:"reservation,omitempty"`
	Deliveries  uint64     `json:"deliveries"`
}

type StationState struct {
	ID     uint32     `json:"id"`
	Kind   string     `json:"kind"`
	Pos    [3]float64 `json:"pos"`
	Booked bool       `json:"booked"`
}
