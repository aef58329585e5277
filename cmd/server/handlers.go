package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"swarmsim/internal/persistence/indexdb"
	"swarmsim/internal/sim/fleet"
	"swarmsim/internal/transport/bus"
	"swarmsim/internal/transport/observer"
)

type routerConfig struct {
	Floor   *fleet.World
	RunID   string
	Index   runtimeIndex
	Bus     *bus.Sink
	Logger  *log.Logger
	Admin   bool
	Pprof   bool
	Observe *observer.Server
}

func newRouter(c routerConfig) http.Handler {
	floorID := c.Floor.ID()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Get("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := c.Floor.Metrics()
		var st indexdb.Stats
		if c.Index != nil {
			st = c.Index.Stats()
		}
		writeMetrics(rw, floorID, m, st)
		if c.Bus != nil {
			writeBusMetrics(rw, floorID, c.Bus.Stats())
		}
	})

	if c.Admin {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(loopbackOnly)

			r.Get("/state", func(rw http.ResponseWriter, r *http.Request) {
				resp := struct {
					FloorID string             `json:"floor_id"`
					RunID   string             `json:"run_id"`
					Tick    uint64             `json:"tick"`
					Metrics fleet.WorldMetrics `json:"metrics"`
				}{
					FloorID: floorID,
					RunID:   c.RunID,
					Tick:    c.Floor.CurrentTick(),
					Metrics: c.Floor.Metrics(),
				}
				writeJSON(rw, http.StatusOK, resp)
			})
			r.Get("/frame", func(rw http.ResponseWriter, r *http.Request) {
				f := c.Floor.LatestFrame()
				if f == nil {
					http.Error(rw, "no frame yet", http.StatusServiceUnavailable)
					return
				}
				writeJSON(rw, http.StatusOK, f.Msg())
			})
			r.Get("/robots/{id}/transitions", func(rw http.ResponseWriter, r *http.Request) {
				if c.Index == nil {
					http.Error(rw, "index disabled", http.StatusServiceUnavailable)
					return
				}
				id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
				if err != nil || id == 0 {
					http.Error(rw, "bad robot id", http.StatusBadRequest)
					return
				}
				limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
				rows, err := c.Index.RobotTransitions(r.Context(), uint32(id), limit)
				if err != nil {
					if c.Logger != nil {
						c.Logger.Printf("robot %d transitions: %v", id, err)
					}
					http.Error(rw, "query failed", http.StatusInternalServerError)
					return
				}
				if rows == nil {
					rows = []indexdb.TransitionRow{}
				}
				writeJSON(rw, http.StatusOK, rows)
			})

			if c.Observe != nil {
				r.Get("/observer/bootstrap", c.Observe.BootstrapHandler())
				r.Get("/observer/ws", c.Observe.WSHandler())
			}
		})
	} else if c.Logger != nil {
		c.Logger.Printf("admin endpoints disabled (SWARM_ENABLE_ADMIN_HTTP=false)")
	}

	if c.Pprof {
		r.Group(func(r chi.Router) {
			r.Use(loopbackOnly)
			r.Mount("/debug", middleware.Profiler())
		})
	} else if c.Logger != nil {
		c.Logger.Printf("pprof endpoints disabled (SWARM_ENABLE_PPROF_HTTP=false)")
	}
	return r
}

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(rw http.ResponseWriter, floorID string, m fleet.WorldMetrics, st indexdb.Stats) {
	fmt.Fprintf(rw, "# HELP swarmsim_floor_tick Completed ticks.\n")
	fmt.Fprintf(rw, "# TYPE swarmsim_floor_tick counter\n")
	fmt.Fprintf(rw, "swarmsim_floor_tick{floor=%q} %d\n", floorID, m.Tick)

	fmt.Fprintf(rw, "# HELP swarmsim_floor_robots Robots on the floor.\n")
	fmt.Fprintf(rw, "# TYPE swarmsim_floor_robots gauge\n")
	fmt.Fprintf(rw, "swarmsim_floor_robots{floor=%q} %d\n", floorID, m.Robots)

	fmt.Fprintf(rw, "# HELP swarmsim_floor_robots_by_state Robots per state.\n")
	fmt.Fprintf(rw, "# TYPE swarmsim_floor_robots_by_state gauge\n")
	for _, s := range fleet.States {
		fmt.Fprintf(rw, "swarmsim_floor_robots_by_state{floor=%q,state=%q} %d\n", floorID, s.String(), m.StateCounts[s])
	}

	fmt.Fprintf(rw, "# HELP swarmsim_floor_robots_low_battery Live robots below the low threshold.\n")
	fmt.Fprintf(rw, "# TYPE swarmsim_floor_robots_low_battery gauge\n")
	fmt.Fprintf(rw, "swarmsim_floor_robots_low_battery{floor=%q} %d\n", floorID, m.LowBattery)

	fmt.Fprintf(rw, "# HELP swarmsim_floor_robots_dead Robots that ran out of battery.\n")
	fmt.Fprintf(rw, "# TYPE swarmsim_floor_robots_dead gauge\n")
	fmt.Fprintf(rw, "swarmsim_floor_robots_dead{floor=%q} %d\n", floorID, m.Dead)

	fmt.Fprintf(rw, "# HELP swarmsim_floor_stations_booked Booked stations per kind.\n")
	fmt.Fprintf(rw, "# TYPE swarmsim_floor_stations_booked gauge\n")
	for _, k := range []string{"pickup", "dropoff", "charger"} {
		fmt.Fprintf(rw, "swarmsim_floor_stations_booked{floor=%q,kind=%q} %d\n", floorID, k, m.Booked[k])
	}

	fmt.Fprintf(rw, "# HELP swarmsim_floor_deliveries_total Completed dropoffs.\n")
	fmt.Fprintf(rw, "# TYPE swarmsim_floor_deliveries_total counter\n")
	fmt.Fprintf(rw, "swarmsim_floor_deliveries_total{floor=%q} %d\n", floorID, m.Deliveries)

	fmt.Fprintf(rw, "# HELP swarmsim_floor_charges_total Completed charging sessions.\n")
	fmt.Fprintf(rw, "# TYPE swarmsim_floor_charges_total counter\n")
	fmt.Fprintf(rw, "swarmsim_floor_charges_total{floor=%q} %d\n", floorID, m.Charges)

	fmt.Fprintf(rw, "# HELP swarmsim_floor_observers Connected observers.\n")
	fmt.Fprintf(rw, "# TYPE swarmsim_floor_observers gauge\n")
	fmt.Fprintf(rw, "swarmsim_floor_observers{floor=%q} %d\n", floorID, m.Observers)

	fmt.Fprintf(rw, "# HELP swarmsim_floor_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE swarmsim_floor_queue_depth gauge\n")
	fmt.Fprintf(rw, "swarmsim_floor_queue_depth{floor=%q,queue=%q} %d\n", floorID, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "swarmsim_floor_queue_depth{floor=%q,queue=%q} %d\n", floorID, "leave", m.QueueDepths.Leave)
	fmt.Fprintf(rw, "swarmsim_floor_queue_depth{floor=%q,queue=%q} %d\n", floorID, "index", st.QueueDepth)

	fmt.Fprintf(rw, "# HELP swarmsim_floor_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE swarmsim_floor_step_ms gauge\n")
	fmt.Fprintf(rw, "swarmsim_floor_step_ms{floor=%q} %.3f\n", floorID, m.StepMS)

	fmt.Fprintf(rw, "# HELP swarmsim_index_dropped_total Index writes dropped on backpressure.\n")
	fmt.Fprintf(rw, "# TYPE swarmsim_index_dropped_total counter\n")
	fmt.Fprintf(rw, "swarmsim_index_dropped_total{floor=%q,kind=%q} %d\n", floorID, "tick", st.DropTickTotal)
}

func writeBusMetrics(rw http.ResponseWriter, floorID string, s bus.SinkStats) {
	fmt.Fprintf(rw, "# HELP swarmsim_bus_events_total Transition events by outcome.\n")
	fmt.Fprintf(rw, "# TYPE swarmsim_bus_events_total counter\n")
	fmt.Fprintf(rw, "swarmsim_bus_events_total{floor=%q,outcome=%q} %d\n", floorID, "published", s.Published)
	fmt.Fprintf(rw, "swarmsim_bus_events_total{floor=%q,outcome=%q} %d\n", floorID, "dropped", s.Dropped)
	fmt.Fprintf(rw, "swarmsim_bus_events_total{floor=%q,outcome=%q} %d\n", floorID, "failed", s.Failed)
}

// loopbackOnly keeps admin endpoints local. They do not affect simulation
// determinism but expose internals.
func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
