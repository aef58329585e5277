package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"swarmsim/internal/observerproto"
	"swarmsim/internal/sim/fleet"
	"swarmsim/internal/sim/fleet/stations"
)

const maxEveryNTicks = 600

// Floor is the part of the world loop the observer endpoints need.
type Floor interface {
	Config() fleet.Config
	CurrentTick() uint64
	Stations() []stations.Station
	ObserverJoin() chan<- fleet.ObserverJoinRequest
	ObserverLeave() chan<- string
}

type Server struct {
	floor Floor
	runID string
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	// AllowRemote disables the loopback-only check (tests, trusted networks).
	AllowRemote bool
}

func NewServer(f Floor, runID string, logger *log.Logger) *Server {
	return &Server{
		floor: f,
		runID: runID,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.floor.Config()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			RunID:           s.runID,
			FloorID:         cfg.ID,
			Tick:            s.floor.CurrentTick(),
			Params: observerproto.FloorParams{
				TickRateHz:        cfg.TickRateHz,
				RobotCount:        cfg.RobotCount,
				CollisionRadius:   cfg.CollisionRadius,
				StateChangeRadius: cfg.StateChangeRadius,
				LowBattery:        cfg.LowBatteryThreshold,
				DeadBattery:       cfg.DeadBatteryThreshold,
			},
			Stations: fleet.StationStates(s.floor.Stations()),
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 1)

		join := func(every int) bool {
			select {
			case s.floor.ObserverJoin() <- fleet.ObserverJoinRequest{SessionID: sid, Out: out, EveryNTicks: every}:
				return true
			default:
				return false
			}
		}
		if !join(sub.EveryNTicks) {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		if s.log != nil {
			s.log.Printf("observer %s joined from %s every=%d", sid, r.RemoteAddr, sub.EveryNTicks)
		}
		defer func() {
			select {
			case s.floor.ObserverLeave() <- sid:
			default:
				// World loop is stopping; nothing else to do.
			}
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: a repeated SUBSCRIBE changes the cadence.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := parseSubscribe(msg); ok {
				// Drop updates under load; the client may resend.
				_ = join(sub.EveryNTicks)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	if sub.EveryNTicks < 0 {
		sub.EveryNTicks = 0
	}
	if sub.EveryNTicks > maxEveryNTicks {
		sub.EveryNTicks = maxEveryNTicks
	}
	return sub, true
}

func (s *Server) allowed(r *http.Request) bool {
	return s.AllowRemote || isLoopbackRemote(r.RemoteAddr)
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
