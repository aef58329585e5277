package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"swarmsim/internal/observerproto"
)

func main() {
	var (
		url   = flag.String("url", "ws://127.0.0.1:8080/admin/v1/observer/ws", "observer ws url")
		every = flag.Int("every", 60, "frame every n ticks (0 uses the server default)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		EveryNTicks:     *every,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Printf("read: %v", err)
			}
			return
		}
		var f observerproto.FrameMsg
		if err := json.Unmarshal(msg, &f); err != nil || f.Type != observerproto.TypeFrame {
			continue
		}
		logger.Print(summarize(f))
	}
}

// summarize renders one frame as a single log line.
func summarize(f observerproto.FrameMsg) string {
	var (
		moving, working, charging, dead, low int
		deliveries                           uint64
	)
	for _, r := range f.Robots {
		switch r.State {
		case "MOVING_TO_PICKUP", "MOVING_TO_DROPOFF", "MOVING_TO_CHARGER":
			moving++
		case "PICKING_UP", "DROPPING_OFF":
			working++
		case "CHARGING":
			charging++
		case "DEAD":
			dead++
		}
		if r.Tier == "LOW" {
			low++
		}
		deliveries += r.Deliveries
	}
	booked := 0
	for _, st := range f.Stations {
		if st.Booked {
			booked++
		}
	}
	return fmt.Sprintf("tick=%d robots=%d moving=%d working=%d charging=%d low=%d dead=%d booked=%d/%d deliveries=%d",
		f.Tick, len(f.Robots), moving, working, charging, low, dead, booked, len(f.Stations), deliveries)
}
