package bus

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"swarmsim/internal/sim/fleet"
)

// TransitionEvent is the payload published for every state change.
type TransitionEvent struct {
	RunID   string  `json:"run_id"`
	FloorID string  `json:"floor_id"`
	Tick    uint64  `json:"tick"`
	Robot   uint32  `json:"robot"`
	From    string  `json:"from"`
	To      string  `json:"to"`
	Cause   string  `json:"cause"`
	Station uint32  `json:"station,omitempty"`
	Battery float64 `json:"battery"`
}

type outMsg struct {
	topic   string
	payload []byte
}

// Sink is a fleet.TickLogger that forwards transitions to a Publisher from
// its own goroutine. Ticks without transitions cost nothing; when the broker
// falls behind, events are dropped and counted.
type Sink struct {
	pub     Publisher
	runID   string
	floorID string
	topic   string

	log *log.Logger

	// mu guards closed and every send on ch, so Close never closes ch under
	// a concurrent WriteTick.
	mu     sync.RWMutex
	closed bool
	ch     chan outMsg
	wg     sync.WaitGroup
	once   sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

type SinkStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// NewSink starts the publishing goroutine. topic is usually
// Client.Topic("transitions").
func NewSink(pub Publisher, runID, floorID, topic string, queue int, logger *log.Logger) *Sink {
	if queue <= 0 {
		queue = 4096
	}
	s := &Sink{
		pub:     pub,
		runID:   runID,
		floorID: floorID,
		topic:   topic,
		log:     logger,
		ch:      make(chan outMsg, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s
}

func (s *Sink) WriteTick(entry fleet.TickLogEntry) error {
	if s == nil || len(entry.Transitions) == 0 {
		return nil
	}
	msgs := make([]outMsg, 0, len(entry.Transitions))
	for _, tr := range entry.Transitions {
		b, err := json.Marshal(TransitionEvent{
			RunID:   s.runID,
			FloorID: s.floorID,
			Tick:    entry.Tick,
			Robot:   uint32(tr.Robot),
			From:    tr.From.String(),
			To:      tr.To.String(),
			Cause:   string(tr.Cause),
			Station: uint32(tr.Station),
			Battery: tr.Battery,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, outMsg{topic: s.topic, payload: b})
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	for _, m := range msgs {
		select {
		case s.ch <- m:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

func (s *Sink) loop() {
	for m := range s.ch {
		if err := s.pub.Publish(m.topic, m.payload); err != nil {
			if s.failed.Add(1) == 1 && s.log != nil {
				s.log.Printf("bus publish %s: %v (further errors counted only)", m.topic, err)
			}
			continue
		}
		s.published.Add(1)
	}
}

func (s *Sink) Stats() SinkStats {
	if s == nil {
		return SinkStats{}
	}
	return SinkStats{
		Published: s.published.Load(),
		Dropped:   s.dropped.Load(),
		Failed:    s.failed.Load(),
	}
}

// Close drains queued events and stops the goroutine. It does not close the
// Publisher.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
	})
}
