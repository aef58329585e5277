package bus

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"swarmsim/internal/sim/fleet"
)

type recordPub struct {
	mu   sync.Mutex
	msgs []outMsg
	err  error
}

func (p *recordPub) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, outMsg{topic: topic, payload: append([]byte(nil), payload...)})
	return nil
}

type blockPub struct{ release chan struct{} }

func (p blockPub) Publish(string, []byte) error {
	<-p.release
	return nil
}

func TestSink_PublishesTransitionsInOrder(t *testing.T) {
	pub := &recordPub{}
	s := NewSink(pub, "run-1", "floor_1", "swarmsim/floor_1/transitions", 16, nil)

	_ = s.WriteTick(fleet.TickLogEntry{Tick: 0, Digest: "a"})
	_ = s.WriteTick(fleet.TickLogEntry{Tick: 1, Digest: "b", Transitions: []fleet.Transition{
		{Robot: 1, From: fleet.StateIdle, To: fleet.StateMovingToPickup, Cause: fleet.CauseReserved, Station: 2, Battery: 99.5},
		{Robot: 2, From: fleet.StateCharging, To: fleet.StateIdle, Cause: fleet.CauseCharged, Station: 7, Battery: 100},
	}})
	s.Close()

	if len(pub.msgs) != 2 {
		t.Fatalf("published %d messages", len(pub.msgs))
	}
	var ev TransitionEvent
	if err := json.Unmarshal(pub.msgs[0].payload, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := TransitionEvent{RunID: "run-1", FloorID: "floor_1", Tick: 1, Robot: 1, From: "IDLE", To: "MOVING_TO_PICKUP", Cause: "reserved", Station: 2, Battery: 99.5}
	if ev != want {
		t.Fatalf("event=%+v", ev)
	}
	if err := json.Unmarshal(pub.msgs[1].payload, &ev); err != nil || ev.Robot != 2 || ev.Cause != "charged" {
		t.Fatalf("second event=%+v err=%v", ev, err)
	}
	for _, m := range pub.msgs {
		if m.topic != "swarmsim/floor_1/transitions" {
			t.Fatalf("topic=%s", m.topic)
		}
	}
	if st := s.Stats(); st.Published != 2 || st.Dropped != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestSink_DropsWhenBrokerIsSlow(t *testing.T) {
	pub := blockPub{release: make(chan struct{})}
	s := NewSink(pub, "r", "f", "t", 1, nil)

	tr := []fleet.Transition{{Robot: 1, From: fleet.StateIdle, To: fleet.StateMovingToPickup, Cause: fleet.CauseReserved}}
	// One in flight, one queued, the rest dropped.
	for i := 0; i < 10; i++ {
		_ = s.WriteTick(fleet.TickLogEntry{Tick: uint64(i), Transitions: tr})
	}
	close(pub.release)
	s.Close()

	st := s.Stats()
	if st.Published+st.Dropped != 10 || st.Dropped < 8 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestSink_CountsFailures(t *testing.T) {
	pub := &recordPub{err: errors.New("broker down")}
	s := NewSink(pub, "r", "f", "t", 8, nil)
	tr := []fleet.Transition{{Robot: 1, To: fleet.StateDead, Cause: fleet.CauseDepleted}}
	_ = s.WriteTick(fleet.TickLogEntry{Tick: 1, Transitions: tr})
	_ = s.WriteTick(fleet.TickLogEntry{Tick: 2, Transitions: tr})
	s.Close()
	if st := s.Stats(); st.Failed != 2 || st.Published != 0 {
		t.Fatalf("stats=%+v", st)
	}
	// Writes after Close are ignored.
	_ = s.WriteTick(fleet.TickLogEntry{Tick: 3, Transitions: tr})
}

func TestTopicFor(t *testing.T) {
	cases := []struct {
		backend, prefix, floor, name, want string
	}{
		{"mqtt", "swarmsim", "floor_1", "transitions", "swarmsim/floor_1/transitions"},
		{"kafka", "swarmsim", "floor_1", "transitions", "swarmsim.floor_1.transitions"},
		{"mqtt", "swarmsim", "", "transitions", "swarmsim/transitions"},
	}
	for _, tc := range cases {
		if got := topicFor(tc.backend, tc.prefix, tc.floor, tc.name); got != tc.want {
			t.Fatalf("topicFor(%s,%s,%s,%s)=%s want %s", tc.backend, tc.prefix, tc.floor, tc.name, got, tc.want)
		}
	}
}

func TestClient_ConnectNeedsBrokers(t *testing.T) {
	c := NewClient(Config{Backend: "kafka"})
	if err := c.Connect(); err == nil {
		t.Fatalf("expected error without brokers")
	}
	c = NewClient(Config{Backend: "amqp", Brokers: []string{"localhost:5672"}})
	if err := c.Connect(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	if err := c.Publish("t", nil); err == nil {
		t.Fatalf("expected publish error for unknown backend")
	}
	c.Close()
}

func TestSink_CloseDuringWrites(t *testing.T) {
	tr := []fleet.Transition{{Robot: 1, From: fleet.StateIdle, To: fleet.StateMovingToPickup, Cause: fleet.CauseReserved}}
	for iter := 0; iter < 200; iter++ {
		s := NewSink(&recordPub{}, "r", "f", "t", 4, nil)
		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := 0; i < 50; i++ {
					_ = s.WriteTick(fleet.TickLogEntry{Tick: uint64(i), Transitions: tr})
				}
			}()
		}
		close(start)
		s.Close()
		wg.Wait()

		st := s.Stats()
		if st.Published+st.Dropped > 200 {
			t.Fatalf("iter %d: stats=%+v", iter, st)
		}
	}
}
