// Package bus publishes fleet events to an external message broker (MQTT or
// Kafka). It is an optional read-side feed: nothing in the simulation waits
// on it.
package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	kafkago "github.com/segmentio/kafka-go"
)

type Config struct {
	Backend string // "mqtt" or "kafka"
	// Brokers are host:port pairs. MQTT uses the first one.
	Brokers  []string
	ClientID string
	// TopicPrefix is the first topic segment, e.g. "swarmsim".
	TopicPrefix string
	FloorID     string
}

// Publisher is what the event sinks need from a client.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Client is the unified messaging client (MQTT or Kafka).
type Client struct {
	mu       sync.RWMutex
	cfg      Config
	mqttConn mqtt.Client
	kafkaW   *kafkago.Writer
}

func NewClient(cfg Config) *Client {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "swarmsim"
	}
	return &Client{cfg: cfg}
}

// Connect establishes the messaging connection.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.cfg.Brokers) == 0 {
		return fmt.Errorf("no %s brokers configured", c.cfg.Backend)
	}
	switch c.cfg.Backend {
	case "mqtt":
		return c.connectMQTT()
	case "kafka":
		return c.connectKafka()
	default:
		return fmt.Errorf("unknown messaging backend: %s", c.cfg.Backend)
	}
}

func (c *Client) connectMQTT() error {
	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + c.cfg.Brokers[0]).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect: timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.mqttConn = client
	return nil
}

func (c *Client) connectKafka() error {
	c.kafkaW = &kafkago.Writer{
		Addr:                   kafkago.TCP(c.cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return nil
}

// Topic joins the prefix, floor id and name with the backend's separator.
// Kafka topic names may not contain '/'.
func (c *Client) Topic(name string) string {
	return topicFor(c.cfg.Backend, c.cfg.TopicPrefix, c.cfg.FloorID, name)
}

func topicFor(backend, prefix, floorID, name string) string {
	sep := "/"
	if backend == "kafka" {
		sep = "."
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, floorID, name} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, sep)
}

// Publish sends payload to topic. Kafka messages are keyed by floor id so one
// floor's events stay ordered on one partition.
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.cfg.Backend {
	case "mqtt":
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			return fmt.Errorf("mqtt not connected")
		}
		token := c.mqttConn.Publish(topic, 1, false, payload)
		token.Wait()
		return token.Error()
	case "kafka":
		if c.kafkaW == nil {
			return fmt.Errorf("kafka writer not initialized")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return c.kafkaW.WriteMessages(ctx, kafkago.Message{
			Topic: topic,
			Key:   []byte(c.cfg.FloorID),
			Value: payload,
		})
	default:
		return fmt.Errorf("unknown backend: %s", c.cfg.Backend)
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mqttConn != nil {
		c.mqttConn.Disconnect(1000)
		c.mqttConn = nil
	}
	if c.kafkaW != nil {
		_ = c.kafkaW.Close()
		c.kafkaW = nil
	}
}
