package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/autopeer-io/otaagent/internal/agent/core"
	"github.com/autopeer-io/otaagent/internal/pkg/metrics"
	"github.com/autopeer-io/otaagent/pkg/log"
	"github.com/autopeer-io/otaagent/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/otaagent/pkg/mqtt/topic"
)

const disconnectTimeout = 5 * time.Second

// Hub is the agent's MQTT link to the fleet backend.
type Hub struct {
	deviceID string

	mc     mqtt.Client
	topics *mqtttopic.Builder
	logger log.Logger

	mu      sync.Mutex
	routes  map[string]core.HandlerFunc
	started bool
}

var _ core.Sender = (*Hub)(nil)

func New(deviceID string, client mqtt.Client, topics *mqtttopic.Builder, logger log.Logger) *Hub {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Hub{
		deviceID: deviceID,
		mc:       client,
		topics:   topics,
		logger:   logger,
		routes:   make(map[string]core.HandlerFunc),
	}
}

// Send publishes payload on the event's topic with QoS 1. Messages are retained
// so the backend sees the latest state after it reconnects.
func (h *Hub) Send(ctx context.Context, event core.EventType, payload []byte) error {
	topic, err := h.topic(event)
	if err != nil {
		return err
	}
	return h.mc.Publish(ctx, topic, 1, true, payload)
}

func (h *Hub) SendJSON(ctx context.Context, event core.EventType, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.Send(ctx, event, payload)
}

func (h *Hub) IsConnected() bool {
	connected := h.mc.IsConnected()
	if connected {
		metrics.MqttConnected.Set(1)
	} else {
		metrics.MqttConnected.Set(0)
	}
	return connected
}

// AwaitConnection blocks until the broker connection is up or ctx is done.
func (h *Hub) AwaitConnection(ctx context.Context) error {
	if err := h.mc.AwaitConnection(ctx); err != nil {
		return err
	}
	metrics.MqttConnected.Set(1)
	return nil
}

// Start connects to the broker and subscribes every registered route.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	h.started = true
	routes := make(map[string]core.HandlerFunc, len(h.routes))
	for topic, handler := range h.routes {
		routes[topic] = handler
	}
	h.mu.Unlock()

	if err := h.mc.Start(ctx); err != nil {
		return err
	}

	if err := h.AwaitConnection(ctx); err != nil {
		return err
	}

	for topic, handler := range routes {
		err := h.mc.Subscribe(ctx, topic, 1, func(c context.Context, _ string, p []byte) {
			if handleErr := handler(c, p); handleErr != nil {
				h.logger.Error(handleErr, "Handler execution failed", "topic", topic)
			}
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Stop disconnects from the broker. The last will is not sent on a clean disconnect.
func (h *Hub) Stop() {
	h.logger.Info("Disconnecting MQTT client...")
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	h.mc.Disconnect(ctx)
	metrics.MqttConnected.Set(0)
}
