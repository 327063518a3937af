package hub

import (
	"fmt"

	"github.com/autopeer-io/otaagent/internal/agent/core"
	"github.com/autopeer-io/otaagent/internal/pkg/mqtt/paths"
)

// segments maps agent events to topic segments.
var segments = map[core.EventType]string{
	core.EventRegister:      paths.Register,
	core.EventOnline:        paths.Online,
	core.EventOTACommand:    paths.Command,
	core.EventOTAProgress:   paths.OTAProgress,
	core.EventCommandStatus: paths.CommandAck,
}

// Register routes messages for event to handler. Routes are subscribed by Start.
func (h *Hub) Register(event core.EventType, handler core.HandlerFunc) error {
	topic, err := h.topic(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("cannot register %s after the hub has started", event)
	}
	h.routes[topic] = handler
	return nil
}

func (h *Hub) topic(event core.EventType) (string, error) {
	segment, ok := segments[event]
	if !ok {
		return "", fmt.Errorf("unmapped event: %s", event)
	}
	return h.topics.Build(segment, h.deviceID), nil
}
