package topic

import (
	"strings"
)

// Builder constructs MQTT topic strings of the form {root}/{segment}/{deviceID}.
type Builder struct {
	// root is the base namespace for all topics (e.g., "ota/v1", "fleet/prod").
	root string
}

// NewBuilder creates a Builder for the given root namespace.
// Leading and trailing slashes are trimmed.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Root returns the namespace the builder was created with.
func (b *Builder) Root() string {
	return b.root
}

// Build returns the topic for a segment addressed to a single device.
func (b *Builder) Build(segment, deviceID string) string {
	return b.root + "/" + segment + "/" + deviceID
}

// Wildcard returns the filter matching a segment for every device.
// Result: {root}/{segment}/+
func (b *Builder) Wildcard(segment string) string {
	return b.Build(segment, Wildcard)
}

// Shared returns a shared-subscription filter for a segment.
// Result: $share/{group}/{root}/{segment}/+
func (b *Builder) Shared(group, segment string) string {
	return "$share/" + group + "/" + b.Wildcard(segment)
}

// DeviceID extracts the device identifier from a topic built for segment.
// It returns false when the topic does not belong to the segment.
func (b *Builder) DeviceID(segment, topic string) (string, bool) {
	prefix := b.root + "/" + segment + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
