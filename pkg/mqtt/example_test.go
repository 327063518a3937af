package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/otaagent/pkg/log"
	"github.com/autopeer-io/otaagent/pkg/mqtt"
	"github.com/autopeer-io/otaagent/pkg/mqtt/topic"
)

// ExampleClient shows how a device agent connects, listens for commands
// and reports back on its acknowledgement topic.
func ExampleClient() {
	topics := topic.NewBuilder("ota/v1")

	cfg := &mqtt.ClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "device-001",
		KeepAlive:      60,
		ConnectTimeout: 5 * time.Second,
		ReconnectDelay: 3 * time.Second,
		SessionExpiry:  300,
		// Devices keep their session so commands sent while offline are delivered.
		CleanStart:  false,
		WillTopic:   topics.Build("online", "device-001"),
		WillPayload: []byte(`{"online":false}`),
		WillQoS:     1,
		WillRetain:  true,
		Logger:      log.WithName("mqtt"),
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	// Start returns immediately; connecting and reconnecting happen in the background.
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}
	defer client.Disconnect(ctx)

	// Handlers run on their own goroutine.
	onCommand := func(ctx context.Context, topic string, payload []byte) {
		fmt.Printf("Received command on %s: %s\n", topic, string(payload))
	}

	// Subscriptions survive reconnects.
	if err := client.Subscribe(ctx, topics.Build("command", "device-001"), 1, onCommand); err != nil {
		log.Error(err, "Failed to subscribe")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.AwaitConnection(waitCtx); err != nil {
		log.Error(err, "Connection timed out")
		return
	}

	ack := []byte(`{"commandID":"c-1","status":"Received"}`)
	if err := client.Publish(ctx, topics.Build("command/ack", "device-001"), 1, false, ack); err != nil {
		log.Error(err, "Failed to publish acknowledgement")
	}
}
