package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/otaagent/pkg/log"
)

type pahoClient struct {
	cfg    *ClientConfig
	logger log.Logger

	mu  sync.RWMutex
	cm  *autopaho.ConnectionManager
	ctx context.Context

	// subscriptions maps a topic filter to its subscription.
	subscriptions sync.Map

	connected atomic.Bool
}

type subscription struct {
	topic string
	// match is the topic without a $share/<group>/ prefix.
	match   string
	qos     byte
	handler MessageHandler
}

// NewClient validates cfg, fills in defaults and returns an unstarted Client.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{cfg: cfg, logger: cfg.Logger}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return err
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(c.cfg.ReconnectDelay),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg:                        &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify},
		WillMessage:                   c.willMessage(),
		OnConnectionUp:                c.onConnectionUp,
		OnConnectError:                c.onConnectError,
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived:  []func(paho.PublishReceived) (bool, error){c.route},
		},
	}

	c.logger.Info("Starting MQTT client", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cm = cm
	c.ctx = ctx
	c.mu.Unlock()
	return nil
}

func (c *pahoClient) manager() (*autopaho.ConnectionManager, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cm == nil {
		return nil, ErrNotStarted
	}
	return c.cm, nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	c.connected.Store(false)
	cm, err := c.manager()
	if err != nil {
		return
	}
	if err := cm.Disconnect(ctx); err != nil {
		c.logger.Warn("MQTT disconnect did not complete", "error", err)
		return
	}
	c.logger.Info("MQTT client disconnected")
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}

	_, err = cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (c *pahoClient) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}

	// Stored first so a reconnect racing with this call renews it.
	sub := subscription{topic: topic, match: topicFilter(topic), qos: byte(qos), handler: handler}
	c.subscriptions.Store(topic, sub)

	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: sub.qos}},
	}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	c.logger.Info("Subscribed to topic", "topic", topic)
	return nil
}

func (c *pahoClient) Unsubscribe(ctx context.Context, topic string) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}

	c.subscriptions.Delete(topic)
	_, err = cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}})
	return err
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}
	return cm.AwaitConnection(ctx)
}

func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

// onConnectionUp renews every subscription in one SUBSCRIBE packet. With
// CleanStart false the broker usually kept them, but a new session would not.
func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.connected.Store(true)
	c.logger.Info("MQTT connection established")

	var opts []paho.SubscribeOptions
	c.subscriptions.Range(func(_, value any) bool {
		sub := value.(subscription)
		opts = append(opts, paho.SubscribeOptions{Topic: sub.topic, QoS: sub.qos})
		return true
	})
	if len(opts) == 0 {
		return
	}

	if _, err := cm.Subscribe(c.baseContext(), &paho.Subscribe{Subscriptions: opts}); err != nil {
		c.logger.Error(err, "Failed to renew subscriptions", "count", len(opts))
	}
}

func (c *pahoClient) onConnectError(err error) {
	c.connected.Store(false)
	c.logger.Error(err, "MQTT connection failed, retrying", "in", c.cfg.ReconnectDelay)
}

func (c *pahoClient) onClientError(err error) {
	c.connected.Store(false)
	c.logger.Error(err, "MQTT client error")
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	if d.Properties != nil && d.Properties.ReasonString != "" {
		c.logger.Warn("MQTT server sent DISCONNECT", "reasonCode", d.ReasonCode, "reason", d.Properties.ReasonString)
		return
	}
	c.logger.Warn("MQTT server sent DISCONNECT", "reasonCode", d.ReasonCode)
}

// route hands a received message to every matching subscription. Each handler
// runs on its own goroutine so a long update never stalls the paho reader.
func (c *pahoClient) route(p paho.PublishReceived) (bool, error) {
	ctx := c.baseContext()
	topic, payload := p.Packet.Topic, p.Packet.Payload

	matched := false
	c.subscriptions.Range(func(_, value any) bool {
		sub := value.(subscription)
		if topicsMatch(sub.match, topic) {
			matched = true
			go sub.handler(ctx, topic, payload)
		}
		return true
	})

	if !matched {
		c.logger.Debug("Dropping message on unhandled topic", "topic", topic)
	}
	return true, nil
}

func (c *pahoClient) baseContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *pahoClient) willMessage() *paho.WillMessage {
	if c.cfg.WillTopic == "" {
		return nil
	}
	return &paho.WillMessage{
		Topic:   c.cfg.WillTopic,
		Payload: c.cfg.WillPayload,
		QoS:     c.cfg.WillQoS,
		Retain:  c.cfg.WillRetain,
	}
}

// topicsMatch reports whether topic matches filter, honouring + and # wildcards.
func topicsMatch(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if !strings.ContainsAny(filter, "+#") {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, level := range fl {
		switch {
		case level == "#":
			return true
		case i >= len(tl):
			return false
		case level != "+" && level != tl[i]:
			return false
		}
	}
	return len(fl) == len(tl)
}

// topicFilter strips a $share/<group>/ prefix from a shared subscription.
func topicFilter(filter string) string {
	rest, ok := strings.CutPrefix(filter, "$share/")
	if !ok {
		return filter
	}
	if _, topic, ok := strings.Cut(rest, "/"); ok {
		return topic
	}
	return filter
}
