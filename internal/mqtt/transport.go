package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/port"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("mqtt: not connected")

const disconnectQuiesce = 250 * time.Millisecond

// Transport owns the current broker connection. Reconnect replaces the
// connection without holding the handle lock while dialing, so Publish
// never waits on a reconnect and fails with ErrNotConnected instead.
type Transport struct {
	cfg    *config.Config
	logger *zap.Logger

	reconnectMu sync.Mutex

	mu      sync.RWMutex
	client  *MQTTClient
	topics  []string
	handler port.MessageHandler

	dial func() *MQTTClient
}

var _ port.Transport = (*Transport)(nil)

func NewTransport(cfg *config.Config, logger *zap.Logger) *Transport {
	t := &Transport{
		cfg:    cfg,
		logger: logger,
	}
	t.dial = func() *MQTTClient {
		return CreateMQTTClient(cfg, OptsFromConfig(cfg), t.onConnect, t.onConnectionLost)
	}
	return t
}

func (t *Transport) current() *MQTTClient {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client
}

func (t *Transport) publishTimeout() time.Duration {
	return time.Duration(t.cfg.MQTT.PublishTimeoutMillis) * time.Millisecond
}

func (t *Transport) connectTimeout() time.Duration {
	return time.Duration(t.cfg.MQTT.ConnectTimeoutMillis) * time.Millisecond
}

func (t *Transport) Connected() bool {
	c := t.current()
	return c != nil && c.IsConnected()
}

func (t *Transport) Publish(topic string, payload []byte) error {
	return t.publish(topic, payload, false)
}

// PublishRetained publishes with the retain flag set. Used for the bridge
// state topic.
func (t *Transport) PublishRetained(topic string, payload []byte) error {
	return t.publish(topic, payload, true)
}

func (t *Transport) publish(topic string, payload []byte, retain bool) error {
	c := t.current()
	if c == nil || !c.IsConnected() {
		return ErrNotConnected
	}
	return await(func(k func(error)) {
		c.Publish(topic, payload, t.cfg.MQTT.QoS, retain, k, t.publishTimeout())
	})
}

func (t *Transport) Subscribe(topic string, handler port.MessageHandler) error {
	c := t.current()
	if c == nil || !c.IsConnected() {
		return ErrNotConnected
	}
	err := await(func(k func(error)) {
		c.Subscribe(topic, t.cfg.MQTT.QoS, wrapHandler(handler), k, t.publishTimeout())
	})
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.topics = append(t.topics, topic)
	t.mu.Unlock()
	return nil
}

func (t *Transport) Reconnect(topics []string, handler port.MessageHandler) error {
	t.reconnectMu.Lock()
	defer t.reconnectMu.Unlock()

	t.mu.Lock()
	old := t.client
	t.client = nil
	t.mu.Unlock()

	if old != nil {
		old.Disconnect(disconnectQuiesce)
	}

	client := t.dial()
	if err := await(func(k func(error)) { client.Connect(k, t.connectTimeout()) }); err != nil {
		// a timed out connect may still complete inside paho
		client.Disconnect(disconnectQuiesce)
		return fmt.Errorf("mqtt connect: %w", err)
	}
	err := await(func(k func(error)) {
		client.SubscribeMultiple(topics, t.cfg.MQTT.QoS, wrapHandler(handler), k, t.publishTimeout())
	})
	if err != nil {
		client.Disconnect(disconnectQuiesce)
		return fmt.Errorf("mqtt subscribe: %w", err)
	}

	t.mu.Lock()
	t.client = client
	t.topics = append([]string(nil), topics...)
	t.handler = handler
	t.mu.Unlock()

	// bridge state is best effort
	if err := t.PublishRetained(client.BridgeStateTopic(), []byte(MQTT_PAYLOAD_ONLINE)); err != nil {
		t.logger.Warn("could not publish bridge state", zap.Error(err))
	}

	t.logger.Info("mqtt connected", zap.Int("topics", len(topics)))
	return nil
}

func (t *Transport) Close() {
	t.reconnectMu.Lock()
	defer t.reconnectMu.Unlock()

	if c := t.current(); c != nil {
		if err := t.PublishRetained(c.BridgeStateTopic(), []byte(MQTT_PAYLOAD_OFFLINE)); err != nil {
			t.logger.Debug("could not publish bridge state", zap.Error(err))
		}
	}

	t.mu.Lock()
	old := t.client
	t.client = nil
	t.mu.Unlock()

	if old == nil {
		return
	}
	old.Disconnect(disconnectQuiesce)
}

// onConnect restores the subscription set after an automatic reconnect of the
// current client. The initial connect of a new client is handled by Reconnect.
func (t *Transport) onConnect(pc mqtt.Client) {
	t.mu.RLock()
	c, topics, handler := t.client, t.topics, t.handler
	t.mu.RUnlock()
	if c == nil || c.client != pc || handler == nil {
		return
	}
	t.logger.Info("mqtt reconnected, restoring subscriptions", zap.Int("topics", len(topics)))
	go func() {
		err := await(func(k func(error)) {
			c.SubscribeMultiple(topics, t.cfg.MQTT.QoS, wrapHandler(handler), k, t.publishTimeout())
		})
		if err != nil {
			t.logger.Error("could not restore subscriptions", zap.Error(err))
		}
	}()
}

func (t *Transport) onConnectionLost(_ mqtt.Client, err error) {
	t.logger.Warn("mqtt connection lost", zap.Error(err))
}

func wrapHandler(handler port.MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}
