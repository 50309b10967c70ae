package actor

import (
	"context"
	"sync"
	"time"

	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"
	"github.com/gridpay/relayctl/internal/core/service"
	"github.com/gridpay/relayctl/internal/mqtt"
)

type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	failDial   error
	reconnects [][]string
	handler    port.MessageHandler
	published  map[string][]string
	closed     int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{published: make(map[string][]string)}
}

func (t *fakeTransport) Publish(topic string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return mqtt.ErrNotConnected
	}
	t.published[topic] = append(t.published[topic], string(payload))
	return nil
}

func (t *fakeTransport) Subscribe(string, port.MessageHandler) error { return nil }

func (t *fakeTransport) Reconnect(topics []string, handler port.MessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnects = append(t.reconnects, topics)
	if t.failDial != nil {
		t.connected = false
		return t.failDial
	}
	t.connected = true
	t.handler = handler
	return nil
}

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.closed++
}

// deliver simulates an inbound broker message.
func (t *fakeTransport) deliver(topic, payload string) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(topic, []byte(payload))
	}
}

func (t *fakeTransport) reconnectCalls() [][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]string(nil), t.reconnects...)
}

func (t *fakeTransport) sentTo(topic string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.published[topic]...)
}

type fakeMeterList struct {
	port.MeterRegistry
	numbers []string
}

func (f fakeMeterList) ListAllMeterNumbers(context.Context) ([]string, error) {
	return f.numbers, nil
}

type recordingHandler struct {
	mu    sync.Mutex
	calls []domain.TelemetryMessage
}

func (h *recordingHandler) OnTelemetry(_ context.Context, topic string, payload []byte) (*service.TelemetryOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, domain.TelemetryMessage{Topic: topic, Payload: payload})
	return &service.TelemetryOutcome{}, nil
}

func (h *recordingHandler) received() []domain.TelemetryMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.TelemetryMessage(nil), h.calls...)
}

func testConfig() *config.Config {
	return &config.Config{
		MQTT: config.MQTTConfig{
			BaseTopic:            "electricity",
			ConnectTimeoutMillis: 500,
			PublishTimeoutMillis: 500,
		},
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}
