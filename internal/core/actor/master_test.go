package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	adactor "github.com/gridpay/relayctl/internal/adapter/actor"
	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"
	"github.com/gridpay/relayctl/internal/core/service"
	"github.com/gridpay/relayctl/internal/util"
	"github.com/gridpay/relayctl/internal/util/actorutil"
	"github.com/gridpay/relayctl/pkg/energymeter"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubTransport struct {
	mu        sync.Mutex
	connected bool
	failDial  error
	topics    []string
}

func (t *stubTransport) Publish(string, []byte) error {
	if !t.Connected() {
		return errors.New("not connected")
	}
	return nil
}

func (t *stubTransport) Subscribe(string, port.MessageHandler) error { return nil }

func (t *stubTransport) Reconnect(topics []string, _ port.MessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.topics = topics
	t.connected = t.failDial == nil
	return t.failDial
}

func (t *stubTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *stubTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
}

func (t *stubTransport) subscribed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.topics
}

type stubRegistry struct {
	port.MeterRegistry
}

func (stubRegistry) ListAllMeterNumbers(context.Context) ([]string, error) {
	return []string{"CNT-001"}, nil
}

type nopHandler struct{}

func (nopHandler) OnTelemetry(context.Context, string, []byte) (*service.TelemetryOutcome, error) {
	return &service.TelemetryOutcome{}, nil
}

func spawnMaster(t *testing.T, cfg *config.Config, transport port.Transport) (*actor.ActorSystem, *actor.PID) {
	logger := zap.NewNop()
	as := actorutil.NewActorSystemWithZapLogger(logger)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, func() *adactor.TelemetryActor {
			return adactor.NewTelemetryActor(cfg, nopHandler{}, logger)
		}, func(telemetry *actor.PID) *adactor.MQTTActor {
			return adactor.NewMQTTActor(cfg, transport, stubRegistry{}, telemetry, logger)
		}, func(meter config.ModbusMeterConfig) *adactor.ModbusBridgeActor {
			return adactor.NewModbusBridgeActor(cfg, meter, energymeter.NewTestEnergyReader(1, 2, 3), transport, logger)
		}, logger)
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(t, err)
	return as, pid
}

func masterHealth(as *actor.ActorSystem, pid *actor.PID) (domain.ActorHealthResponse, error) {
	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 3*time.Second).Result()
	if err != nil {
		return domain.ActorHealthResponse{}, err
	}
	return res.(domain.ActorHealthResponse), nil
}

func TestMasterActor(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.ModbusMeters = []config.ModbusMeterConfig{{MeterNumber: "CNT-001", PollIntervalMillis: 50}}

	transport := &stubTransport{}
	as, pid := spawnMaster(t, &cfg, transport)
	defer as.Shutdown()

	time.Sleep(500 * time.Millisecond)

	healthResp, err := masterHealth(as, pid)
	require.NoError(t, err)
	assert.True(t, healthResp.Healthy, "healthy is true: %s", healthResp.State)
	assert.Equal(t, domain.ACTOR_ID_MASTER, healthResp.Id)
	assert.Contains(t, healthResp.State, "telemetry=")
	assert.Contains(t, healthResp.State, "modbus=polling")

	// resubscription is routed to the MQTT child
	sub := adactor.NewActorSubscriber(as, pid, 3*time.Second)
	require.NoError(t, sub.Resubscribe([]string{"CNT-001", "CNT-002"}))
	assert.Len(t, transport.subscribed(), 4)

	as.Root.Stop(pid)
}

func TestMasterActorUnhealthyChild(t *testing.T) {

	cfg := util.LoadTestConfig()

	transport := &stubTransport{failDial: errors.New("broker down")}
	as, pid := spawnMaster(t, &cfg, transport)
	defer as.Shutdown()

	time.Sleep(500 * time.Millisecond)

	healthResp, err := masterHealth(as, pid)
	require.NoError(t, err)
	assert.False(t, healthResp.Healthy)
	assert.Contains(t, healthResp.State, "!mqtt=disconnected: broker down")
}
