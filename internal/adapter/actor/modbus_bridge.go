package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"
	"github.com/gridpay/relayctl/internal/mqtt"
	"github.com/gridpay/relayctl/internal/util/actorutil"
	"github.com/gridpay/relayctl/pkg/energymeter"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// ModbusBridgeActor polls the energy counter of a Modbus meter and publishes
// each positive increase on the meter's consumption topic.
type ModbusBridgeActor struct {
	meter     config.ModbusMeterConfig
	reader    energymeter.EnergyReader
	publisher port.Transport
	topics    mqtt.Topics
	behavior  actor.Behavior
	stash     *actorutil.Stash
	scheduler *scheduler.TimerScheduler
	logger    *zap.Logger

	lastValue *float64
	lastErr   error
}

type modbusPollTick struct{}

type modbusReadResult struct {
	Value float64
	Error error
}

type consumptionMessage struct {
	MeterNumber string  `json:"meter_number"`
	KWh         float64 `json:"kwh"`
	Timestamp   string  `json:"timestamp"`
}

func NewModbusBridgeActor(cfg *config.Config, meter config.ModbusMeterConfig, reader energymeter.EnergyReader,
	publisher port.Transport, logger *zap.Logger) *ModbusBridgeActor {
	act := &ModbusBridgeActor{
		meter:     meter,
		reader:    reader,
		publisher: publisher,
		topics:    mqtt.NewTopics(cfg.MQTT.BaseTopic),
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_MODBUS, logger).With(zap.String("meter", meter.MeterNumber)),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ModbusBridgeActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ModbusBridgeActor) pollInterval() time.Duration {
	return time.Duration(state.meter.PollIntervalMillis) * time.Millisecond
}

func (state *ModbusBridgeActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("modbus@starting started")
		if err := state.reader.Open(); err != nil {
			state.logger.Error("modbus@starting could not open", zap.Error(err))
			panic(err)
		}
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.scheduler.RequestOnce(state.pollInterval(), ctx.Self(), modbusPollTick{})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		_ = state.reader.Close()
	default:
		state.logger.Debug("modbus@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ModbusBridgeActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		st := "polling"
		if state.lastErr != nil {
			st = fmt.Sprintf("read failed: %s", state.lastErr)
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MODBUS,
			Healthy: state.lastErr == nil,
			State:   st,
		})
	case modbusPollTick:
		actorutil.NewBackgroundTask(ctx, func() (*modbusReadResult, error) {
			v, err := state.reader.ReadEnergyKWh()
			if err != nil {
				return nil, err
			}
			return &modbusReadResult{Value: v}, nil
		}).WithTimeout(2 * time.Second).Recover(func(err error) modbusReadResult {
			return modbusReadResult{Error: err}
		}).PipeTo(ctx.Self())
	case modbusReadResult:
		state.onRead(msg)
		state.scheduler.RequestOnce(state.pollInterval(), ctx.Self(), modbusPollTick{})
	case *actor.Restarting:
		_ = state.reader.Close()
	case *actor.Stopping:
		_ = state.reader.Close()
	default:
		state.logger.Debug("modbus@default ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ModbusBridgeActor) onRead(res modbusReadResult) {
	state.lastErr = res.Error
	if res.Error != nil {
		state.logger.Warn("modbus@default read failed", zap.Error(res.Error))
		return
	}
	if state.lastValue == nil {
		// first read sets the baseline
		state.lastValue = &res.Value
		return
	}
	delta := res.Value - *state.lastValue
	if delta < 0 {
		state.logger.Warn("modbus@default counter went backwards, new baseline",
			zap.Float64("previous", *state.lastValue), zap.Float64("current", res.Value))
		state.lastValue = &res.Value
		return
	}
	if delta == 0 {
		return
	}
	if err := state.publishDelta(delta); err != nil {
		// keep the baseline so the delta is published on the next read
		state.logger.Warn("modbus@default could not publish consumption", zap.Error(err))
		return
	}
	state.lastValue = &res.Value
}

func (state *ModbusBridgeActor) publishDelta(delta float64) error {
	payload, err := json.Marshal(consumptionMessage{
		MeterNumber: state.meter.MeterNumber,
		KWh:         delta,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return state.publisher.Publish(state.topics.ConsumptionTopic(state.meter.MeterNumber), payload)
}
