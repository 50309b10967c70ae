package actor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	adactor "github.com/gridpay/relayctl/internal/adapter/actor"
	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/domain"
	. "github.com/gridpay/relayctl/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type TelemetryActorProvider func() *adactor.TelemetryActor

type MQTTActorProvider func(telemetry *actor.PID) *adactor.MQTTActor

type ModbusBridgeActorProvider func(meter config.ModbusMeterConfig) *adactor.ModbusBridgeActor

type MasterOfPuppetsActor struct {
	ActorWithStates
	config *config.Config
	stash  *Stash

	currentHealthCheck   healthCheckResult
	telemetryActor       *actor.PID
	mqttActor            *actor.PID
	modbusActors         []*actor.PID
	telemetryProvider    TelemetryActorProvider
	mqttActorProvider    MQTTActorProvider
	modbusBridgeProvider ModbusBridgeActorProvider
	logger               *zap.Logger
}

type healthCheckResult struct {
	expected  int
	responses []domain.ActorHealthResponse
	respondTo *actor.PID
}

func NewMasterOfPuppetsActor(config *config.Config, telemetryProvider TelemetryActorProvider,
	mqttActorProvider MQTTActorProvider, modbusBridgeProvider ModbusBridgeActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:               config,
		stash:                &Stash{},
		logger:               ActorLogger(domain.ACTOR_ID_MASTER, logger),
		telemetryProvider:    telemetryProvider,
		mqttActorProvider:    mqttActorProvider,
		modbusBridgeProvider: modbusBridgeProvider,
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(masterStartingState{actor: act})
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type masterStartingState struct {
	actor *MasterOfPuppetsActor
}

func (state masterStartingState) Name() string {
	return "starting"
}

func (state masterStartingState) Receive(ctx actor.Context) {
	act := state.actor
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		act.logger.Debug("master@starting started")

		// telemetry first, the MQTT actor forwards inbound messages to it
		telemetryPID, err := act.startTelemetryActor(ctx)
		if err != nil {
			panic(err)
		}
		act.telemetryActor = telemetryPID

		mqttActorPID, err := act.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		act.mqttActor = mqttActorPID

		if act.modbusBridgeProvider != nil {
			for _, meter := range act.config.ModbusMeters {
				pid, err := act.startModbusBridgeActor(ctx, meter)
				if err != nil {
					panic(err)
				}
				act.modbusActors = append(act.modbusActors, pid)
			}
		}

		act.Become(masterDefaultState{actor: act})
		act.stash.UnstashAll(ctx)
	default:
		act.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		act.stash.Stash(ctx, msg)
	}
}

// Default state

type masterDefaultState struct {
	actor *MasterOfPuppetsActor
}

func (state masterDefaultState) Name() string {
	return "default"
}

func (state masterDefaultState) Receive(ctx actor.Context) {
	act := state.actor
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		act.logger.Debug("master@default ActorHealthRequest")
		act.currentHealthCheck.reset(2 + len(act.modbusActors))
		act.currentHealthCheck.respondTo = ctx.Sender()

		act.requestHealth(ctx, act.telemetryActor, domain.ACTOR_ID_TELEMETRY)
		act.requestHealth(ctx, act.mqttActor, domain.ACTOR_ID_MQTT)
		for _, pid := range act.modbusActors {
			act.requestHealth(ctx, pid, domain.ACTOR_ID_MODBUS)
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		act.BecomeStacked(masterHealthCheckState{actor: act})
	case domain.ResubscribeRequest:
		act.logger.Debug("master@default ResubscribeRequest", zap.Int("meters", len(msg.MeterNumbers)))
		ctx.Forward(act.mqttActor)
	case *actor.Terminated:
		if msg.Who.Equal(act.telemetryActor) {
			act.logger.Error("master@default telemetry terminated")
			panic(errors.New("telemetry terminated"))
		}
	default:
		act.logger.Debug("master@default ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Health check state

type masterHealthCheckState struct {
	actor *MasterOfPuppetsActor
}

func (state masterHealthCheckState) Name() string {
	return "healthCheck"
}

func (state masterHealthCheckState) Receive(ctx actor.Context) {
	act := state.actor
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		act.finishHealthCheck(ctx)
	case domain.ActorHealthResponse:
		act.logger.Debug("master@healthCheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		act.currentHealthCheck.responses = append(act.currentHealthCheck.responses, msg)
		if act.currentHealthCheck.allReceived() {
			act.finishHealthCheck(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		act.logger.Debug("master@"+act.StateName()+" stash",
			zap.String("type", fmt.Sprintf("%T", msg)), zap.Int("stashed", act.stash.Len()+1))
		act.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) requestHealth(ctx actor.Context, pid *actor.PID, id string) {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      id,
			Healthy: false,
			State:   err.Error(),
		}
	})
}

func (state *MasterOfPuppetsActor) finishHealthCheck(ctx actor.Context) {
	ctx.CancelReceiveTimeout()
	state.currentHealthCheck.respond(ctx)
	state.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

func (state *MasterOfPuppetsActor) startTelemetryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		state.logger.Error("master@supervisor restarting telemetry", zap.Any("reason", reason))
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(10, 10*time.Second, decider)

	props := actor.PropsFromProducer(func() actor.Actor {
		return state.telemetryProvider()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_TELEMETRY)
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	telemetry := state.telemetryActor
	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(telemetry)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *MasterOfPuppetsActor) startModbusBridgeActor(ctx actor.Context, meter config.ModbusMeterConfig) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(30*time.Second, 1*time.Second)

	props := actor.PropsFromProducer(func() actor.Actor {
		return state.modbusBridgeProvider(meter)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, fmt.Sprintf("%s-%s", domain.ACTOR_ID_MODBUS, meter.MeterNumber))
}

func (state *healthCheckResult) reset(expected int) {
	state.expected = expected
	state.responses = state.responses[:0]
	state.respondTo = nil
}

func (state *healthCheckResult) allReceived() bool {
	return len(state.responses) >= state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	if !state.allReceived() {
		return false
	}
	for _, r := range state.responses {
		if !r.Healthy {
			return false
		}
	}
	return true
}

// summary lists every child as id=state, unhealthy ones marked with '!'.
func (state *healthCheckResult) summary() string {
	parts := make([]string, 0, len(state.responses))
	for _, r := range state.responses {
		mark := ""
		if !r.Healthy {
			mark = "!"
		}
		parts = append(parts, fmt.Sprintf("%s%s=%s", mark, r.Id, r.State))
	}
	sort.Strings(parts)
	if missing := state.expected - len(state.responses); missing > 0 {
		parts = append(parts, fmt.Sprintf("%d not responding", missing))
	}
	return strings.Join(parts, ", ")
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
		State:   state.summary(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
