package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"
	"github.com/gridpay/relayctl/internal/mqtt"
	"github.com/gridpay/relayctl/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// MQTTActor owns the subscription set. Every resubscription tears down the
// connection and opens a new one subscribed to the consumption and relay
// topics of all registered meters. Inbound messages are sent to the
// telemetry actor.
type MQTTActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	transport port.Transport
	registry  port.MeterRegistry
	topics    mqtt.Topics
	telemetry *actor.PID
	logger    *zap.Logger

	meters  int
	lastErr error
}

type meterListLoaded struct {
	MeterNumbers []string
	Error        error
}

type resubscribeDone struct {
	Topics  int
	Error   error
	ReplyTo *actor.PID
}

func NewMQTTActor(config *config.Config, transport port.Transport, registry port.MeterRegistry,
	telemetry *actor.PID, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:    config,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		transport: transport,
		registry:  registry,
		topics:    mqtt.NewTopics(config.MQTT.BaseTopic),
		telemetry: telemetry,
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")
		// initial subscription set comes from the registry
		actorutil.NewBackgroundTask(ctx, func() (*meterListLoaded, error) {
			numbers, err := state.registry.ListAllMeterNumbers(context.Background())
			if err != nil {
				return nil, err
			}
			return &meterListLoaded{MeterNumbers: numbers}, nil
		}).WithTimeout(5 * time.Second).Recover(func(err error) meterListLoaded {
			return meterListLoaded{Error: err}
		}).PipeToAsync(ctx.Self())
	case meterListLoaded:
		if msg.Error != nil {
			state.logger.Error("mqtt@starting could not list meters", zap.Error(msg.Error))
			panic(msg.Error)
		}
		state.logger.Debug("mqtt@starting meters loaded", zap.Int("meters", len(msg.MeterNumbers)))
		state.behavior.Become(state.DefaultReceive)
		state.resubscribe(ctx, msg.MeterNumbers, nil)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		connected := state.transport.Connected()
		st := fmt.Sprintf("connected, %d meters", state.meters)
		if !connected {
			st = "disconnected"
			if state.lastErr != nil {
				st = fmt.Sprintf("disconnected: %s", state.lastErr)
			}
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: connected,
			State:   st,
		})
	case domain.ResubscribeRequest:
		state.logger.Debug("mqtt@default ResubscribeRequest", zap.Int("meters", len(msg.MeterNumbers)))
		state.resubscribe(ctx, msg.MeterNumbers, actorutil.ReplyTarget(ctx, msg))
	default:
		state.logger.Debug("mqtt@default ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// ReconnectingReceive holds further requests until the connection swap ends.
func (state *MQTTActor) ReconnectingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case resubscribeDone:
		if msg.Error != nil {
			state.logger.Error("mqtt@reconnecting connection unavailable", zap.Error(msg.Error))
		} else {
			state.logger.Info("mqtt@reconnecting subscribed", zap.Int("topics", msg.Topics))
		}
		state.lastErr = msg.Error
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.ResubscribeResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.Error,
				},
				Topics: msg.Topics,
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
			State:   fmt.Sprintf("reconnecting, %d pending", state.stash.Len()),
		})
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@reconnecting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) resubscribe(ctx actor.Context, meterNumbers []string, replyTo *actor.PID) {
	topics := state.topics.SubscriptionSet(meterNumbers)
	root := ctx.ActorSystem().Root
	telemetry := state.telemetry
	handler := func(topic string, payload []byte) {
		root.Send(telemetry, domain.TelemetryMessage{Topic: topic, Payload: payload})
	}
	state.meters = len(meterNumbers)

	timeout := time.Duration(state.config.MQTT.ConnectTimeoutMillis+2*state.config.MQTT.PublishTimeoutMillis) * time.Millisecond
	actorutil.NewBackgroundTaskNoError(ctx, func() *resubscribeDone {
		err := state.transport.Reconnect(topics, handler)
		return &resubscribeDone{Topics: len(topics), Error: err, ReplyTo: replyTo}
	}).WithTimeout(timeout).Recover(func(err error) resubscribeDone {
		return resubscribeDone{Error: err, ReplyTo: replyTo}
	}).PipeToAsync(ctx.Self())

	state.behavior.BecomeStacked(state.ReconnectingReceive)
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	state.transport.Close()
}
