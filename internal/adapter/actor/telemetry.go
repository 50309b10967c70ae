package actor

import (
	"context"
	"fmt"
	"strings"

	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/service"
	"github.com/gridpay/relayctl/internal/mqtt"
	"github.com/gridpay/relayctl/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type TelemetryHandler interface {
	OnTelemetry(ctx context.Context, topic string, payload []byte) (*service.TelemetryOutcome, error)
}

// TelemetryActor routes consumption messages to one worker per meter, so
// readings of a meter are applied in arrival order while different meters
// proceed in parallel.
type TelemetryActor struct {
	handler TelemetryHandler
	topics  mqtt.Topics
	workers map[string]*actor.PID
	logger  *zap.Logger
}

func NewTelemetryActor(config *config.Config, handler TelemetryHandler, logger *zap.Logger) *TelemetryActor {
	return &TelemetryActor{
		handler: handler,
		topics:  mqtt.NewTopics(config.MQTT.BaseTopic),
		workers: make(map[string]*actor.PID),
		logger:  actorutil.ActorLogger(domain.ACTOR_ID_TELEMETRY, logger),
	}
}

func (state *TelemetryActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("telemetry@default started")
	case domain.TelemetryMessage:
		meter, err := state.topics.ParseConsumptionTopic(msg.Topic)
		if err != nil {
			if strings.HasSuffix(msg.Topic, "/relay") {
				// our own relay commands come back on the relay subscription
				state.logger.Debug("telemetry@default relay echo", zap.String("topic", msg.Topic))
				return
			}
			// rejected by the pipeline, no worker needed
			_, _ = state.handler.OnTelemetry(context.Background(), msg.Topic, msg.Payload)
			return
		}
		worker, err := state.workerFor(ctx, meter)
		if err != nil {
			state.logger.Error("telemetry@default could not spawn worker", zap.String("meter", meter), zap.Error(err))
			_, _ = state.handler.OnTelemetry(context.Background(), msg.Topic, msg.Payload)
			return
		}
		ctx.Send(worker, msg)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_TELEMETRY,
			Healthy: true,
			State:   fmt.Sprintf("%d workers", len(state.workers)),
		})
	case *actor.Terminated:
		for meter, pid := range state.workers {
			if pid.Equal(msg.Who) {
				delete(state.workers, meter)
			}
		}
	default:
		state.logger.Debug("telemetry@default ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *TelemetryActor) workerFor(ctx actor.Context, meter string) (*actor.PID, error) {
	if pid, ok := state.workers[meter]; ok {
		return pid, nil
	}
	props := actor.PropsFromProducer(func() actor.Actor {
		return &meterWorker{
			meter:   meter,
			handler: state.handler,
			logger:  state.logger.With(zap.String("meter", meter)),
		}
	})
	pid, err := ctx.SpawnNamed(props, "meter-"+meter)
	if err != nil {
		return nil, err
	}
	state.workers[meter] = pid
	return pid, nil
}

type meterWorker struct {
	meter   string
	handler TelemetryHandler
	logger  *zap.Logger
}

func (w *meterWorker) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.TelemetryMessage:
		out, err := w.handler.OnTelemetry(context.Background(), msg.Topic, msg.Payload)
		if err == nil && out != nil {
			w.logger.Debug("telemetry@worker applied",
				zap.Float64("cumulative", out.CumulativeKWh), zap.Bool("cutoff", out.CutoffSent))
		}
	}
}
