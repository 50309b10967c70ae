package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"
	"github.com/gridpay/relayctl/internal/mqtt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrResubscribeFailed means the meter is stored but its topics are not
// subscribed yet.
var ErrResubscribeFailed = errors.New("resubscribe failed")

// Engine applies accepted readings and decides relay cutoffs. The relay
// state is never stored: it is derived from cumulative against threshold on
// every decision.
type Engine struct {
	Pipeline    *IngestPipeline
	Accumulator *Accumulator
	Resolver    *ThresholdResolver
	Dispatcher  *Dispatcher
	Subscriber  port.Subscriber
	Registry    port.MeterRegistry
	Sink        port.ReadingSink
	Events      port.EventPublisher
	Metrics     port.EngineMetrics
	Logger      *zap.Logger
}

func NewEngine(cfg *config.Config, registry port.MeterRegistry, invoices port.InvoiceStore,
	transport port.Transport, logger *zap.Logger) *Engine {
	topics := mqtt.NewTopics(cfg.MQTT.BaseTopic)
	return &Engine{
		Pipeline:    NewIngestPipeline(topics, registry),
		Accumulator: NewAccumulator(registry),
		Resolver:    NewThresholdResolver(invoices, cfg.Billing.DefaultThresholdKWh),
		Dispatcher:  NewDispatcher(transport, topics, logger),
		Registry:    registry,
		Sink:        port.NopReadingSink{},
		Events:      port.NopEventPublisher{},
		Metrics:     port.NopEngineMetrics{},
		Logger:      logger,
	}
}

// TelemetryOutcome describes what an accepted reading caused.
type TelemetryOutcome struct {
	Reading       domain.Reading
	CumulativeKWh float64
	ThresholdKWh  float64
	CutoffSent    bool
	DispatchErr   error
}

// ReactivationResult reports reset and ON independently. Both are always
// attempted.
type ReactivationResult struct {
	ResetErr    error
	DispatchErr error
}

func (r ReactivationResult) Err() error {
	return errors.Join(r.ResetErr, r.DispatchErr)
}

// OnTelemetry ingests one consumption message. A rejection is returned as a
// *domain.IngestError and has no side effect besides logging and counting.
func (e *Engine) OnTelemetry(ctx context.Context, topic string, payload []byte) (*TelemetryOutcome, error) {
	reading, err := e.Pipeline.Ingest(ctx, topic, payload)
	if err != nil {
		var rejected *domain.IngestError
		if errors.As(err, &rejected) {
			e.Logger.Warn("engine@ingest reading rejected",
				zap.String("topic", topic), zap.String("reason", string(rejected.Reason)), zap.String("detail", rejected.Detail))
			e.Metrics.ReadingRejected(rejected.Reason)
			e.emit(ctx, domain.EngineEvent{
				Type:   domain.EventReadingRejected,
				Reason: rejected.Reason,
				Error:  rejected.Detail,
			})
		} else {
			e.Logger.Error("engine@ingest registry failure", zap.String("topic", topic), zap.Error(err))
		}
		return nil, err
	}

	outcome := &TelemetryOutcome{Reading: reading}
	meter := reading.MeterNumber

	// decide and dispatch under the same lock as the accumulation so a
	// concurrent reactivation is never overtaken by a stale OFF
	err = e.Accumulator.Exclusive(meter, func() error {
		total, err := e.Accumulator.addLocked(ctx, meter, reading.DeltaKWh)
		if err != nil {
			return err
		}
		outcome.CumulativeKWh = total
		e.Metrics.ReadingAccepted()
		e.Sink.WriteReading(reading, total)
		e.emit(ctx, domain.EngineEvent{
			Type:          domain.EventReadingApplied,
			MeterNumber:   meter,
			KWh:           &reading.DeltaKWh,
			CumulativeKWh: &total,
		})

		ceiling, err := e.Resolver.Resolve(ctx, meter)
		if err != nil {
			return err
		}
		outcome.ThresholdKWh = ceiling
		e.Logger.Debug("engine@decide",
			zap.String("meter", meter), zap.Float64("cumulative", total), zap.Float64("threshold", ceiling))

		if total >= ceiling {
			outcome.CutoffSent = true
			outcome.DispatchErr = e.dispatch(ctx, meter, domain.DirectiveOff)
		}
		return nil
	})
	if err != nil {
		e.Logger.Error("engine@accumulate failed", zap.String("meter", meter), zap.Error(err))
		return outcome, err
	}
	return outcome, nil
}

// OnReactivated resets consumption and switches the relay back on.
func (e *Engine) OnReactivated(ctx context.Context, meterNumber string) ReactivationResult {
	var result ReactivationResult
	_ = e.Accumulator.Exclusive(meterNumber, func() error {
		result = e.reactivateLocked(ctx, meterNumber)
		return nil
	})
	if err := result.Err(); err != nil {
		e.Logger.Error("engine@reactivate incomplete", zap.String("meter", meterNumber), zap.Error(err))
	} else {
		e.Logger.Info("engine@reactivate done", zap.String("meter", meterNumber))
	}
	return result
}

func (e *Engine) reactivateLocked(ctx context.Context, meterNumber string) ReactivationResult {
	var result ReactivationResult
	result.ResetErr = e.Accumulator.resetLocked(ctx, meterNumber)
	e.Metrics.ConsumptionReset(result.ResetErr == nil)
	zero := 0.0
	ev := domain.EngineEvent{
		Type:          domain.EventConsumptionReset,
		MeterNumber:   meterNumber,
		CumulativeKWh: &zero,
	}
	if result.ResetErr != nil {
		ev.CumulativeKWh = nil
		ev.Error = result.ResetErr.Error()
	}
	e.emit(ctx, ev)

	result.DispatchErr = e.dispatch(ctx, meterNumber, domain.DirectiveOn)
	return result
}

// OnManualCommand dispatches an operator directive. ON also resets
// consumption, the same way a payment does.
func (e *Engine) OnManualCommand(ctx context.Context, meterNumber string, directive domain.Directive) error {
	switch directive {
	case domain.DirectiveOn:
		if _, err := e.Registry.FindMeterByNumber(ctx, meterNumber); err != nil {
			return err
		}
		return e.OnReactivated(ctx, meterNumber).Err()
	case domain.DirectiveOff:
		if _, err := e.Registry.FindMeterByNumber(ctx, meterNumber); err != nil {
			return err
		}
		return e.Accumulator.Exclusive(meterNumber, func() error {
			return e.dispatch(ctx, meterNumber, domain.DirectiveOff)
		})
	}
	return fmt.Errorf("%w: %q", domain.ErrInvalidDirective, directive)
}

// RegisterMeter stores a new meter and refreshes the subscription set.
func (e *Engine) RegisterMeter(ctx context.Context, meter domain.Meter) error {
	if err := config.CheckMeterNumber(meter.MeterNumber); err != nil {
		return err
	}
	if err := e.Registry.CreateMeter(ctx, meter); err != nil {
		return err
	}
	e.Logger.Info("engine@register meter", zap.String("meter", meter.MeterNumber))
	return e.AddMeter(ctx, meter.MeterNumber)
}

// AddMeter resubscribes with the full registry list. meterNumber must already
// be stored.
func (e *Engine) AddMeter(ctx context.Context, meterNumber string) error {
	numbers, err := e.Registry.ListAllMeterNumbers(ctx)
	if err != nil {
		return fmt.Errorf("list meters: %w", err)
	}
	if e.Subscriber == nil {
		e.Logger.Warn("engine@add meter no subscriber", zap.String("meter", meterNumber))
		return nil
	}
	if err := e.Subscriber.Resubscribe(numbers); err != nil {
		e.Logger.Error("engine@add meter resubscribe failed", zap.String("meter", meterNumber), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrResubscribeFailed, err)
	}
	return nil
}

func (e *Engine) SetMeterActive(ctx context.Context, meterNumber string, active bool) error {
	if err := e.Registry.SetMeterActive(ctx, meterNumber, active); err != nil {
		return err
	}
	e.Logger.Info("engine@meter active changed", zap.String("meter", meterNumber), zap.Bool("active", active))
	return nil
}

func (e *Engine) dispatch(ctx context.Context, meterNumber string, directive domain.Directive) error {
	err := e.Dispatcher.Dispatch(meterNumber, directive)
	e.Metrics.CommandDispatched(directive, err == nil)
	ev := domain.EngineEvent{
		Type:        domain.EventRelayDispatched,
		MeterNumber: meterNumber,
		Directive:   directive,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.emit(ctx, ev)
	return err
}

func (e *Engine) emit(ctx context.Context, ev domain.EngineEvent) {
	ev.Id = uuid.NewString()
	ev.At = time.Now().UTC()
	e.Events.Publish(ctx, ev)
}
