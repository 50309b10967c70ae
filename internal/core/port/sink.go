package port

import (
	"context"

	"github.com/gridpay/relayctl/internal/core/domain"
)

// ReadingSink records accepted readings for history. Implementations must not block.
type ReadingSink interface {
	WriteReading(reading domain.Reading, cumulativeKWh float64)
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.EngineEvent)
}

type EngineMetrics interface {
	ReadingAccepted()
	ReadingRejected(reason domain.RejectReason)
	CommandDispatched(directive domain.Directive, success bool)
	ConsumptionReset(success bool)
}

type NopReadingSink struct{}

func (NopReadingSink) WriteReading(domain.Reading, float64) {}

type NopEventPublisher struct{}

func (NopEventPublisher) Publish(context.Context, domain.EngineEvent) {}

type NopEngineMetrics struct{}

func (NopEngineMetrics) ReadingAccepted() {}
func (NopEngineMetrics) ReadingRejected(domain.RejectReason) {}
func (NopEngineMetrics) CommandDispatched(domain.Directive, bool) {}
func (NopEngineMetrics) ConsumptionReset(bool) {}

// ensure interface compliance
var _ ReadingSink = NopReadingSink{}
var _ EventPublisher = NopEventPublisher{}
var _ EngineMetrics = NopEngineMetrics{}
