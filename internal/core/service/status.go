package service

import (
	"context"
	"fmt"
	"math"

	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"
)

type StatusService struct {
	Registry port.MeterRegistry
	Resolver *ThresholdResolver
}

func NewStatusService(registry port.MeterRegistry, resolver *ThresholdResolver) *StatusService {
	return &StatusService{
		Registry: registry,
		Resolver: resolver,
	}
}

func (s *StatusService) Snapshot(ctx context.Context, meterNumber string) (*domain.MeterStatus, error) {
	meter, err := s.Registry.FindMeterByNumber(ctx, meterNumber)
	if err != nil {
		return nil, err
	}
	threshold, err := s.Resolver.Resolve(ctx, meterNumber)
	if err != nil {
		return nil, err
	}
	relay := domain.DirectiveOn
	if meter.CumulativeKWh >= threshold {
		relay = domain.DirectiveOff
	}
	return &domain.MeterStatus{
		MeterNumber:   meter.MeterNumber,
		Active:        meter.Active,
		CumulativeKWh: meter.CumulativeKWh,
		ThresholdKWh:  threshold,
		RemainingKWh:  math.Max(0, threshold-meter.CumulativeKWh),
		Relay:         relay,
		LastUpdateAt:  meter.LastUpdateAt,
	}, nil
}

// SnapshotAll returns the status of every registered meter. A meter that
// fails is skipped and reported in the returned error.
func (s *StatusService) SnapshotAll(ctx context.Context) ([]domain.MeterStatus, error) {
	numbers, err := s.Registry.ListAllMeterNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list meters: %w", err)
	}
	statuses := make([]domain.MeterStatus, 0, len(numbers))
	var failed []string
	for _, n := range numbers {
		st, err := s.Snapshot(ctx, n)
		if err != nil {
			failed = append(failed, n)
			continue
		}
		statuses = append(statuses, *st)
	}
	if len(failed) > 0 {
		return statuses, fmt.Errorf("status of %d meters unavailable: %v", len(failed), failed)
	}
	return statuses, nil
}
