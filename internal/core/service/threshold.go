package service

import (
	"context"
	"fmt"

	"github.com/gridpay/relayctl/internal/core/port"
)

const DefaultThresholdKWh = 100

// ThresholdResolver derives the consumption ceiling of a meter from its most
// recent paid invoice. Nothing is cached.
type ThresholdResolver struct {
	Invoices   port.InvoiceStore
	DefaultKWh float64
}

func NewThresholdResolver(invoices port.InvoiceStore, defaultKWh float64) *ThresholdResolver {
	if defaultKWh <= 0 {
		defaultKWh = DefaultThresholdKWh
	}
	return &ThresholdResolver{
		Invoices:   invoices,
		DefaultKWh: defaultKWh,
	}
}

func (r *ThresholdResolver) Resolve(ctx context.Context, meterNumber string) (float64, error) {
	kwh, found, err := r.Invoices.LatestPaidInvoiceKWh(ctx, meterNumber)
	if err != nil {
		return 0, fmt.Errorf("resolve threshold of %s: %w", meterNumber, err)
	}
	if !found {
		return r.DefaultKWh, nil
	}
	return kwh, nil
}
