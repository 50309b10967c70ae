package port

import (
	"context"
	"time"

	"github.com/gridpay/relayctl/internal/core/domain"

	"github.com/shopspring/decimal"
)

// MeterRegistry is the single source of truth for meters and their
// cumulative consumption.
type MeterRegistry interface {
	FindMeterByNumber(ctx context.Context, meterNumber string) (*domain.Meter, error)
	UpdateCumulative(ctx context.Context, meterNumber string, value float64, at time.Time) error
	ListAllMeterNumbers(ctx context.Context) ([]string, error)
	CreateMeter(ctx context.Context, meter domain.Meter) error
	SetMeterActive(ctx context.Context, meterNumber string, active bool) error
}

type InvoiceStore interface {
	// LatestPaidInvoiceKWh returns the kWh of the most recently issued paid
	// invoice; found is false when the meter has none.
	LatestPaidInvoiceKWh(ctx context.Context, meterNumber string) (kwh float64, found bool, err error)
	CreateInvoice(ctx context.Context, invoice *domain.Invoice) error
	FindInvoice(ctx context.Context, id uint) (*domain.Invoice, error)
	AddPayment(ctx context.Context, payment *domain.Payment) error
	PaidAmount(ctx context.Context, invoiceId uint) (decimal.Decimal, error)
	MarkInvoicePaid(ctx context.Context, invoiceId uint, at time.Time) error
}
