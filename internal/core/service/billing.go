package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Reactivator interface {
	OnReactivated(ctx context.Context, meterNumber string) ReactivationResult
}

// BillingService issues prepaid invoices and records their payments. A fully
// paid invoice reactivates its meter.
type BillingService struct {
	Invoices    port.InvoiceStore
	Registry    port.MeterRegistry
	Reactivator Reactivator
	PricePerKWh decimal.Decimal
	Now         func() time.Time
	Logger      *zap.Logger

	paymentMu sync.Mutex
}

func NewBillingService(invoices port.InvoiceStore, registry port.MeterRegistry, reactivator Reactivator,
	pricePerKWh float64, logger *zap.Logger) *BillingService {
	return &BillingService{
		Invoices:    invoices,
		Registry:    registry,
		Reactivator: reactivator,
		PricePerKWh: decimal.NewFromFloat(pricePerKWh),
		Now:         time.Now,
		Logger:      logger,
	}
}

// QuoteKWh is the energy bought by amount, rounded to 2 decimals.
func (s *BillingService) QuoteKWh(amount decimal.Decimal) float64 {
	return amount.DivRound(s.PricePerKWh, 8).Round(2).InexactFloat64()
}

// QuoteAmount is the price of kwh, rounded to 2 decimals.
func (s *BillingService) QuoteAmount(kwh float64) decimal.Decimal {
	return decimal.NewFromFloat(kwh).Mul(s.PricePerKWh).Round(2)
}

func (s *BillingService) CreateInvoice(ctx context.Context, meterNumber string, amount decimal.Decimal) (*domain.Invoice, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if _, err := s.Registry.FindMeterByNumber(ctx, meterNumber); err != nil {
		return nil, err
	}
	invoice := &domain.Invoice{
		MeterNumber: meterNumber,
		Amount:      amount,
		KWh:         s.QuoteKWh(amount),
		Status:      domain.InvoiceUnpaid,
		IssuedAt:    s.Now(),
	}
	if err := s.Invoices.CreateInvoice(ctx, invoice); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	s.Logger.Info("billing@invoice created",
		zap.Uint("invoice", invoice.Id), zap.String("meter", meterNumber),
		zap.String("amount", amount.StringFixed(2)), zap.Float64("kwh", invoice.KWh))
	return invoice, nil
}

type PaymentResult struct {
	Payment      domain.Payment
	Invoice      domain.Invoice
	Reactivation *ReactivationResult
}

func (s *BillingService) RecordPayment(ctx context.Context, invoiceId uint, amount decimal.Decimal) (*PaymentResult, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	s.paymentMu.Lock()
	defer s.paymentMu.Unlock()

	invoice, err := s.Invoices.FindInvoice(ctx, invoiceId)
	if err != nil {
		return nil, err
	}
	if invoice.Status == domain.InvoicePaid {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvoiceAlreadyPaid, invoiceId)
	}

	now := s.Now()
	payment := domain.Payment{
		InvoiceId: invoiceId,
		Amount:    amount,
		PaidAt:    now,
	}
	if err := s.Invoices.AddPayment(ctx, &payment); err != nil {
		return nil, fmt.Errorf("add payment: %w", err)
	}

	paid, err := s.Invoices.PaidAmount(ctx, invoiceId)
	if err != nil {
		return nil, fmt.Errorf("sum payments: %w", err)
	}
	result := &PaymentResult{Payment: payment, Invoice: *invoice}
	if paid.LessThan(invoice.Amount) {
		s.Logger.Info("billing@payment partial",
			zap.Uint("invoice", invoiceId), zap.String("paid", paid.StringFixed(2)),
			zap.String("due", invoice.Amount.StringFixed(2)))
		return result, nil
	}

	if err := s.Invoices.MarkInvoicePaid(ctx, invoiceId, now); err != nil {
		return nil, fmt.Errorf("mark invoice paid: %w", err)
	}
	result.Invoice.Status = domain.InvoicePaid
	result.Invoice.PaidAt = &now
	s.Logger.Info("billing@invoice paid", zap.Uint("invoice", invoiceId), zap.String("meter", invoice.MeterNumber))

	reactivation := s.Reactivator.OnReactivated(ctx, invoice.MeterNumber)
	result.Reactivation = &reactivation
	return result, nil
}

// IsClientError reports errors caused by the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidAmount) ||
		errors.Is(err, domain.ErrInvoiceAlreadyPaid) ||
		errors.Is(err, domain.ErrInvalidDirective) ||
		errors.Is(err, domain.ErrInvalidMeterNumber)
}
