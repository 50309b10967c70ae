package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMeterNotFound      = errors.New("meter not found")
	ErrMeterExists        = errors.New("meter already exists")
	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrInvoiceAlreadyPaid = errors.New("invoice already paid")
	ErrInvalidDirective   = errors.New("invalid directive")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidMeterNumber = errors.New("invalid meter number")
)

type Directive string

const (
	DirectiveOn  Directive = "ON"
	DirectiveOff Directive = "OFF"
)

func ParseDirective(s string) (Directive, error) {
	switch Directive(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectiveOn:
		return DirectiveOn, nil
	case DirectiveOff:
		return DirectiveOff, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirective, s)
}

type Meter struct {
	MeterNumber   string
	AccountId     string
	Active        bool
	CumulativeKWh float64
	LastUpdateAt  *time.Time
}

// Reading is a validated consumption delta, never persisted verbatim.
type Reading struct {
	MeterNumber string
	DeltaKWh    float64
	Timestamp   time.Time
	Topic       string
}

type InvoiceStatus string

const (
	InvoiceUnpaid InvoiceStatus = "unpaid"
	InvoicePaid   InvoiceStatus = "paid"
)

type Invoice struct {
	Id          uint
	MeterNumber string
	Amount      decimal.Decimal
	KWh         float64
	Status      InvoiceStatus
	IssuedAt    time.Time
	PaidAt      *time.Time
}

type Payment struct {
	Id        uint
	InvoiceId uint
	Amount    decimal.Decimal
	PaidAt    time.Time
}

// MeterStatus is a point-in-time view of a meter against its allowance.
type MeterStatus struct {
	MeterNumber   string     `json:"meter_number"`
	Active        bool       `json:"active"`
	CumulativeKWh float64    `json:"cumulative_kwh"`
	ThresholdKWh  float64    `json:"threshold_kwh"`
	RemainingKWh  float64    `json:"remaining_kwh"`
	Relay         Directive  `json:"relay"`
	LastUpdateAt  *time.Time `json:"last_update_at,omitempty"`
}
