package store

import (
	"time"

	"github.com/gridpay/relayctl/internal/core/domain"

	"github.com/shopspring/decimal"
)

type MeterModel struct {
	ID            uint       `gorm:"primaryKey"`
	MeterNumber   string     `gorm:"size:64;uniqueIndex;not null"`
	AccountId     string     `gorm:"size:64;index"`
	Active        bool       `gorm:"not null"`
	CumulativeKWh float64    `gorm:"column:cumulative_kwh;not null;default:0"`
	LastUpdateAt  *time.Time `gorm:"column:last_update_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime"`
}

func (MeterModel) TableName() string {
	return "meters"
}

func (m MeterModel) toDomain() *domain.Meter {
	return &domain.Meter{
		MeterNumber:   m.MeterNumber,
		AccountId:     m.AccountId,
		Active:        m.Active,
		CumulativeKWh: m.CumulativeKWh,
		LastUpdateAt:  m.LastUpdateAt,
	}
}

type InvoiceModel struct {
	ID          uint            `gorm:"primaryKey"`
	MeterNumber string          `gorm:"size:64;index:idx_invoice_meter_status;not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	KWh         float64         `gorm:"column:kwh;not null"`
	Status      string          `gorm:"size:16;index:idx_invoice_meter_status;not null"`
	IssuedAt    time.Time       `gorm:"index;not null"`
	PaidAt      *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (InvoiceModel) TableName() string {
	return "invoices"
}

func (m InvoiceModel) toDomain() *domain.Invoice {
	return &domain.Invoice{
		Id:          m.ID,
		MeterNumber: m.MeterNumber,
		Amount:      m.Amount,
		KWh:         m.KWh,
		Status:      domain.InvoiceStatus(m.Status),
		IssuedAt:    m.IssuedAt,
		PaidAt:      m.PaidAt,
	}
}

type PaymentModel struct {
	ID        uint            `gorm:"primaryKey"`
	InvoiceId uint            `gorm:"index;not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	PaidAt    time.Time       `gorm:"not null"`
}

func (PaymentModel) TableName() string {
	return "payments"
}
