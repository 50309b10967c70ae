package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured database and migrates the schema.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DB_DRIVER_SQLITE:
		dialector = sqlite.Open(cfg.DSN)
	case config.DB_DRIVER_MYSQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Driver == config.DB_DRIVER_SQLITE {
		// sqlite allows a single writer
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&MeterModel{}, &InvoiceModel{}, &PaymentModel{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// Store implements the meter registry and the invoice store on GORM.
type Store struct {
	db *gorm.DB
}

// ensure interface compliance
var _ port.MeterRegistry = (*Store)(nil)
var _ port.InvoiceStore = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) FindMeterByNumber(ctx context.Context, meterNumber string) (*domain.Meter, error) {
	var m MeterModel
	err := s.db.WithContext(ctx).Where("meter_number = ?", meterNumber).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrMeterNotFound, meterNumber)
	}
	if err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}

func (s *Store) UpdateCumulative(ctx context.Context, meterNumber string, value float64, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&MeterModel{}).
		Where("meter_number = ?", meterNumber).
		Updates(map[string]any{
			"cumulative_kwh": value,
			"last_update_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrMeterNotFound, meterNumber)
	}
	return nil
}

func (s *Store) ListAllMeterNumbers(ctx context.Context) ([]string, error) {
	var numbers []string
	err := s.db.WithContext(ctx).Model(&MeterModel{}).Order("meter_number").Pluck("meter_number", &numbers).Error
	return numbers, err
}

func (s *Store) CreateMeter(ctx context.Context, meter domain.Meter) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&MeterModel{}).Where("meter_number = ?", meter.MeterNumber).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", domain.ErrMeterExists, meter.MeterNumber)
		}
		return tx.Create(&MeterModel{
			MeterNumber:   meter.MeterNumber,
			AccountId:     meter.AccountId,
			Active:        meter.Active,
			CumulativeKWh: meter.CumulativeKWh,
			LastUpdateAt:  meter.LastUpdateAt,
		}).Error
	})
}

func (s *Store) SetMeterActive(ctx context.Context, meterNumber string, active bool) error {
	res := s.db.WithContext(ctx).Model(&MeterModel{}).
		Where("meter_number = ?", meterNumber).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrMeterNotFound, meterNumber)
	}
	return nil
}

func (s *Store) LatestPaidInvoiceKWh(ctx context.Context, meterNumber string) (float64, bool, error) {
	var m InvoiceModel
	err := s.db.WithContext(ctx).
		Where("meter_number = ? AND status = ?", meterNumber, string(domain.InvoicePaid)).
		Order("issued_at DESC").Order("id DESC").
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return m.KWh, true, nil
}

func (s *Store) CreateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	m := InvoiceModel{
		MeterNumber: invoice.MeterNumber,
		Amount:      invoice.Amount,
		KWh:         invoice.KWh,
		Status:      string(invoice.Status),
		IssuedAt:    invoice.IssuedAt,
		PaidAt:      invoice.PaidAt,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	invoice.Id = m.ID
	return nil
}

func (s *Store) FindInvoice(ctx context.Context, id uint) (*domain.Invoice, error) {
	var m InvoiceModel
	err := s.db.WithContext(ctx).Take(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvoiceNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}

func (s *Store) AddPayment(ctx context.Context, payment *domain.Payment) error {
	m := PaymentModel{
		InvoiceId: payment.InvoiceId,
		Amount:    payment.Amount,
		PaidAt:    payment.PaidAt,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	payment.Id = m.ID
	return nil
}

func (s *Store) PaidAmount(ctx context.Context, invoiceId uint) (decimal.Decimal, error) {
	var payments []PaymentModel
	if err := s.db.WithContext(ctx).Where("invoice_id = ?", invoiceId).Find(&payments).Error; err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	return sum, nil
}

func (s *Store) MarkInvoicePaid(ctx context.Context, invoiceId uint, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&InvoiceModel{}).
		Where("id = ?", invoiceId).
		Updates(map[string]any{
			"status":  string(domain.InvoicePaid),
			"paid_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvoiceNotFound, invoiceId)
	}
	return nil
}
