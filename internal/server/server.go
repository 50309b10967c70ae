package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/service"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type MeterService interface {
	RegisterMeter(ctx context.Context, meter domain.Meter) error
	SetMeterActive(ctx context.Context, meterNumber string, active bool) error
	OnManualCommand(ctx context.Context, meterNumber string, directive domain.Directive) error
}

type BillingService interface {
	CreateInvoice(ctx context.Context, meterNumber string, amount decimal.Decimal) (*domain.Invoice, error)
	RecordPayment(ctx context.Context, invoiceId uint, amount decimal.Decimal) (*service.PaymentResult, error)
}

type StatusService interface {
	Snapshot(ctx context.Context, meterNumber string) (*domain.MeterStatus, error)
}

type Services struct {
	Meters   MeterService
	Billing  BillingService
	Status   StatusService
	Gatherer prometheus.Gatherer
}

type Server struct {
	port        uint
	httpLog     bool
	adminToken  string
	rootContext *actor.RootContext
	masterActor *actor.PID
	services    Services
	logger      *zap.Logger
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID,
	services Services, logger *zap.Logger) *http.Server {
	NewServer := &Server{
		port:        cfg.Port,
		httpLog:     cfg.HttpLog,
		adminToken:  cfg.AdminToken,
		rootContext: rootContext,
		masterActor: masterActor,
		services:    services,
		logger:      logger,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
