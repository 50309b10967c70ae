package influx

import (
	"context"
	"fmt"
	"time"

	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

const measurementEnergyConsumption = "energy_consumption"

type pointWriter interface {
	WritePoint(point *write.Point)
}

// Sink writes accepted readings to InfluxDB through the non-blocking write API.
type Sink struct {
	client influxdb2.Client
	writer pointWriter
	flush  func()
	logger *zap.Logger
}

var _ port.ReadingSink = (*Sink)(nil)

// NewSink connects to InfluxDB and verifies the server is reachable.
func NewSink(cfg config.InfluxDBConfig, logger *zap.Logger) (*Sink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to influxdb: %w", err)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("influx@write failed", zap.Error(err))
		}
	}()

	return &Sink{
		client: client,
		writer: writeAPI,
		flush:  writeAPI.Flush,
		logger: logger,
	}, nil
}

func (s *Sink) WriteReading(reading domain.Reading, cumulativeKWh float64) {
	s.writer.WritePoint(readingPoint(reading, cumulativeKWh))
}

func (s *Sink) Close() {
	if s.flush != nil {
		s.flush()
	}
	if s.client != nil {
		s.client.Close()
	}
}

func readingPoint(reading domain.Reading, cumulativeKWh float64) *write.Point {
	return write.NewPoint(
		measurementEnergyConsumption,
		map[string]string{
			"meter_number": reading.MeterNumber,
		},
		map[string]interface{}{
			"kwh":            reading.DeltaKWh,
			"cumulative_kwh": cumulativeKWh,
		},
		reading.Timestamp,
	)
}
