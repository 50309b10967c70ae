package util

import (
	"github.com/gridpay/relayctl/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:                 "localhost",
			Port:                 1883,
			BaseTopic:            "electricity",
			ConnectTimeoutMillis: 1000,
			PublishTimeoutMillis: 500,
		},
		Database: config.DatabaseConfig{
			Driver: config.DB_DRIVER_SQLITE,
			DSN:    "file::memory:?cache=shared",
		},
		Billing: config.BillingConfig{
			PricePerKWh:         0.5,
			DefaultThresholdKWh: 100,
		},
		Status: config.StatusConfig{
			PublishIntervalSeconds: 60,
		},
		Port: 8080,
	}
}
