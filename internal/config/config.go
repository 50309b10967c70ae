package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gridpay/relayctl/internal/core/domain"

	"go.uber.org/zap/zapcore"
)

const (
	DB_DRIVER_SQLITE = "sqlite"
	DB_DRIVER_MYSQL  = "mysql"
)

type Config struct {
	LogLevel     zapcore.Level
	MQTT         MQTTConfig          `mapstructure:"mqtt"`
	Database     DatabaseConfig      `mapstructure:"database"`
	Billing      BillingConfig       `mapstructure:"billing"`
	Status       StatusConfig        `mapstructure:"status"`
	InfluxDB     InfluxDBConfig      `mapstructure:"influxdb"`
	Kafka        KafkaConfig         `mapstructure:"kafka"`
	ModbusMeters []ModbusMeterConfig `mapstructure:"modbus_meters"`
	Port         uint                `mapstructure:"port"`
	HttpLog      bool                `mapstructure:"http_log"`
	AdminToken   string              `mapstructure:"admin_token"`
}

type MQTTConfig struct {
	Host                 string
	Port                 int
	Username             string
	Password             string
	ClientId             string `mapstructure:"client_id"`
	BaseTopic            string `mapstructure:"base_topic"`
	QoS                  byte   `mapstructure:"qos"`
	ConnectTimeoutMillis uint32 `mapstructure:"connect_timeout_millis"`
	PublishTimeoutMillis uint32 `mapstructure:"publish_timeout_millis"`
	AutoReconnect        bool   `mapstructure:"auto_reconnect"`
}

type DatabaseConfig struct {
	Driver string
	DSN    string `mapstructure:"dsn"`
}

type BillingConfig struct {
	PricePerKWh         float64 `mapstructure:"price_per_kwh"`
	DefaultThresholdKWh float64 `mapstructure:"default_threshold_kwh"`
}

type StatusConfig struct {
	PublishIntervalSeconds uint32 `mapstructure:"publish_interval_seconds"`
}

type InfluxDBConfig struct {
	URL    string `mapstructure:"url"`
	Token  string
	Org    string
	Bucket string
}

func (c InfluxDBConfig) Enabled() bool {
	return c.URL != ""
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// ModbusMeterConfig describes a meter read over Modbus TCP and bridged onto
// its MQTT consumption topic.
type ModbusMeterConfig struct {
	MeterNumber        string `mapstructure:"meter_number"`
	Host               string
	Port               uint
	UnitId             uint8  `mapstructure:"unit_id"`
	Register           uint16 `mapstructure:"register"`
	RegisterType       string `mapstructure:"register_type"` // input, holding
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
}

func (cfg *Config) Validate() error {
	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	if cfg.MQTT.QoS > 2 {
		return errors.New("config param mqtt.qos should be 0, 1 or 2")
	}
	if cfg.MQTT.PublishTimeoutMillis < 100 {
		return errors.New("config param mqtt.publish_timeout_millis should be >= 100")
	}
	if cfg.MQTT.ConnectTimeoutMillis < 100 {
		return errors.New("config param mqtt.connect_timeout_millis should be >= 100")
	}
	if cfg.Billing.PricePerKWh <= 0 {
		return errors.New("config param billing.price_per_kwh should be > 0")
	}
	if cfg.Billing.DefaultThresholdKWh <= 0 {
		return errors.New("config param billing.default_threshold_kwh should be > 0")
	}
	switch cfg.Database.Driver {
	case DB_DRIVER_SQLITE, DB_DRIVER_MYSQL:
	default:
		return fmt.Errorf("config param database.driver: unknown driver %q", cfg.Database.Driver)
	}
	for _, m := range cfg.ModbusMeters {
		if err := CheckMeterNumber(m.MeterNumber); err != nil {
			return fmt.Errorf("config param modbus_meters[].meter_number: %w", err)
		}
		if m.PollIntervalMillis < 1000 {
			return fmt.Errorf("config param modbus_meters[%s].poll_interval_millis should be >= 1000", m.MeterNumber)
		}
		if m.RegisterType != "input" && m.RegisterType != "holding" {
			return fmt.Errorf("config param modbus_meters[%s].register_type should be input or holding", m.MeterNumber)
		}
	}
	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// CheckMeterNumber rejects meter numbers that cannot be a single MQTT topic
// level: empty, or containing '/', '+' or '#'.
func CheckMeterNumber(meterNumber string) error {
	if strings.TrimSpace(meterNumber) == "" {
		return fmt.Errorf("%w: empty", domain.ErrInvalidMeterNumber)
	}
	if strings.ContainsAny(meterNumber, "/+#") {
		return fmt.Errorf("%w: %q contains '/', '+' or '#'", domain.ErrInvalidMeterNumber, meterNumber)
	}
	return nil
}
