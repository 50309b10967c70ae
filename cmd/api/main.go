package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/gridpay/relayctl/internal/adapter/actor"
	"github.com/gridpay/relayctl/internal/adapter/influx"
	"github.com/gridpay/relayctl/internal/adapter/kafka"
	"github.com/gridpay/relayctl/internal/adapter/store"
	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/actor"
	"github.com/gridpay/relayctl/internal/core/service"
	"github.com/gridpay/relayctl/internal/metrics"
	"github.com/gridpay/relayctl/internal/mqtt"
	"github.com/gridpay/relayctl/internal/scheduler"
	"github.com/gridpay/relayctl/internal/server"
	"github.com/gridpay/relayctl/internal/util/actorutil"
	"github.com/gridpay/relayctl/pkg/energymeter"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	logger.Info("starting relayctl", zap.String("version", versioninfo.Short()))

	// persistence
	db, err := store.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("could not open database", zap.Error(err))
	}
	repo := store.New(db)
	defer repo.Close()

	// metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// engine
	transport := mqtt.NewTransport(cfg, logger)
	engine := service.NewEngine(cfg, repo, repo, transport, logger)
	engine.Metrics = metrics.NewEngineMetrics(registry)

	if cfg.InfluxDB.Enabled() {
		sink, err := influx.NewSink(cfg.InfluxDB, logger)
		if err != nil {
			logger.Fatal("could not connect to influxdb", zap.Error(err))
		}
		defer sink.Close()
		engine.Sink = sink
	}
	if cfg.Kafka.Enabled() {
		publisher := kafka.NewPublisher(cfg.Kafka, logger)
		defer publisher.Close()
		engine.Events = publisher
	}

	billing := service.NewBillingService(repo, repo, engine, cfg.Billing.PricePerKWh, logger)
	status := service.NewStatusService(repo, engine.Resolver)

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(cfg,
			telemetryActorProvider(cfg, engine, logger),
			mqttActorProvider(cfg, transport, repo, logger),
			modbusBridgeProvider(cfg, transport, logger),
			logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		logger.Error("could not spawn master actor", zap.Error(err))
		return
	}
	resubscribeTimeout := time.Duration(2*cfg.MQTT.ConnectTimeoutMillis+2*cfg.MQTT.PublishTimeoutMillis) * time.Millisecond
	engine.Subscriber = adactor.NewActorSubscriber(as, pid, resubscribeTimeout)

	// periodic status reports
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	sched := scheduler.New(logger)
	sched.Start(schedCtx)
	statusJob := scheduler.NewStatusJob(status, transport, mqtt.NewTopics(cfg.MQTT.BaseTopic), logger)
	if err := sched.ScheduleStatus(statusJob, time.Duration(cfg.Status.PublishIntervalSeconds)*time.Second); err != nil {
		logger.Error("could not schedule status job", zap.Error(err))
	}

	server := server.NewServer(*cfg, ctx, pid, server.Services{
		Meters:   engine,
		Billing:  billing,
		Status:   status,
		Gatherer: registry,
	}, logger)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	sched.Stop(stopCtx)

	_ = ctx.StopFuture(pid).Wait()
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => RELAYCTL_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("RELAYCTL_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("relayctl")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func telemetryActorProvider(cfg *config.Config, engine *service.Engine, logger *zap.Logger) actor.TelemetryActorProvider {
	return func() *adactor.TelemetryActor {
		return adactor.NewTelemetryActor(cfg, engine, logger)
	}
}

func mqttActorProvider(cfg *config.Config, transport *mqtt.Transport, repo *store.Store, logger *zap.Logger) actor.MQTTActorProvider {
	return func(telemetry *pactor.PID) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, transport, repo, telemetry, logger)
	}
}

func modbusBridgeProvider(cfg *config.Config, transport *mqtt.Transport, logger *zap.Logger) actor.ModbusBridgeActorProvider {
	return func(meter config.ModbusMeterConfig) *adactor.ModbusBridgeActor {
		regType, err := energymeter.ParseRegType(meter.RegisterType)
		if err != nil {
			panic(err)
		}
		reader, err := energymeter.CreateModbusEnergyReader(meter.Host, meter.Port, meter.UnitId,
			meter.Register, regType, 1*time.Second, logger, nil)
		if err != nil {
			panic(err)
		}
		return adactor.NewModbusBridgeActor(cfg, meter, reader, transport, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.client_id", "")
	viper.SetDefault("mqtt.base_topic", "electricity")
	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("mqtt.connect_timeout_millis", 5000)
	viper.SetDefault("mqtt.publish_timeout_millis", 2000)
	viper.SetDefault("mqtt.auto_reconnect", false)
	viper.SetDefault("database.driver", config.DB_DRIVER_SQLITE)
	viper.SetDefault("database.dsn", "relayctl.db")
	viper.SetDefault("billing.price_per_kwh", 0.5)
	viper.SetDefault("billing.default_threshold_kwh", service.DefaultThresholdKWh)
	viper.SetDefault("status.publish_interval_seconds", 60)
	viper.SetDefault("influxdb.url", "")
	viper.SetDefault("influxdb.token", "")
	viper.SetDefault("influxdb.org", "")
	viper.SetDefault("influxdb.bucket", "relayctl")
	viper.SetDefault("kafka.brokers", []string{})
	viper.SetDefault("kafka.topic", "")
	viper.SetDefault("http_log", false)
	viper.SetDefault("admin_token", "")
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.InfluxDB.Token = "*redacted*"
	cfg.AdminToken = "*redacted*"
	cfg.Database.DSN = "*redacted*"
	slog.Info("Using", "config", cfg)
}
