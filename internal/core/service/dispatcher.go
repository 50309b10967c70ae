package service

import (
	"encoding/json"
	"fmt"

	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"
	"github.com/gridpay/relayctl/internal/mqtt"

	"go.uber.org/zap"
)

type relayCommand struct {
	Command domain.Directive `json:"command"`
}

// Dispatcher publishes relay directives. It never queues or retries: a
// missing connection fails immediately.
type Dispatcher struct {
	Transport port.Transport
	Topics    mqtt.Topics
	Logger    *zap.Logger
}

func NewDispatcher(transport port.Transport, topics mqtt.Topics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		Transport: transport,
		Topics:    topics,
		Logger:    logger,
	}
}

func (d *Dispatcher) Dispatch(meterNumber string, directive domain.Directive) error {
	payload, err := json.Marshal(relayCommand{Command: directive})
	if err != nil {
		return err
	}
	topic := d.Topics.RelayTopic(meterNumber)
	if err := d.Transport.Publish(topic, payload); err != nil {
		d.Logger.Error("dispatcher@publish failed",
			zap.String("meter", meterNumber), zap.String("directive", string(directive)), zap.Error(err))
		return fmt.Errorf("dispatch %s to %s: %w", directive, meterNumber, err)
	}
	d.Logger.Info("dispatcher@publish relay command",
		zap.String("meter", meterNumber), zap.String("directive", string(directive)))
	return nil
}
