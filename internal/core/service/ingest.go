package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"
	"github.com/gridpay/relayctl/internal/mqtt"
)

const localTimestampLayout = "2006-01-02T15:04:05"

// IngestPipeline turns a raw consumption message into a validated Reading.
// Gates run in a fixed order and the first failing gate decides the reason.
type IngestPipeline struct {
	Topics   mqtt.Topics
	Registry port.MeterRegistry
	Now      func() time.Time
}

func NewIngestPipeline(topics mqtt.Topics, registry port.MeterRegistry) *IngestPipeline {
	return &IngestPipeline{
		Topics:   topics,
		Registry: registry,
		Now:      time.Now,
	}
}

// Ingest returns a *domain.IngestError for rejected messages. Any other error
// is a registry failure.
func (p *IngestPipeline) Ingest(ctx context.Context, topic string, payload []byte) (domain.Reading, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil || body == nil {
		detail := "payload is not a JSON object"
		if err != nil {
			detail = err.Error()
		}
		return domain.Reading{}, domain.Reject(domain.RejectMalformedPayload, topic, detail)
	}

	// the topic is authoritative, any meter_number in the body is ignored
	meterNumber, err := p.Topics.ParseConsumptionTopic(topic)
	if err != nil {
		return domain.Reading{}, domain.Reject(domain.RejectInvalidTopic, topic, err.Error())
	}

	raw, ok := body["kwh"]
	if !ok || isJSONNull(raw) {
		return domain.Reading{}, domain.Reject(domain.RejectMissingValue, topic, "kwh is missing")
	}

	delta, err := parseKWh(raw)
	if err != nil {
		return domain.Reading{}, domain.Reject(domain.RejectInvalidNumber, topic, err.Error())
	}

	if delta < 0 {
		return domain.Reading{}, domain.Reject(domain.RejectNegativeConsumption, topic,
			fmt.Sprintf("kwh %v is negative", delta))
	}

	meter, err := p.Registry.FindMeterByNumber(ctx, meterNumber)
	if err != nil {
		if errors.Is(err, domain.ErrMeterNotFound) {
			return domain.Reading{}, domain.Reject(domain.RejectUnknownOrInactiveMeter, topic,
				fmt.Sprintf("meter %s is not registered", meterNumber))
		}
		return domain.Reading{}, fmt.Errorf("lookup meter %s: %w", meterNumber, err)
	}
	if !meter.Active {
		return domain.Reading{}, domain.Reject(domain.RejectUnknownOrInactiveMeter, topic,
			fmt.Sprintf("meter %s is inactive", meterNumber))
	}

	return domain.Reading{
		MeterNumber: meterNumber,
		DeltaKWh:    delta,
		Timestamp:   p.parseTimestamp(body["timestamp"]),
		Topic:       topic,
	}, nil
}

func (p *IngestPipeline) parseTimestamp(raw json.RawMessage) time.Time {
	var s string
	if len(raw) > 0 && json.Unmarshal(raw, &s) == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		if t, err := time.ParseInLocation(localTimestampLayout, s, time.Local); err == nil {
			return t
		}
	}
	return p.Now()
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// parseKWh accepts a JSON number or a string holding a number.
func parseKWh(raw json.RawMessage) (float64, error) {
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, fmt.Errorf("kwh %s is not a number", string(raw))
		}
		value, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("kwh %q is not a number", s)
		}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("kwh %v is not finite", value)
	}
	return value, nil
}
