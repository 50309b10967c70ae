package domain

import "time"

type EngineEventType string

const (
	EventReadingApplied   EngineEventType = "reading_applied"
	EventReadingRejected  EngineEventType = "reading_rejected"
	EventRelayDispatched  EngineEventType = "relay_dispatched"
	EventConsumptionReset EngineEventType = "consumption_reset"
)

// EngineEvent is emitted for every accounting or relay decision.
type EngineEvent struct {
	Id            string          `json:"id"`
	Type          EngineEventType `json:"type"`
	MeterNumber   string          `json:"meter_number,omitempty"`
	Directive     Directive       `json:"directive,omitempty"`
	KWh           *float64        `json:"kwh,omitempty"`
	CumulativeKWh *float64        `json:"cumulative_kwh,omitempty"`
	Reason        RejectReason    `json:"reason,omitempty"`
	Error         string          `json:"error,omitempty"`
	At            time.Time       `json:"at"`
}
