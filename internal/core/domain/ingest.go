package domain

import "fmt"

type RejectReason string

const (
	RejectMalformedPayload       RejectReason = "MALFORMED_PAYLOAD"
	RejectInvalidTopic           RejectReason = "INVALID_TOPIC"
	RejectMissingValue           RejectReason = "MISSING_VALUE"
	RejectInvalidNumber          RejectReason = "INVALID_NUMBER"
	RejectNegativeConsumption    RejectReason = "NEGATIVE_CONSUMPTION"
	RejectUnknownOrInactiveMeter RejectReason = "UNKNOWN_OR_INACTIVE_METER"
)

// IngestError is a terminal rejection of a single telemetry message.
type IngestError struct {
	Reason RejectReason
	Topic  string
	Detail string
}

func (e *IngestError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("telemetry rejected (%s) on %s: %s", e.Reason, e.Topic, e.Detail)
	}
	return fmt.Sprintf("telemetry rejected (%s) on %s", e.Reason, e.Topic)
}

func Reject(reason RejectReason, topic, detail string) *IngestError {
	return &IngestError{Reason: reason, Topic: topic, Detail: detail}
}
