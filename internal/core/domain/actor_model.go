package domain

const (
	ACTOR_ID_MASTER    = "master"
	ACTOR_ID_MQTT      = "mqtt"
	ACTOR_ID_TELEMETRY = "telemetry"
	ACTOR_ID_MODBUS    = "modbus"
)

// TelemetryMessage is an inbound message received on a consumption topic.
type TelemetryMessage struct {
	Topic   string
	Payload []byte
}

// ResubscribeRequest carries the full list of meter numbers to subscribe to.
type ResubscribeRequest struct {
	ActorRequestMixIn
	MeterNumbers []string
}

type ResubscribeResponse struct {
	ActorResponseMixIn
	Topics int
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
