package port

// MessageHandler receives inbound transport messages.
type MessageHandler func(topic string, payload []byte)

// Transport is a swappable publish/subscribe connection. Publish fails fast
// when no connection is established.
type Transport interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler MessageHandler) error
	// Reconnect tears down the current connection, opens a new one and
	// subscribes every topic with handler.
	Reconnect(topics []string, handler MessageHandler) error
	Connected() bool
	Close()
}

// Subscriber applies a new meter subscription set.
type Subscriber interface {
	Resubscribe(meterNumbers []string) error
}
