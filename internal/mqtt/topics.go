package mqtt

import (
	"errors"
	"fmt"
	"regexp"
)

var ErrInvalidTopic = errors.New("topic is not a consumption topic")

// Topics builds and parses the per-meter topic names under a base topic.
type Topics struct {
	base              string
	consumptionRegexp *regexp.Regexp
}

func NewTopics(baseTopic string) Topics {
	return Topics{
		base:              baseTopic,
		consumptionRegexp: consumptionExtractor(baseTopic),
	}
}

func (t Topics) Base() string {
	return t.base
}

func (t Topics) ConsumptionTopic(meterNumber string) string {
	return fmt.Sprintf("%s/%s/consumption", t.base, meterNumber)
}

func (t Topics) RelayTopic(meterNumber string) string {
	return fmt.Sprintf("%s/%s/relay", t.base, meterNumber)
}

func (t Topics) StatusTopic(meterNumber string) string {
	return fmt.Sprintf("%s/%s/status", t.base, meterNumber)
}

func (t Topics) BridgeStateTopic() string {
	return bridgeStateTopic(t.base)
}

// SubscriptionSet returns the consumption and relay topics of every meter.
func (t Topics) SubscriptionSet(meterNumbers []string) []string {
	topics := make([]string, 0, len(meterNumbers)*2)
	for _, m := range meterNumbers {
		topics = append(topics, t.ConsumptionTopic(m), t.RelayTopic(m))
	}
	return topics
}

// ParseConsumptionTopic extracts the meter number segment of a consumption topic.
func (t Topics) ParseConsumptionTopic(topic string) (string, error) {
	matches := t.consumptionRegexp.FindAllStringSubmatch(topic, 1)
	if len(matches) == 0 || len(matches[0]) != 2 {
		return "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	return matches[0][1], nil
}

func consumptionExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/([^/+#]+)/consumption$", regexp.QuoteMeta(baseTopic)))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
