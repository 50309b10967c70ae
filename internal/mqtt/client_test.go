package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsumptionTopicParse(t *testing.T) {

	assert := assert.New(t)

	topics := NewTopics("electricity")
	meter, err := topics.ParseConsumptionTopic("electricity/CNT-001/consumption")

	assert.NoError(err)
	assert.Equal("CNT-001", meter, "meter extract")
}

func TestConsumptionTopicParseFail(t *testing.T) {

	assert := assert.New(t)

	topics := NewTopics("electricity")
	for _, topic := range []string{
		"electricity/CNT-001/relay",
		"electricity/consumption",
		"electricity/a/b/consumption",
		"other/CNT-001/consumption",
		"",
	} {
		_, err := topics.ParseConsumptionTopic(topic)
		assert.ErrorIs(err, ErrInvalidTopic, topic)
	}
}

func TestConsumptionTopicRoundTrip(t *testing.T) {

	assert := assert.New(t)

	topics := NewTopics("electricity")
	meter, err := topics.ParseConsumptionTopic(topics.ConsumptionTopic("CNT-4521"))

	assert.NoError(err)
	assert.Equal("CNT-4521", meter)
}

func TestTopicNames(t *testing.T) {

	assert := assert.New(t)

	topics := NewTopics("electricity")

	assert.Equal("electricity/CNT-001/relay", topics.RelayTopic("CNT-001"))
	assert.Equal("electricity/CNT-001/status", topics.StatusTopic("CNT-001"))
	assert.Equal("electricity/bridge/state", topics.BridgeStateTopic())
	assert.Equal([]string{
		"electricity/A/consumption", "electricity/A/relay",
		"electricity/B/consumption", "electricity/B/relay",
	}, topics.SubscriptionSet([]string{"A", "B"}))
	assert.Empty(topics.SubscriptionSet(nil))
}
