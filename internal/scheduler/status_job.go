package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/mqtt"

	"go.uber.org/zap"
)

type StatusSource interface {
	SnapshotAll(ctx context.Context) ([]domain.MeterStatus, error)
}

type Publisher interface {
	Publish(topic string, payload []byte) error
}

// StatusJob publishes the status of every meter on <base>/<meter>/status.
type StatusJob struct {
	source    StatusSource
	publisher Publisher
	topics    mqtt.Topics
	logger    *zap.Logger
}

func NewStatusJob(source StatusSource, publisher Publisher, topics mqtt.Topics, logger *zap.Logger) *StatusJob {
	return &StatusJob{
		source:    source,
		publisher: publisher,
		topics:    topics,
		logger:    logger.With(zap.String("job", StatusJobName)),
	}
}

func (j *StatusJob) Description() string {
	return "publish meter status"
}

func (j *StatusJob) Execute(ctx context.Context) error {
	statuses, snapErr := j.source.SnapshotAll(ctx)
	if snapErr != nil {
		j.logger.Warn("status@execute incomplete snapshot", zap.Error(snapErr))
	}
	errs := []error{snapErr}
	published := 0
	for _, st := range statuses {
		payload, err := json.Marshal(st)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := j.publisher.Publish(j.topics.StatusTopic(st.MeterNumber), payload); err != nil {
			errs = append(errs, fmt.Errorf("publish status of %s: %w", st.MeterNumber, err))
			if errors.Is(err, mqtt.ErrNotConnected) {
				// no point trying the rest
				break
			}
			continue
		}
		published++
	}
	j.logger.Debug("status@execute done", zap.Int("published", published), zap.Int("meters", len(statuses)))
	return errors.Join(errs...)
}
