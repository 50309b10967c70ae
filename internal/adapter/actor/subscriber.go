package actor

import (
	"fmt"
	"time"

	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"

	"github.com/asynkron/protoactor-go/actor"
)

// ActorSubscriber requests a resubscription from the actor tree and waits for
// the outcome.
type ActorSubscriber struct {
	system  *actor.ActorSystem
	target  *actor.PID
	timeout time.Duration
}

var _ port.Subscriber = (*ActorSubscriber)(nil)

func NewActorSubscriber(system *actor.ActorSystem, target *actor.PID, timeout time.Duration) *ActorSubscriber {
	return &ActorSubscriber{
		system:  system,
		target:  target,
		timeout: timeout,
	}
}

func (s *ActorSubscriber) Resubscribe(meterNumbers []string) error {
	res, err := s.system.Root.RequestFuture(s.target, domain.ResubscribeRequest{
		MeterNumbers: meterNumbers,
	}, s.timeout).Result()
	if err != nil {
		return err
	}
	resp, ok := res.(domain.ResubscribeResponse)
	if !ok {
		return fmt.Errorf("unexpected resubscribe response %T", res)
	}
	return resp.GetResponseError()
}
