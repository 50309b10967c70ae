package actorutil

import (
	"github.com/gridpay/relayctl/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
)

// ReplyTarget is the explicit reply target of req, or the sender of the
// message being processed.
func ReplyTarget(ctx actor.Context, req domain.ActorRequest) *actor.PID {
	if pid := req.ReplyTo(); pid != nil {
		return pid
	}
	return ctx.Sender()
}
