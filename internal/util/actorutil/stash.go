package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

// Stash holds messages an actor cannot handle in its current state.
type Stash struct {
	pending []stashed
}

type stashed struct {
	msg    any
	sender *actor.PID
}

func (s *Stash) Stash(ctx actor.Context, msg any) {
	s.pending = append(s.pending, stashed{msg: msg, sender: ctx.Sender()})
}

func (s *Stash) Len() int {
	return len(s.pending)
}

// UnstashAll re-enqueues every held message to self in arrival order,
// keeping the original sender so replies still reach it.
func (s *Stash) UnstashAll(ctx actor.Context) {
	pending := s.pending
	s.pending = nil
	for _, p := range pending {
		ctx.RequestWithCustomSender(ctx.Self(), p.msg, p.sender)
	}
}
