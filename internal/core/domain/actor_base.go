package domain

import (
	"github.com/asynkron/protoactor-go/actor"
)

// ActorRequestMixIn lets a request name its reply target. Without one the
// reply goes to the sender of the request.
type ActorRequestMixIn struct {
	ReplyToPID *actor.PID
}

type ActorRequest interface {
	ReplyTo() *actor.PID
}

func (r ActorRequestMixIn) ReplyTo() *actor.PID {
	return r.ReplyToPID
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}
