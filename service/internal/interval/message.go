package interval

import "github.com/jaym/go-microtimer/caller"

type messageType int

const (
	messageTypeTick messageType = iota
	messageTypeCancel
)

type cancelReason int

const (
	cancelReasonRequested cancelReason = iota
	cancelReasonLimit
)

func (r cancelReason) String() string {
	if r == cancelReasonLimit {
		return "limit reached"
	}
	return "cancel requested"
}

// message is the single vocabulary of the relay and control channels. Natural
// exhaustion and external cancellation are both messageTypeCancel, so whichever
// the consumer reads first decides how the interval ends.
type message struct {
	msgType messageType
	caller  caller.Handle
	reason  cancelReason
}

func tickMessage(c caller.Handle) message {
	return message{msgType: messageTypeTick, caller: c}
}

func cancelMessage(c caller.Handle, reason cancelReason) message {
	return message{msgType: messageTypeCancel, caller: c, reason: reason}
}
