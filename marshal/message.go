package marshal

import "github.com/caffeineduck/starbridge/foreign"

// MessageKind identifies what an AsyncMessage asks the foreign loop to do.
type MessageKind int

const (
	// MessageInvoke calls Callee with Args and Kwargs.
	MessageInvoke MessageKind = iota
)

func (k MessageKind) String() string {
	if k == MessageInvoke {
		return "invoke"
	}
	return "unknown"
}

// AsyncMessage asks the foreign loop to call Callee. The message owns its
// three references; whoever consumes it calls Release.
type AsyncMessage struct {
	Kind     MessageKind
	Callee   *foreign.Ref
	Args     *foreign.Ref
	Kwargs   *foreign.Ref
	Callback func(result any, err error)
}

// Release drops the message's three references.
func (msg AsyncMessage) Release() {
	msg.Callee.Release()
	msg.Args.Release()
	msg.Kwargs.Release()
}

// Dispatcher queues messages for the foreign loop.
type Dispatcher interface {
	Dispatch(msg AsyncMessage) error
}
