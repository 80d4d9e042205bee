package executor

import (
	"errors"
	"sync"

	"github.com/caffeineduck/starbridge/foreign"
	"github.com/caffeineduck/starbridge/marshal"
	"go.starlark.net/starlark"
)

// foreignLoop runs queued calls on the runtime in FIFO order.
type foreignLoop struct {
	e *Executor

	mu     sync.Mutex
	queue  []marshal.AsyncMessage
	closed bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newForeignLoop(e *Executor) *foreignLoop {
	return &foreignLoop{
		e:    e,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (l *foreignLoop) enqueue(msg marshal.AsyncMessage) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, msg)
	l.mu.Unlock()
	l.signal()
	return nil
}

// signal wakes the loop. Wakes coalesce.
func (l *foreignLoop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *foreignLoop) run() error {
	defer close(l.done)
	log.Debug("foreign loop started")
	for {
		select {
		case <-l.wake:
			l.drain()
		case <-l.quit:
			l.drain()
			log.Debug("foreign loop stopped")
			return nil
		}
	}
}

// stop rejects new messages and waits for the queued ones to finish.
func (l *foreignLoop) stop() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	close(l.quit)
	<-l.done
}

func (l *foreignLoop) drain() {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	if len(batch) > 0 {
		log.Debugf("foreign loop: %d messages", len(batch))
	}
	for _, msg := range batch {
		l.process(msg)
	}
	l.e.rt.RunPending()
	l.e.host.signal()
}

func (l *foreignLoop) process(msg marshal.AsyncMessage) {
	e := l.e
	g := e.rt.Lock()
	thread := e.rt.NewThread("loop", foreign.OriginLoop)
	args, _ := msg.Args.Value().(starlark.Tuple)
	kwargs, _ := msg.Kwargs.Value().(*starlark.Dict)

	var result *foreign.Ref
	v, err := e.rt.Call(thread, msg.Callee.Value(), args, kwargs)
	if err != nil {
		err = e.marshal.Translate(err)
	} else {
		result = e.rt.Heap().NewRef(v)
	}
	msg.Release()
	g.Unlock()

	if msg.Callback == nil {
		if err != nil {
			e.reportAsyncFailure(err)
		} else {
			result.Release()
		}
		return
	}

	complete := func() {
		if err != nil {
			msg.Callback(nil, err)
			return
		}
		g := e.rt.Lock()
		res, cerr := e.marshal.ToHost(result.Value())
		result.Release()
		g.Unlock()
		msg.Callback(res, cerr)
	}
	if perr := e.host.post(complete); perr != nil {
		log.Errorf("drop completion: %s", perr)
		if result != nil {
			result.Release()
		}
	}
}

// reportAsyncFailure is the only delivery path for a failed call that
// nobody waits on.
func (e *Executor) reportAsyncFailure(err error) {
	log.Warningf("async call failed: %s", err)
	e.marshal.Debug("loop", "async call failed", err.Error())

	var fe *marshal.ForeignError
	if errors.As(err, &fe) {
		fe.Close()
	}
}
