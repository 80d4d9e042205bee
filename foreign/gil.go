package foreign

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
	"go.starlark.net/starlark"
)

// gil is the runtime lock. The goroutine holding it may take it again;
// depth counts the nested acquisitions.
type gil struct {
	mu    sync.Mutex
	owner atomic.Int64
	depth int
}

func (l *gil) acquire() {
	id := goid.Get()
	if l.owner.Load() == id {
		l.depth++
		return
	}
	l.mu.Lock()
	l.owner.Store(id)
	l.depth = 1
}

func (l *gil) release() {
	l.depth--
	if l.depth == 0 {
		l.owner.Store(0)
		l.mu.Unlock()
	}
}

// Guard holds the runtime lock until Unlock is called. Unlock may be called
// more than once; only the first call releases.
type Guard struct {
	l    *gil
	once sync.Once
}

// Lock acquires the runtime lock. A goroutine that already holds it gets a
// nested Guard, and the lock is released when the outermost Guard unlocks.
func (rt *Runtime) Lock() *Guard {
	rt.gil.acquire()
	return &Guard{l: &rt.gil}
}

// Unlock releases the lock.
func (g *Guard) Unlock() {
	g.once.Do(g.l.release)
}

// Held reports whether the calling goroutine holds the lock.
func (rt *Runtime) Held() bool {
	return rt.gil.owner.Load() == goid.Get()
}

// Unlocked fully releases the lock held by the calling goroutine, runs fn
// and reacquires the lock at the same depth before returning. It is the
// only way foreign code may block on something outside the runtime.
func (rt *Runtime) Unlocked(fn func()) {
	l := &rt.gil
	depth := l.depth
	l.depth = 0
	l.owner.Store(0)
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.owner.Store(goid.Get())
		l.depth = depth
	}()
	fn()
}

// Origin records who entered the interpreter on a given thread.
type Origin int

const (
	// OriginHost marks a synchronous call made from a host goroutine.
	OriginHost Origin = iota
	// OriginLoop marks work executed by the foreign loop or the scheduler.
	OriginLoop
)

func (o Origin) String() string {
	if o == OriginLoop {
		return "loop"
	}
	return "host"
}

const originKey = "starbridge.origin"

// ThreadOrigin reports how the interpreter was entered on thread.
func ThreadOrigin(thread *starlark.Thread) Origin {
	if thread == nil {
		return OriginHost
	}
	if o, ok := thread.Local(originKey).(Origin); ok {
		return o
	}
	return OriginHost
}
