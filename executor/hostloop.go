package executor

import (
	"fmt"
	"sync"
	"time"
)

// hostLoop runs completions and host function calls on one goroutine. It
// also hands time to background runtime tasks: after delay, tick is called
// every interval.
type hostLoop struct {
	jobs chan func()
	wake chan struct{}
	quit chan struct{}

	delay    time.Duration
	interval time.Duration
	tick     func()

	mu     sync.RWMutex
	closed bool
}

func newHostLoop(delay, interval time.Duration, tick func()) *hostLoop {
	return &hostLoop{
		jobs:     make(chan func(), 64),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		delay:    delay,
		interval: interval,
		tick:     tick,
	}
}

func (h *hostLoop) post(fn func()) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	h.jobs <- fn
	return nil
}

func (h *hostLoop) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *hostLoop) run() error {
	log.Debug("host loop started")
	timer := time.NewTimer(h.delay)
	defer timer.Stop()
	ticks := timer.C
	var ticker *time.Ticker

	for {
		select {
		case fn := <-h.jobs:
			h.runJob(fn)
		case <-h.wake:
		case <-ticks:
			if ticker == nil {
				ticker = time.NewTicker(h.interval)
				defer ticker.Stop()
				ticks = ticker.C
			}
			h.tick()
		case <-h.quit:
			for {
				select {
				case fn := <-h.jobs:
					h.runJob(fn)
				default:
					log.Debug("host loop stopped")
					return nil
				}
			}
		}
	}
}

// stop rejects new jobs. Jobs already posted still run.
func (h *hostLoop) stop() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	close(h.quit)
}

func (h *hostLoop) runJob(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("host job panicked: %s", fmt.Sprint(r))
		}
	}()
	fn()
}
