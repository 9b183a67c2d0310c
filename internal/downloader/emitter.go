package downloader

import (
	"sync"
	"time"

	"nagare/internal/entity"

	"golang.org/x/time/rate"
)

// emitter fans executor events into one buffered channel. Intermediate
// progress is rate limited per item and dropped when the consumer lags.
// Status changes and terminal events are always delivered.
type emitter struct {
	out      chan entity.ProgressEvent
	done     chan struct{}
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	last     map[string]entity.Status
}

func newEmitter(buffer int, interval time.Duration) *emitter {
	return &emitter{
		out:      make(chan entity.ProgressEvent, max(1, buffer)),
		done:     make(chan struct{}),
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
		last:     make(map[string]entity.Status),
	}
}

func (e *emitter) emit(ev entity.ProgressEvent) {
	send, must := e.admit(ev)
	if !send {
		return
	}

	if must {
		select {
		case e.out <- ev:
		case <-e.done:
		}

		return
	}

	select {
	case e.out <- ev:
	default:
	}
}

func (e *emitter) admit(ev entity.ProgressEvent) (send, must bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.IsTerminal() {
		delete(e.limiters, ev.ID)
		delete(e.last, ev.ID)

		return true, true
	}

	lim, ok := e.limiters[ev.ID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(e.interval), 1)
		e.limiters[ev.ID] = lim
	}

	if e.last[ev.ID] != ev.Status {
		e.last[ev.ID] = ev.Status
		lim.Allow()

		return true, true
	}

	return lim.Allow(), false
}

// forget drops the limiter state of a cancelled run.
func (e *emitter) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.limiters, id)
	delete(e.last, id)
}

// stop unblocks pending sends. close must follow once no sender is left.
func (e *emitter) stop() {
	close(e.done)
}

func (e *emitter) close() {
	close(e.out)
}
