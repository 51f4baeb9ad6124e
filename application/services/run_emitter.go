package services

import (
	"sync"
	"time"
)

// runEmitter is the per-run throttle actor. Each run owns exactly one;
// it holds its own debounce timer and communicates only through its
// channels, so concurrent update submissions to the same run serialize
// through timer replacement rather than a queue, and runs never share
// throttle state.
type runEmitter struct {
	runID   string
	updates chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// emitterRegistry creates emitters on demand and tears them down on run
// teardown or service shutdown.
type emitterRegistry struct {
	mu       sync.Mutex
	emitters map[string]*runEmitter
	throttle time.Duration
	// throttleFn, when set, is consulted at every window scheduling so a
	// tunables change takes effect without restarting in-flight runs
	throttleFn func() time.Duration
	emit       func(runID string)
	stopped    bool
}

func newEmitterRegistry(throttle time.Duration, emit func(runID string)) *emitterRegistry {
	return &emitterRegistry{
		emitters: make(map[string]*runEmitter),
		throttle: throttle,
		emit:     emit,
	}
}

func (r *emitterRegistry) setThrottleProvider(fn func() time.Duration) {
	r.mu.Lock()
	r.throttleFn = fn
	r.mu.Unlock()
}

// currentThrottle resolves the active window. A nil provider or a
// non-positive value falls back to the construction-time duration.
func (r *emitterRegistry) currentThrottle() time.Duration {
	r.mu.Lock()
	fn := r.throttleFn
	r.mu.Unlock()

	if fn != nil {
		if d := fn(); d > 0 {
			return d
		}
	}
	return r.throttle
}

// Notify signals that a run's graph changed. The emitter coalesces
// trailing-edge: a new update inside the throttle window reschedules the
// pending emission, so only the latest state is ever sent.
func (r *emitterRegistry) Notify(runID string) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	e, ok := r.emitters[runID]
	if !ok {
		e = &runEmitter{
			runID:   runID,
			updates: make(chan struct{}, 1),
			stop:    make(chan struct{}),
			done:    make(chan struct{}),
		}
		r.emitters[runID] = e
		go r.loop(e)
	}
	r.mu.Unlock()

	// The buffered slot means a pending notification already covers this
	// update; the actor reads the latest state when the window closes.
	select {
	case e.updates <- struct{}{}:
	default:
	}
}

func (r *emitterRegistry) loop(e *runEmitter) {
	defer close(e.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-e.stop:
			if timer != nil {
				timer.Stop()
			}
			return

		case <-e.updates:
			window := r.currentThrottle()
			if timer == nil {
				timer = time.NewTimer(window)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(window)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			r.emit(e.runID)
		}
	}
}

// Remove stops and discards a run's emitter
func (r *emitterRegistry) Remove(runID string) {
	r.mu.Lock()
	e, ok := r.emitters[runID]
	if ok {
		delete(r.emitters, runID)
	}
	r.mu.Unlock()

	if ok {
		close(e.stop)
		<-e.done
	}
}

// Stop tears down every emitter
func (r *emitterRegistry) Stop() {
	r.mu.Lock()
	r.stopped = true
	all := make([]*runEmitter, 0, len(r.emitters))
	for _, e := range r.emitters {
		all = append(all, e)
	}
	r.emitters = make(map[string]*runEmitter)
	r.mu.Unlock()

	for _, e := range all {
		close(e.stop)
		<-e.done
	}
}
