package isolate

import (
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/jsbox/internal/logging"
)

// terminationSignal is the value carried by a forced interrupt. Guest code
// cannot catch it; it unwinds the whole guest call stack.
type terminationSignal struct {
	reason TerminationReason
}

func (s *terminationSignal) String() string {
	return "execution terminated: " + string(s.reason) + " limit exceeded"
}

// execution is one in-flight, resource-governed script run.
type execution struct {
	id       uuid.UUID
	ctx      *Context
	started  time.Time
	deadline time.Time // zero when no time budget applies
	memLimit int64     // zero when no memory budget applies
	baseline uint64    // Go heap bytes at registration
	timeHit  bool
	memHit   bool
	killed   bool
}

type wdState int

const (
	wdStopped wdState = iota
	wdRunning
	wdShuttingDown
)

// watchdog is the single process-wide monitor enforcing time and memory
// budgets. Its goroutine starts lazily on the first governed execution and
// idle-waits while the active set is empty. All registry mutation happens
// under mu in short critical sections; the wait happens outside it.
type watchdog struct {
	mu    sync.Mutex
	state wdState
	execs map[uuid.UUID]*execution
	kick  chan struct{}
	poll  time.Duration
	log   *logging.Logger
}

var wd = &watchdog{
	execs: make(map[uuid.UUID]*execution),
	kick:  make(chan struct{}, 1),
	poll:  10 * time.Millisecond,
	log:   logging.Nop(),
}

// SetWatchdogPollInterval tunes how often memory ceilings are checked.
func SetWatchdogPollInterval(d time.Duration) {
	wd.mu.Lock()
	defer wd.mu.Unlock()
	if d > 0 {
		wd.poll = d
	}
}

// SetWatchdogLogger routes watchdog events to the given logger.
func SetWatchdogLogger(l *logging.Logger) {
	wd.mu.Lock()
	defer wd.mu.Unlock()
	if l != nil {
		wd.log = l.Named("watchdog")
	}
}

// ShutdownWatchdog stops the background goroutine once the active set drains.
// The next governed execution restarts it; embedders only need this for
// clean process teardown.
func ShutdownWatchdog() {
	wd.mu.Lock()
	if wd.state == wdRunning {
		wd.state = wdShuttingDown
		wd.kickLocked()
	}
	wd.mu.Unlock()
}

func (w *watchdog) register(e *execution) {
	w.mu.Lock()
	w.execs[e.id] = e
	switch w.state {
	case wdStopped:
		w.state = wdRunning
		go w.loop()
	case wdShuttingDown:
		// Cancel the pending shutdown; the loop keeps running.
		w.state = wdRunning
	}
	w.kickLocked()
	w.mu.Unlock()
	e.ctx.metrics.AddActiveExecutions(1)
}

// deregister removes e and reports which budgets, if any, it exhausted.
func (w *watchdog) deregister(e *execution) (timeHit, memHit bool) {
	w.mu.Lock()
	delete(w.execs, e.id)
	timeHit, memHit = e.timeHit, e.memHit
	// Wake the loop: draining the set may complete a pending shutdown.
	w.kickLocked()
	w.mu.Unlock()
	e.ctx.metrics.AddActiveExecutions(-1)
	return timeHit, memHit
}

// adjustTime retargets the deadline of every live execution of c, so a
// tightened limit takes effect immediately. The new deadline counts from
// now, matching the semantics of setting the limit mid-flight.
func (w *watchdog) adjustTime(c *Context, limit time.Duration) {
	w.mu.Lock()
	for _, e := range w.execs {
		if e.ctx != c || e.killed {
			continue
		}
		if limit > 0 {
			e.deadline = time.Now().Add(limit)
		} else {
			e.deadline = time.Time{}
		}
	}
	w.kickLocked()
	w.mu.Unlock()
}

// adjustMemory retargets the memory ceiling of every live execution of c.
func (w *watchdog) adjustMemory(c *Context, limit int64) {
	w.mu.Lock()
	for _, e := range w.execs {
		if e.ctx != c || e.killed {
			continue
		}
		e.memLimit = limit
	}
	w.kickLocked()
	w.mu.Unlock()
}

// cancelContext drops every execution registered for c. Context teardown is
// the only caller; it must deregister before the guest environment goes away.
func (w *watchdog) cancelContext(c *Context) {
	w.mu.Lock()
	for id, e := range w.execs {
		if e.ctx == c {
			delete(w.execs, id)
			e.ctx.metrics.AddActiveExecutions(-1)
		}
	}
	w.kickLocked()
	w.mu.Unlock()
}

func (w *watchdog) kickLocked() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// loop wakes at the nearest deadline across all registered executions, or at
// the poll interval while any execution carries a memory ceiling, and
// interrupts whatever ran past its budget. The interrupt is issued from this
// goroutine; the guest engine honors it at its next safe point.
func (w *watchdog) loop() {
	for {
		w.mu.Lock()
		// A pending shutdown takes effect only once the active set drains;
		// in-flight executions stay governed until then.
		if w.state == wdShuttingDown && len(w.execs) == 0 {
			w.state = wdStopped
			w.mu.Unlock()
			return
		}
		wait := time.Duration(-1)
		needMem := false
		now := time.Now()
		for _, e := range w.execs {
			if e.killed {
				continue
			}
			if !e.deadline.IsZero() {
				d := e.deadline.Sub(now)
				if d < 0 {
					d = 0
				}
				if wait < 0 || d < wait {
					wait = d
				}
			}
			if e.memLimit > 0 {
				needMem = true
			}
		}
		if needMem && (wait < 0 || wait > w.poll) {
			wait = w.poll
		}
		w.mu.Unlock()

		if wait < 0 {
			// Idle: nothing governed right now.
			<-w.kick
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-w.kick:
			timer.Stop()
		case <-timer.C:
		}

		// Heap sampling is comparatively expensive; do it at most once
		// per wakeup and outside the critical section.
		w.mu.Lock()
		needMem = false
		for _, e := range w.execs {
			if !e.killed && e.memLimit > 0 {
				needMem = true
				break
			}
		}
		w.mu.Unlock()
		var heap uint64
		if needMem {
			heap = heapInUse()
		}

		now = time.Now()
		w.mu.Lock()
		for _, e := range w.execs {
			if e.killed {
				continue
			}
			if !e.deadline.IsZero() && !now.Before(e.deadline) {
				e.timeHit = true
				e.killed = true
				e.ctx.interruptVM(&terminationSignal{reason: ReasonTime})
				w.log.Warn("execution exceeded time budget",
					zap.String("execution", e.id.String()),
					zap.Duration("elapsed", now.Sub(e.started)))
				continue
			}
			if e.memLimit > 0 {
				used := e.ctx.registry.pressure()
				if heap > e.baseline {
					used += int64(heap - e.baseline)
				}
				if used > e.memLimit {
					e.memHit = true
					e.killed = true
					e.ctx.interruptVM(&terminationSignal{reason: ReasonMemory})
					w.log.Warn("execution exceeded memory budget",
						zap.String("execution", e.id.String()),
						zap.Int64("used", used),
						zap.Int64("limit", e.memLimit))
				}
			}
		}
		w.mu.Unlock()
	}
}
