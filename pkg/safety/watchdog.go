// Package safety provides the cycle watchdog: if the control loop stops
// completing cycles while a transport is attached, the robot is faulted
// so it actively holds position instead of chasing stale commands.
package safety

import (
	"context"
	"sync"
	"time"

	"mjmech-go-migration/pkg/log"
)

// FaultFunc escalates a watchdog expiry; wired to Engine.RequestFault.
type FaultFunc func(message string)

// Watchdog monitors cycle-completion heartbeats.
type Watchdog struct {
	mu            sync.Mutex
	timeout       time.Duration
	lastHeartbeat time.Time
	armed         bool

	ctx    context.Context
	cancel context.CancelFunc

	fault  FaultFunc
	logger *log.Logger

	fired bool
}

// New creates a watchdog with the given timeout. Zero selects the 1s
// default.
func New(timeout time.Duration, fault FaultFunc) *Watchdog {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Watchdog{
		timeout: timeout,
		fault:   fault,
		logger:  log.GetLogger("watchdog"),
	}
}

// Start arms the watchdog and begins monitoring.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.armed {
		return
	}
	w.armed = true
	w.fired = false
	w.lastHeartbeat = time.Now()
	w.ctx, w.cancel = context.WithCancel(context.Background())

	go w.loop(w.ctx)
}

// Stop disarms the watchdog.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.armed {
		return
	}
	w.armed = false
	w.cancel()
}

// Heartbeat records a completed cycle. Call from the engine's cycle
// hook.
func (w *Watchdog) Heartbeat() {
	w.mu.Lock()
	w.lastHeartbeat = time.Now()
	w.fired = false
	w.mu.Unlock()
}

// Fired reports whether the watchdog has escalated since the last
// heartbeat.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

func (w *Watchdog) loop(ctx context.Context) {
	interval := w.timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watchdog) check() {
	w.mu.Lock()
	expired := w.armed && !w.fired && time.Since(w.lastHeartbeat) > w.timeout
	if expired {
		w.fired = true
	}
	w.mu.Unlock()

	if expired {
		w.logger.Error("no completed cycle in %v", w.timeout)
		if w.fault != nil {
			w.fault("watchdog")
		}
	}
}
