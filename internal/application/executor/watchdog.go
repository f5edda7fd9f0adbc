package executor

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/phaseline/pkg/ports"
)

// watchdog periodically logs run progress and feeds the in-flight
// gauge while a run executes.
type watchdog struct {
	gate     *gate
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	interval time.Duration
	runID    string
	total    int32

	done atomic.Int32

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// newWatchdog creates a watchdog for one run
func newWatchdog(runID string, total int, g *gate, metrics ports.MetricsCollector, interval time.Duration, logger *zap.Logger) *watchdog {
	return &watchdog{
		gate:     g,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
		runID:    runID,
		total:    int32(total),
		stopCh:   make(chan struct{}),
	}
}

// Start starts the watchdog loop
func (w *watchdog) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run()
}

// Stop stops the watchdog loop
func (w *watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.metrics.SetInflightStages(0)
}

// markDone records one stage reaching a terminal state.
func (w *watchdog) markDone() {
	w.done.Add(1)
}

// run is the progress reporting loop
func (w *watchdog) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.report()
		}
	}
}

func (w *watchdog) report() {
	inflight := w.gate.Inflight()
	done := w.done.Load()

	w.metrics.SetInflightStages(inflight)

	w.logger.Info("run progress",
		zap.String("run_id", w.runID),
		zap.Int32("stages_done", done),
		zap.Int32("stages_total", w.total),
		zap.Int("inflight", inflight),
		zap.Int("gate_size", w.gate.Size()))

	if inflight == w.gate.Size() {
		w.logger.Warn("admission gate saturated",
			zap.String("run_id", w.runID),
			zap.Int("gate_size", w.gate.Size()))
	}
}
