package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cfd-ledger/internal/logging"
)

// PhaseCloser completes phases whose sale window has elapsed
type PhaseCloser interface {
	CloseExpired(ctx context.Context, now time.Time) ([]int, error)
}

// PhaseWorker periodically closes expired phases so stored flags follow the clock
// even when no purchase arrives to trigger the transition.
type PhaseWorker struct {
	closer       PhaseCloser
	pollInterval time.Duration
	now          func() time.Time
	logger       *logging.Logger

	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastPollTime time.Time
	phasesClosed int
}

// PhaseWorkerStatus represents the current status of the worker
type PhaseWorkerStatus struct {
	Running             bool
	LastPollTime        time.Time
	PhasesClosed        int
	PollIntervalSeconds int
}

// NewPhaseWorker creates a new phase worker
func NewPhaseWorker(closer PhaseCloser, pollInterval time.Duration) (*PhaseWorker, error) {
	if closer == nil {
		return nil, fmt.Errorf("phase closer cannot be nil")
	}
	if pollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", pollInterval)
	}
	return &PhaseWorker{
		closer:       closer,
		pollInterval: pollInterval,
		now:          time.Now,
		logger:       logging.GetGlobalLogger().WithField("component", "PhaseWorker"),
	}, nil
}

// Start runs one close-out immediately, then one per poll interval until Stop or ctx is done
func (w *PhaseWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("phase worker is already running")
	}
	w.running = true
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	w.stopCh, w.doneCh = stopCh, doneCh
	w.mu.Unlock()

	w.logger.WithField("pollInterval", w.pollInterval.String()).Info("Starting phase worker")

	w.Poll(ctx)
	go w.pollLoop(ctx, stopCh, doneCh)

	return nil
}

// Stop signals the worker and waits for the loop to exit or ctx to end.
// After a timeout Stop may be called again to keep waiting.
func (w *PhaseWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("phase worker is not running")
	}
	if w.stopCh != nil {
		close(w.stopCh)
		w.stopCh = nil
	}
	doneCh := w.doneCh
	w.mu.Unlock()

	select {
	case <-doneCh:
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		w.logger.Info("Phase worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Phase worker stop timed out")
		return ctx.Err()
	}
}

func (w *PhaseWorker) pollLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Phase worker context cancelled")
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll closes every expired phase once and returns the ordinals closed.
// Errors are logged; the next poll retries.
func (w *PhaseWorker) Poll(ctx context.Context) []int {
	now := w.now()

	closed, err := w.closer.CloseExpired(ctx, now)

	w.mu.Lock()
	w.lastPollTime = now
	w.phasesClosed += len(closed)
	w.mu.Unlock()

	if err != nil {
		w.logger.WithError(err).Warn("Failed to close expired phases")
	}
	return closed
}

// GetStatus returns current worker status
func (w *PhaseWorker) GetStatus() *PhaseWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return &PhaseWorkerStatus{
		Running:             w.running,
		LastPollTime:        w.lastPollTime,
		PhasesClosed:        w.phasesClosed,
		PollIntervalSeconds: int(w.pollInterval.Seconds()),
	}
}
