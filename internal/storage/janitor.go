// Package storage provides per-participant message logs.
// This file implements periodic pruning of entries outside the replay window.
package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pruner is the part of Store the janitor needs.
type Pruner interface {
	Prune(now time.Time) int
}

// Janitor periodically drops buffered entries that have aged out of the
// persistence window. An aged-out entry can never be replayed, so pruning
// early only bounds memory; replay results are unchanged.
// Thread-safe: Start and Stop may be called from different goroutines.
type Janitor struct {
	store    Pruner             // Store to sweep
	now      func() time.Time   // Clock, overridable for tests
	onPrune  func(dropped int)  // Called after each sweep that dropped entries
	logger   *zap.Logger        // Structured logger
	ctx      context.Context    // Internal cancellation
	cancel   context.CancelFunc // Cancels ctx
	interval time.Duration      // Time between sweeps
	wg       sync.WaitGroup     // Tracks the running loop
	mu       sync.Mutex         // Protects onPrune and now
}

// NewJanitor creates a janitor that sweeps store every interval.
//
// Example:
//
//	j := NewJanitor(store, time.Second, logger)
//	j.Start(ctx)
//	defer j.Stop()
func NewJanitor(store Pruner, interval time.Duration, logger *zap.Logger) *Janitor {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Janitor{
		store:    store,
		now:      time.Now,
		logger:   logger,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetClock overrides the time source used for sweeps.
func (j *Janitor) SetClock(now func() time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.now = now
}

// SetOnPrune sets the callback invoked with the number of dropped entries
// whenever a sweep drops at least one.
func (j *Janitor) SetOnPrune(callback func(dropped int)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onPrune = callback
}

// Start launches the sweep loop in its own goroutine. The loop runs until ctx
// is done or Stop is called.
func (j *Janitor) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.run(ctx)
	}()
}

func (j *Janitor) run(ctx context.Context) {
	if ctx == nil {
		ctx = j.ctx
	}
	if j.ctx.Err() != nil {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Debug("janitor started", zap.Duration("interval", j.interval))

	for {
		select {
		case <-ticker.C:
			j.Sweep()
		case <-ctx.Done():
			j.logger.Debug("janitor stopping", zap.String("reason", "context"))
			return
		case <-j.ctx.Done():
			j.logger.Debug("janitor stopping", zap.String("reason", "stop"))
			return
		}
	}
}

// Sweep prunes once and returns the number of dropped entries.
func (j *Janitor) Sweep() int {
	j.mu.Lock()
	now := j.now()
	onPrune := j.onPrune
	j.mu.Unlock()

	dropped := j.store.Prune(now)
	if dropped > 0 {
		j.logger.Debug("pruned expired messages", zap.Int("dropped", dropped))
		if onPrune != nil {
			onPrune(dropped)
		}
	}
	return dropped
}

// Stop cancels the loop and waits for it to return. It is safe to call
// before Start, which then exits at once.
func (j *Janitor) Stop() {
	j.cancel()
	j.wg.Wait()
}
