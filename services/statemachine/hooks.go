package statemachine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsdeck/workstream/models"
	"go.uber.org/zap"
)

// TransitionEvent is published after a successful commit for consumption by
// post-transition hooks (notifications, projections). Hooks never influence
// the already-returned transition result.
type TransitionEvent struct {
	EntityType    models.EntityType
	EntityID      uuid.UUID
	FromState     models.State
	ToState       models.State
	ActorID       uuid.UUID
	CorrelationID uuid.UUID
	OccurredAt    time.Time
}

// Hook consumes a transition event. Errors are logged, never propagated.
type Hook func(ctx context.Context, event TransitionEvent) error

// DispatcherConfig holds configuration for the hook dispatcher.
type DispatcherConfig struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultDispatcherConfig returns the default configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BufferSize:  1024,
		WorkerCount: 4,
	}
}

// Dispatcher decouples post-commit side effects from the transition result
// via a buffered channel and a worker pool. A hook failure is isolated by the
// channel boundary: it cannot revert the commit or change the result.
type Dispatcher struct {
	hooks       []Hook
	logger      *zap.Logger
	eventChan   chan TransitionEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	mu          sync.Mutex
}

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher(logger *zap.Logger, config DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		logger:      logger,
		eventChan:   make(chan TransitionEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Subscribe registers a hook. Must be called before Start.
func (d *Dispatcher) Subscribe(hook Hook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, hook)
}

// Start starts the background workers.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("hook dispatcher already started")
	}

	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.started = true
	d.logger.Info("started hook dispatcher",
		zap.Int("worker_count", d.workerCount),
		zap.Int("buffer_size", d.bufferSize))
	return nil
}

// Stop drains pending events, waiting up to timeout.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("hook dispatcher not started")
	}
	d.started = false
	close(d.eventChan)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("hook dispatcher stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("hook dispatcher stop timeout after %v", timeout)
	}
}

// Publish enqueues an event without blocking. When the buffer is full the
// event is dropped with a warning; side effects are fire-and-forget.
func (d *Dispatcher) Publish(event TransitionEvent) {
	// The mutex is held across the send so Stop cannot close the channel
	// between the started check and the send. The send never blocks, so the
	// critical section stays short.
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}

	select {
	case d.eventChan <- event:
	default:
		d.logger.Warn("hook event buffer full, dropping event",
			zap.String("entity_id", event.EntityID.String()),
			zap.String("to_state", string(event.ToState)))
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for event := range d.eventChan {
		for _, hook := range d.hooks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := hook(ctx, event); err != nil {
				d.logger.Error("post-transition hook failed",
					zap.Int("worker_id", id),
					zap.Error(err),
					zap.String("entity_id", event.EntityID.String()),
					zap.String("to_state", string(event.ToState)))
			}
			cancel()
		}
	}
}
