package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"detectionserver/internal/logger"
	"detectionserver/internal/repository"
	"detectionserver/internal/service/capture"
)

// ErrAlreadyStarted is returned by a second call to Startup.
var ErrAlreadyStarted = errors.New("pipeline already started")

// State is the lifecycle state of the pipeline.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Dependencies are the external collaborators wired into the pipeline.
type Dependencies struct {
	Opener      capture.Opener
	Inferencer  capture.Inferencer
	Repository  repository.DetectionRepository
	Broadcaster Broadcaster
	Logger      *logger.Logger
}

// Options tune the pipeline.
type Options struct {
	Inference     capture.InferenceConfig
	RetryInterval time.Duration
	QueueCapacity int // 0 = unbounded
}

// Status is a point-in-time view of the pipeline for diagnostics.
type Status struct {
	State        string        `json:"state"`
	QueueLength  int           `json:"queue_length"`
	QueueDropped uint64        `json:"queue_dropped"`
	CaptureError string        `json:"capture_error,omitempty"`
	Capture      capture.Stats `json:"capture"`
	Consumer     ConsumerStats `json:"consumer"`
}

// Controller starts and stops the capture loop and the consumer together.
type Controller struct {
	deps Dependencies
	opts Options

	mu       sync.Mutex
	state    State
	started  bool
	queue    *Queue
	source   *capture.Source
	consumer *Consumer
	cancel   context.CancelFunc
	done     chan struct{} // closed when the consumer goroutine returns

	shutdownOnce sync.Once
}

// NewController creates a stopped pipeline.
func NewController(deps Dependencies, opts Options) *Controller {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	return &Controller{deps: deps, opts: opts}
}

// Startup builds the queue, capture loop and consumer and starts them.
// It may be called once per Controller.
func (c *Controller) Startup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	c.queue = NewQueue(c.opts.QueueCapacity)
	c.source = capture.NewSource(c.deps.Opener, c.deps.Inferencer, c.queue, c.opts.Inference, c.opts.RetryInterval, c.deps.Logger)
	c.consumer = NewConsumer(c.queue, c.deps.Repository, c.deps.Broadcaster, c.deps.Logger)

	consumerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		if err := c.consumer.Run(consumerCtx); err != nil {
			c.deps.Logger.Error("Detection consumer exited: %v", err)
		}
	}()
	c.source.Start()

	c.state = StateRunning
	c.deps.Logger.Info("Pipeline running")
	return nil
}

// Shutdown stops the capture loop and the consumer and waits for the
// consumer to return. Batches not yet broadcast may be lost. It does not
// wait for a capture read in progress; see WaitSource.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.state = StateStopping
		c.mu.Unlock()

		c.source.Stop()
		c.queue.Close()
		c.cancel()
		<-c.done

		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()
		c.deps.Logger.Info("Pipeline stopped")
	})
}

// WaitSource blocks until the capture loop has exited or ctx is done.
func (c *Controller) WaitSource(ctx context.Context) error {
	c.mu.Lock()
	source := c.source
	c.mu.Unlock()

	if source == nil {
		return nil
	}
	select {
	case <-source.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status reports queue depth and component counters.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{State: c.state.String()}
	if !c.started {
		return status
	}
	status.QueueLength = c.queue.Len()
	status.QueueDropped = c.queue.Dropped()
	status.Capture = c.source.Stats()
	status.Consumer = c.consumer.Stats()
	if err := c.source.Err(); err != nil {
		status.CaptureError = err.Error()
	}
	return status
}
