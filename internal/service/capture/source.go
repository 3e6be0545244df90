// Package capture drives the blocking capture+inference loop and hands
// non-empty detection batches to the pipeline queue.
package capture

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"detectionserver/internal/logger"
	"detectionserver/internal/model"
)

// DefaultRetryInterval is the pause after a failed frame read.
const DefaultRetryInterval = 50 * time.Millisecond

var (
	// ErrDeviceUnavailable means the capture device could not be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrFrameUnavailable is a transient read failure; the loop retries.
	ErrFrameUnavailable = errors.New("frame unavailable")
)

// InferenceError wraps a failure of the inference call for a single frame.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Frame is an opaque captured image. The source closes it after inference.
type Frame interface {
	Close() error
}

// Device is an opened capture device, owned by the loop that opened it.
type Device interface {
	// Read blocks until a frame is captured. A failed read returns
	// ErrFrameUnavailable (possibly wrapped).
	Read() (Frame, error)
	Close() error
}

// Opener acquires the capture device.
type Opener func() (Device, error)

// InferenceConfig carries the per-call inference parameters.
type InferenceConfig struct {
	ConfidenceThreshold float64
	TargetSize          int
}

// Inferencer turns one frame into an ordered list of detections.
type Inferencer interface {
	Infer(frame Frame, cfg InferenceConfig) ([]model.Detection, error)
}

// Publisher receives batches from the loop. Push must not block.
type Publisher interface {
	Push(batch model.DetectionBatch) error
}

// Stats is a snapshot of the loop counters.
type Stats struct {
	FramesRead      uint64 `json:"frames_read"`
	ReadFailures    uint64 `json:"read_failures"`
	InferenceErrors uint64 `json:"inference_errors"`
	BatchesPushed   uint64 `json:"batches_pushed"`
}

// Source runs the capture loop on a dedicated goroutine.
type Source struct {
	open          Opener
	inferencer    Inferencer
	publisher     Publisher
	config        InferenceConfig
	retryInterval time.Duration
	logger        *logger.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}

	errMu sync.Mutex
	err   error

	framesRead      atomic.Uint64
	readFailures    atomic.Uint64
	inferenceErrors atomic.Uint64
	batchesPushed   atomic.Uint64
}

// NewSource creates a capture loop. A non-positive retryInterval falls back to DefaultRetryInterval.
func NewSource(open Opener, inferencer Inferencer, publisher Publisher, cfg InferenceConfig, retryInterval time.Duration, logger *logger.Logger) *Source {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return &Source{
		open:          open,
		inferencer:    inferencer,
		publisher:     publisher,
		config:        cfg,
		retryInterval: retryInterval,
		logger:        logger,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the loop. Only the first call has an effect.
func (s *Source) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop asks the loop to exit at its next check. It never interrupts a read in
// progress and is safe to call more than once, before or after Start.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Done is closed once the loop has exited.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the loop early, if any.
func (s *Source) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stats returns the loop counters.
func (s *Source) Stats() Stats {
	return Stats{
		FramesRead:      s.framesRead.Load(),
		ReadFailures:    s.readFailures.Load(),
		InferenceErrors: s.inferenceErrors.Load(),
		BatchesPushed:   s.batchesPushed.Load(),
	}
}

func (s *Source) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Source) run() {
	defer close(s.done)

	// Capture backends expect every call on the thread that opened the device.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	device, err := s.open()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		s.logger.Error("Capture loop not started: %v", err)
		return
	}
	defer func() {
		if err := device.Close(); err != nil {
			s.logger.Warning("Failed to release capture device: %v", err)
		}
	}()

	s.logger.Info("Capture loop started (threshold=%.2f, size=%d)", s.config.ConfidenceThreshold, s.config.TargetSize)

	for !s.stopped() {
		frame, err := device.Read()
		if err != nil {
			s.readFailures.Add(1)
			s.wait()
			continue
		}
		s.framesRead.Add(1)

		detections, err := s.infer(frame)
		if cerr := frame.Close(); cerr != nil {
			s.logger.Warning("Failed to release frame: %v", cerr)
		}
		if err != nil {
			s.inferenceErrors.Add(1)
			s.logger.Error("Skipping frame: %v", err)
			continue
		}
		if len(detections) == 0 {
			continue
		}

		// A stop requested during the read or inference wins over the push.
		if s.stopped() {
			break
		}
		if err := s.publisher.Push(model.DetectionBatch(detections)); err != nil {
			s.logger.Warning("Dropping batch of %d detections: %v", len(detections), err)
			continue
		}
		s.batchesPushed.Add(1)
	}

	s.logger.Info("Capture loop stopped after %d frames", s.framesRead.Load())
}

// infer calls the inferencer, turning a panic into an InferenceError.
func (s *Source) infer(frame Frame) (detections []model.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			detections = nil
			err = &InferenceError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	detections, err = s.inferencer.Infer(frame, s.config)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}

	valid := detections[:0:0]
	for _, d := range detections {
		if verr := d.Validate(); verr != nil {
			s.logger.Warning("Discarding detection: %v", verr)
			continue
		}
		valid = append(valid, d)
	}
	return valid, nil
}

// wait sleeps for the retry interval or until Stop is called.
func (s *Source) wait() {
	timer := time.NewTimer(s.retryInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.stopCh:
	}
}
