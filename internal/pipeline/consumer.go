package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"detectionserver/internal/dto"
	"detectionserver/internal/logger"
	"detectionserver/internal/model"
	"detectionserver/internal/repository"
)

// Broadcaster fans a message out to live listeners. It must not fail.
type Broadcaster interface {
	Broadcast(message dto.Message)
}

// ConsumerStats is a snapshot of the consumer counters.
type ConsumerStats struct {
	BatchesBroadcast    uint64 `json:"batches_broadcast"`
	DetectionsPersisted uint64 `json:"detections_persisted"`
	PersistenceFailures uint64 `json:"persistence_failures"`
}

// Consumer drains the queue, persists every detection and broadcasts one
// message per batch. Batches are handled strictly one after another.
type Consumer struct {
	queue       *Queue
	repo        repository.DetectionRepository
	broadcaster Broadcaster
	logger      *logger.Logger

	batches   atomic.Uint64
	persisted atomic.Uint64
	failures  atomic.Uint64
}

// NewConsumer creates a consumer reading from queue.
func NewConsumer(queue *Queue, repo repository.DetectionRepository, broadcaster Broadcaster, logger *logger.Logger) *Consumer {
	return &Consumer{
		queue:       queue,
		repo:        repo,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Run processes batches until ctx is cancelled or the queue is closed.
// It returns nil on a clean stop.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Detection consumer started")
	for {
		batch, err := c.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
				c.logger.Info("Detection consumer stopped after %d batches", c.batches.Load())
				return nil
			}
			return err
		}
		c.process(batch)
	}
}

// process persists the batch in order and broadcasts it. A storage failure
// abandons the rest of the batch and suppresses its broadcast.
func (c *Consumer) process(batch model.DetectionBatch) {
	if len(batch) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.failures.Add(1)
			c.logger.Error("Recovered while handling batch of %d detections: %v", len(batch), r)
		}
	}()

	persisted := make([]model.PersistedDetection, 0, len(batch))
	for i, det := range batch {
		saved, err := c.repo.Insert(det)
		if err != nil {
			c.failures.Add(1)
			c.logger.Error("Abandoning batch at detection %d/%d (%s): %v", i+1, len(batch), det.ObjectName, err)
			return
		}
		persisted = append(persisted, saved)
		c.persisted.Add(1)
	}

	c.broadcaster.Broadcast(dto.NewDetectionsMessage(persisted))
	c.batches.Add(1)
}

// Stats returns the consumer counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		BatchesBroadcast:    c.batches.Load(),
		DetectionsPersisted: c.persisted.Load(),
		PersistenceFailures: c.failures.Load(),
	}
}
