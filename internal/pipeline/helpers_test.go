package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"detectionserver/internal/dto"
	"detectionserver/internal/model"
	"detectionserver/internal/repository"
)

var fixedTime = time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)

// memoryRepository assigns sequential ids and a fixed timestamp.
type memoryRepository struct {
	mu     sync.Mutex
	nextID int64
	items  []model.PersistedDetection
	failOn string // object name that makes Insert fail
}

func (r *memoryRepository) Insert(det model.Detection) (model.PersistedDetection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failOn != "" && det.ObjectName == r.failOn {
		return model.PersistedDetection{}, fmt.Errorf("%w: disk full", repository.ErrPersistence)
	}
	r.nextID++
	p := model.PersistedDetection{ID: r.nextID, Detection: det, Timestamp: fixedTime}
	r.items = append(r.items, p)
	return p, nil
}

func (r *memoryRepository) List(limit int) ([]model.PersistedDetection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []model.PersistedDetection{}
	for i := len(r.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.items[i])
	}
	return out, nil
}

func (r *memoryRepository) GetByID(id int64) (*model.PersistedDetection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.items {
		if r.items[i].ID == id {
			p := r.items[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (r *memoryRepository) GetAllObjectNames() ([]string, error) {
	return nil, errors.New("not implemented")
}

func (r *memoryRepository) Count() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items), nil
}

func (r *memoryRepository) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.items))
	for _, p := range r.items {
		names = append(names, p.Detection.ObjectName)
	}
	return names
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []dto.Message
}

func (b *recordingBroadcaster) Broadcast(message dto.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, message)
}

func (b *recordingBroadcaster) snapshot() []dto.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]dto.Message(nil), b.messages...)
}
