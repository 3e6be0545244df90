package repository

import (
	"errors"

	"detectionserver/internal/model"
)

// ErrPersistence wraps every storage failure returned by a DetectionRepository.
var ErrPersistence = errors.New("persistence error")

// DetectionRepository defines the interface for detection data operations.
type DetectionRepository interface {
	// Create operations
	Insert(det model.Detection) (model.PersistedDetection, error)

	// Read operations
	List(limit int) ([]model.PersistedDetection, error)
	GetByID(id int64) (*model.PersistedDetection, error)
	GetAllObjectNames() ([]string, error)
	Count() (int, error)
}
