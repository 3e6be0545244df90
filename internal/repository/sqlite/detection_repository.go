package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"detectionserver/internal/model"
	"detectionserver/internal/repository"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db  *DB
	now func() time.Time
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db, now: time.Now}
}

// Insert stores a detection and returns it with its assigned id and timestamp.
func (r *DetectionRepository) Insert(det model.Detection) (model.PersistedDetection, error) {
	if err := det.Validate(); err != nil {
		return model.PersistedDetection{}, fmt.Errorf("%w: %w", repository.ErrPersistence, err)
	}

	r.db.Lock()
	defer r.db.Unlock()

	timestamp := r.now().UTC().Truncate(time.Microsecond)
	result, err := r.db.Conn().Exec(`
		INSERT INTO detections (object_name, confidence, x1, y1, x2, y2, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, det.ObjectName, det.Confidence, det.BBox.X1, det.BBox.Y1, det.BBox.X2, det.BBox.Y2, timestamp)
	if err != nil {
		return model.PersistedDetection{}, fmt.Errorf("%w: failed to insert detection: %w", repository.ErrPersistence, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.PersistedDetection{}, fmt.Errorf("%w: failed to read detection id: %w", repository.ErrPersistence, err)
	}

	return model.PersistedDetection{ID: id, Detection: det, Timestamp: timestamp}, nil
}

// List returns up to limit detections, most recent (highest id) first.
func (r *DetectionRepository) List(limit int) ([]model.PersistedDetection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if limit < 0 {
		limit = 0
	}

	rows, err := r.db.Conn().Query(`
		SELECT id, object_name, confidence, x1, y1, x2, y2, timestamp
		FROM detections ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query detections: %w", repository.ErrPersistence, err)
	}
	defer rows.Close()

	detections := make([]model.PersistedDetection, 0, limit)
	for rows.Next() {
		det, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		detections = append(detections, det)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate detections: %w", repository.ErrPersistence, err)
	}

	return detections, nil
}

// GetByID retrieves a detection by its id, or nil when absent.
func (r *DetectionRepository) GetByID(id int64) (*model.PersistedDetection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`
		SELECT id, object_name, confidence, x1, y1, x2, y2, timestamp
		FROM detections WHERE id = ?
	`, id)

	det, err := scanDetection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &det, nil
}

// GetAllObjectNames returns a list of all unique detected object names.
func (r *DetectionRepository) GetAllObjectNames() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT object_name FROM detections ORDER BY object_name`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query objects: %w", repository.ErrPersistence, err)
	}
	defer rows.Close()

	objects := []string{}
	for rows.Next() {
		var obj string
		if err := rows.Scan(&obj); err != nil {
			return nil, fmt.Errorf("%w: failed to scan object: %w", repository.ErrPersistence, err)
		}
		objects = append(objects, obj)
	}

	return objects, rows.Err()
}

// Count returns the number of stored detections.
func (r *DetectionRepository) Count() (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM detections`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: failed to count detections: %w", repository.ErrPersistence, err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDetection(s scanner) (model.PersistedDetection, error) {
	var det model.PersistedDetection
	err := s.Scan(&det.ID, &det.Detection.ObjectName, &det.Detection.Confidence,
		&det.Detection.BBox.X1, &det.Detection.BBox.Y1, &det.Detection.BBox.X2, &det.Detection.BBox.Y2,
		&det.Timestamp)
	if err == sql.ErrNoRows {
		return det, err
	}
	if err != nil {
		return det, fmt.Errorf("%w: failed to scan detection: %w", repository.ErrPersistence, err)
	}
	det.Timestamp = det.Timestamp.UTC()
	return det, nil
}

var _ repository.DetectionRepository = (*DetectionRepository)(nil)
