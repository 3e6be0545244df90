package dto

import (
	"time"

	"detectionserver/internal/model"
)

// MessageTypeDetections tags broadcast messages carrying persisted detections.
const MessageTypeDetections = "detections"

// DetectionRecord is the wire form of a persisted detection.
type DetectionRecord struct {
	ID         int64             `json:"id"`
	ObjectName string            `json:"object_name"`
	Confidence float64           `json:"confidence"`
	BBox       model.BoundingBox `json:"bbox"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Message is the envelope pushed to every live listener.
type Message struct {
	Type string            `json:"type"`
	Data []DetectionRecord `json:"data"`
}

// NewDetectionRecord converts a stored detection into its wire form.
func NewDetectionRecord(p model.PersistedDetection) DetectionRecord {
	return DetectionRecord{
		ID:         p.ID,
		ObjectName: p.Detection.ObjectName,
		Confidence: p.Detection.Confidence,
		BBox:       p.Detection.BBox,
		Timestamp:  p.Timestamp,
	}
}

// NewDetectionRecords converts a slice, keeping its order. Never returns nil.
func NewDetectionRecords(persisted []model.PersistedDetection) []DetectionRecord {
	records := make([]DetectionRecord, 0, len(persisted))
	for _, p := range persisted {
		records = append(records, NewDetectionRecord(p))
	}
	return records
}

// NewDetectionsMessage wraps a persisted batch for broadcast.
func NewDetectionsMessage(persisted []model.PersistedDetection) Message {
	return Message{Type: MessageTypeDetections, Data: NewDetectionRecords(persisted)}
}
