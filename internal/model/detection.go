package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDetection is returned when a detection violates its field ranges.
var ErrInvalidDetection = errors.New("invalid detection")

// BoundingBox is a pixel rectangle with X1<X2 and Y1<Y2.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Valid reports whether the box has a positive width and height.
func (b BoundingBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Detection represents one recognized object within a frame.
type Detection struct {
	ObjectName string      `json:"object_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// NewDetection builds a Detection after checking its invariants.
func NewDetection(objectName string, confidence float64, bbox BoundingBox) (Detection, error) {
	d := Detection{ObjectName: objectName, Confidence: confidence, BBox: bbox}
	if err := d.Validate(); err != nil {
		return Detection{}, err
	}
	return d, nil
}

// Validate checks the name, confidence range and bounding box.
func (d Detection) Validate() error {
	if strings.TrimSpace(d.ObjectName) == "" {
		return fmt.Errorf("%w: empty object name", ErrInvalidDetection)
	}
	if d.Confidence < 0 || d.Confidence > 1 || d.Confidence != d.Confidence {
		return fmt.Errorf("%w: confidence %v out of [0,1]", ErrInvalidDetection, d.Confidence)
	}
	if !d.BBox.Valid() {
		return fmt.Errorf("%w: degenerate bbox %+v", ErrInvalidDetection, d.BBox)
	}
	return nil
}

// DetectionBatch holds the detections of a single capture instant, in model order.
type DetectionBatch []Detection

// PersistedDetection is a Detection after storage, with its assigned id and timestamp.
type PersistedDetection struct {
	ID        int64
	Detection Detection
	Timestamp time.Time
}
