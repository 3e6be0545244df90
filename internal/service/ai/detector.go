// Package ai runs object detection on captured frames with an OpenCV DNN model.
package ai

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"

	"gocv.io/x/gocv"

	"detectionserver/internal/config"
	"detectionserver/internal/logger"
	"detectionserver/internal/model"
	"detectionserver/internal/service/camera"
	"detectionserver/internal/service/capture"
)

// rowWidth is the length of one SSD output row: [batch, class, conf, x1, y1, x2, y2].
const rowWidth = 7

var errNetNotInitialized = errors.New("detection network not initialized")

// DetectorService implements capture.Inferencer. It is used by the single
// capture goroutine only; the network is not safe for concurrent use.
type DetectorService struct {
	net        gocv.Net
	modelPath  string
	configPath string
	logger     *logger.Logger
}

// NewDetectorService loads the network described by the model and config paths.
func NewDetectorService(config *config.Config, logger *logger.Logger) (*DetectorService, error) {
	service := &DetectorService{
		modelPath:  config.ModelPath,
		configPath: config.ConfigPath,
		logger:     logger,
	}

	if err := service.initializeNet(); err != nil {
		return nil, err
	}
	return service, nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (s *DetectorService) initializeNet() error {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}

	if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.configPath)
	}

	net := gocv.ReadNet(s.modelPath, s.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", s.modelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return fmt.Errorf("set preferable backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return fmt.Errorf("set preferable target: %w", err)
	}

	s.net = net
	s.logger.Info("Detection network initialized from %s", s.modelPath)
	return nil
}

// Infer runs the network on one frame and returns detections in model order.
func (s *DetectorService) Infer(frame capture.Frame, cfg capture.InferenceConfig) ([]model.Detection, error) {
	if s.net.Empty() {
		return nil, errNetNotInitialized
	}

	f, ok := frame.(*camera.Frame)
	if !ok {
		return nil, fmt.Errorf("unsupported frame type %T", frame)
	}
	if f.Mat.Empty() {
		return nil, fmt.Errorf("frame is empty")
	}

	// Blob parameters fit the SSD COCO graphs.
	size := image.Pt(cfg.TargetSize, cfg.TargetSize)
	blob := gocv.BlobFromImage(f.Mat, 1.0/127.5, size, gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")

	output := s.net.Forward("")
	defer output.Close()

	total := output.Total()
	if total%rowWidth != 0 {
		return nil, fmt.Errorf("unexpected output size %d", total)
	}

	rows := output.Reshape(1, total/rowWidth)
	defer rows.Close()

	width, height := f.Mat.Cols(), f.Mat.Rows()
	var detections []model.Detection
	for i := 0; i < rows.Rows(); i++ {
		var row [rowWidth]float32
		for j := range row {
			row[j] = rows.GetFloatAt(i, j)
		}
		if det, ok := decodeRow(row, width, height, cfg.ConfidenceThreshold); ok {
			detections = append(detections, det)
		}
	}
	return detections, nil
}

// Close releases the network.
func (s *DetectorService) Close() error {
	if s.net.Empty() {
		return nil
	}
	return s.net.Close()
}

// decodeRow turns one SSD output row with normalized coordinates into a
// detection in pixels. Rows below threshold or failing validation are rejected.
func decodeRow(row [rowWidth]float32, width, height int, threshold float64) (model.Detection, bool) {
	confidence := float64(row[2])
	if math.IsNaN(confidence) || confidence < threshold || confidence <= 0 {
		return model.Detection{}, false
	}

	box := model.BoundingBox{
		X1: scale(row[3], width),
		Y1: scale(row[4], height),
		X2: scale(row[5], width),
		Y2: scale(row[6], height),
	}

	det, err := model.NewDetection(classLabel(int(row[1])), math.Round(confidence*1e4)/1e4, box)
	if err != nil {
		return model.Detection{}, false
	}
	return det, true
}

// scale converts a normalized coordinate to pixels, clamped to [0, limit].
func scale(v float32, limit int) int {
	p := int(float64(v) * float64(limit))
	if p < 0 {
		return 0
	}
	if p > limit {
		return limit
	}
	return p
}
