// Package camera opens local capture devices, files and stream URLs with gocv.
package camera

import (
	"fmt"
	"strconv"

	"gocv.io/x/gocv"

	"detectionserver/internal/service/capture"
)

// Frame is a captured image. Close releases the underlying Mat.
type Frame struct {
	Mat gocv.Mat
}

func (f *Frame) Close() error {
	return f.Mat.Close()
}

// Device wraps an opened gocv.VideoCapture.
type Device struct {
	source  string
	capture *gocv.VideoCapture
}

// Opener returns a capture.Opener for source. A numeric source is treated as
// a device index, anything else as a file path or stream URL.
func Opener(source string) capture.Opener {
	return func() (capture.Device, error) {
		return Open(source)
	}
}

// Open opens the capture source.
func Open(source string) (*Device, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if index, convErr := strconv.Atoi(source); convErr == nil {
		vc, err = gocv.OpenVideoCapture(index)
	} else {
		vc, err = gocv.OpenVideoCapture(source)
	}
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open %q: device not opened", source)
	}
	return &Device{source: source, capture: vc}, nil
}

// Read grabs the next frame. A failed read or an empty frame returns
// capture.ErrFrameUnavailable.
func (d *Device) Read() (capture.Frame, error) {
	mat := gocv.NewMat()
	if ok := d.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%s: %w", d.source, capture.ErrFrameUnavailable)
	}
	return &Frame{Mat: mat}, nil
}

// Close releases the device.
func (d *Device) Close() error {
	return d.capture.Close()
}
