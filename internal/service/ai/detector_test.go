package ai

import "testing"

func TestDecodeRow(t *testing.T) {
	tests := []struct {
		name      string
		row       [rowWidth]float32
		threshold float64
		wantOK    bool
		wantName  string
		wantConf  float64
		wantBox   [4]int
	}{
		{
			name:      "dog",
			row:       [rowWidth]float32{0, 18, 0.92, 0.1, 0.1, 0.5, 0.5},
			threshold: 0.25,
			wantOK:    true,
			wantName:  "dog",
			wantConf:  0.92,
			wantBox:   [4]int{10, 10, 50, 50},
		},
		{
			name:      "below threshold",
			row:       [rowWidth]float32{0, 1, 0.2, 0.1, 0.1, 0.5, 0.5},
			threshold: 0.25,
		},
		{
			name:      "clamped to frame",
			row:       [rowWidth]float32{0, 1, 0.61234567, -0.2, -0.1, 1.3, 1.2},
			threshold: 0.25,
			wantOK:    true,
			wantName:  "person",
			wantConf:  0.6123,
			wantBox:   [4]int{0, 0, 100, 100},
		},
		{
			name:      "unknown class",
			row:       [rowWidth]float32{0, 95, 0.5, 0.1, 0.1, 0.2, 0.2},
			threshold: 0.25,
			wantOK:    true,
			wantName:  "95",
			wantConf:  0.5,
			wantBox:   [4]int{10, 10, 20, 20},
		},
		{
			name:      "degenerate box",
			row:       [rowWidth]float32{0, 3, 0.9, 0.5, 0.1, 0.5, 0.4},
			threshold: 0.25,
		},
		{
			name:      "confidence above one",
			row:       [rowWidth]float32{0, 18, 1.5, 0.1, 0.1, 0.5, 0.5},
			threshold: 0.25,
		},
		{
			name:      "zero confidence with zero threshold",
			row:       [rowWidth]float32{0, 3, 0, 0.1, 0.1, 0.5, 0.4},
			threshold: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, ok := decodeRow(tt.row, 100, 100, tt.threshold)
			if ok != tt.wantOK {
				t.Fatalf("decodeRow ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if det.ObjectName != tt.wantName {
				t.Errorf("ObjectName = %q, want %q", det.ObjectName, tt.wantName)
			}
			if det.Confidence != tt.wantConf {
				t.Errorf("Confidence = %v, want %v", det.Confidence, tt.wantConf)
			}
			got := [4]int{det.BBox.X1, det.BBox.Y1, det.BBox.X2, det.BBox.Y2}
			if got != tt.wantBox {
				t.Errorf("BBox = %v, want %v", got, tt.wantBox)
			}
			if err := det.Validate(); err != nil {
				t.Errorf("decoded detection invalid: %v", err)
			}
		})
	}
}

func TestClassLabel(t *testing.T) {
	if got := classLabel(1); got != "person" {
		t.Errorf("classLabel(1) = %q", got)
	}
	if got := classLabel(12); got != "12" {
		t.Errorf("classLabel(12) = %q", got)
	}
}
