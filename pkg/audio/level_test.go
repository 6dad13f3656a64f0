package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/voxline/pkg/audio"
)

func TestRMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{name: "empty frame", samples: nil, want: 0},
		{name: "silence", samples: make([]float32, 4096), want: 0},
		{name: "constant full scale", samples: []float32{1, -1, 1, -1}, want: 1},
		{name: "constant half scale", samples: []float32{0.5, -0.5}, want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.RMS(tt.samples)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestVolume_ScalesAndClamps(t *testing.T) {
	t.Parallel()

	if got := audio.Volume(0); got != 0 {
		t.Errorf("Volume(0) = %v; want 0", got)
	}
	if got := audio.Volume(0.1); math.Abs(got-50) > 1e-9 {
		t.Errorf("Volume(0.1) = %v; want 50", got)
	}
	// Loud input clamps to the UI ceiling.
	if got := audio.Volume(1.0); got != 100 {
		t.Errorf("Volume(1.0) = %v; want 100", got)
	}
}
