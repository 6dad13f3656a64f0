package audio

import "math"

// maxVolume is the ceiling of the UI-facing volume scale.
const maxVolume = 100

// RMS computes the root-mean-square loudness of normalized samples.
// Returns a value in [0, 1] for well-formed input; 0 for an empty frame.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Volume scales an RMS loudness value to the 0–100 range consumed by the UI
// layer's level meter.
func Volume(rms float64) float64 {
	return math.Min(maxVolume, rms*500)
}
