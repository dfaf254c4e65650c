// Package detect locates the organ-bearing region of a scan before
// segmentation. Detection itself runs per 2D slice behind the
// SliceDetector interface, so a trained model can be plugged in as an
// external collaborator; the package aggregates the per-slice boxes into
// one padded 3D region of interest and ships a brightness-threshold
// detector for local runs without a model.
package detect

import (
	"gonum.org/v1/gonum/stat"

	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/volume"
)

// Box is a 2D detection box in slice pixel coordinates with half-open
// bounds.
type Box struct {
	Y0, X0 int
	Y1, X1 int
}

// Detection is a single finding on one slice.
type Detection struct {
	// Box is the detected extent in the slice
	Box Box

	// Confidence is the detector's score in 0..1
	Confidence float64

	// Class is the detector-specific class index
	Class int
}

// SliceDetector finds organ-bearing areas on a single axial slice given
// as a flat row-major array.
type SliceDetector interface {
	DetectSlice(slice []float64, height, width int) []Detection
}

// SliceDetections pairs a slice index with its findings.
type SliceDetections struct {
	Z          int
	Detections []Detection
}

// DetectVolume runs the detector over every axial slice and collects the
// slices that produced at least one detection, in ascending z order.
func DetectVolume(v *volume.Volume, detector SliceDetector) []SliceDetections {
	var out []SliceDetections
	for z := 0; z < v.Depth; z++ {
		detections := detector.DetectSlice(v.SliceZ(z), v.Height, v.Width)
		if len(detections) > 0 {
			out = append(out, SliceDetections{Z: z, Detections: detections})
		}
	}
	return out
}

// AggregateTo3D merges per-slice detections into a single region of
// interest: the union of all boxes across the detected z range, grown by
// padFraction of its extent on every side and clamped to the volume. The
// second return value is false when there are no detections, in which
// case downstream stages should process the full volume.
func AggregateTo3D(detections []SliceDetections, depth, height, width int, padFraction float64) (volume.Region, bool) {
	if len(detections) == 0 {
		return volume.Region{}, false
	}

	region := volume.Region{
		Z0: detections[0].Z, Z1: detections[0].Z + 1,
		Y0: height, X0: width,
		Y1: 0, X1: 0,
	}
	for _, sd := range detections {
		if sd.Z < region.Z0 {
			region.Z0 = sd.Z
		}
		if sd.Z+1 > region.Z1 {
			region.Z1 = sd.Z + 1
		}
		for _, det := range sd.Detections {
			if det.Box.Y0 < region.Y0 {
				region.Y0 = det.Box.Y0
			}
			if det.Box.X0 < region.X0 {
				region.X0 = det.Box.X0
			}
			if det.Box.Y1 > region.Y1 {
				region.Y1 = det.Box.Y1
			}
			if det.Box.X1 > region.X1 {
				region.X1 = det.Box.X1
			}
		}
	}

	return region.Pad(padFraction).Clamp(depth, height, width), true
}

// BrightnessDetector is a model-free stand-in detector for local runs. It
// thresholds each slice at mean + Sigma standard deviations and boxes the
// bright extent, which finds the specimen in dark-background micro-CT
// slices well enough to crop around it.
type BrightnessDetector struct {
	// Sigma is the threshold offset above the slice mean, in standard
	// deviations
	Sigma float64

	// MinPixels is the minimum number of bright pixels needed to report
	// a detection
	MinPixels int
}

// NewBrightnessDetector creates a detector with the given sigma and a
// small default pixel floor.
func NewBrightnessDetector(sigma float64) *BrightnessDetector {
	return &BrightnessDetector{
		Sigma:     sigma,
		MinPixels: 4,
	}
}

// DetectSlice reports at most one detection boxing all pixels brighter
// than mean + Sigma*stddev. A flat slice yields no detections.
func (d *BrightnessDetector) DetectSlice(slice []float64, height, width int) []Detection {
	if len(slice) == 0 {
		return nil
	}

	mean, std := stat.MeanStdDev(slice, nil)
	if std == 0 {
		return nil
	}
	threshold := mean + d.Sigma*std

	count := 0
	minY, minX := height, width
	maxY, maxX := -1, -1
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if slice[y*width+x] <= threshold {
				continue
			}
			count++
			if y < minY {
				minY = y
			}
			if x < minX {
				minX = x
			}
			if y > maxY {
				maxY = y
			}
			if x > maxX {
				maxX = x
			}
		}
	}

	if count < d.MinPixels {
		return nil
	}

	box := Box{Y0: minY, X0: minX, Y1: maxY + 1, X1: maxX + 1}
	boxPixels := (box.Y1 - box.Y0) * (box.X1 - box.X0)

	return []Detection{{
		Box:        box,
		Confidence: float64(count) / float64(boxPixels),
	}}
}
