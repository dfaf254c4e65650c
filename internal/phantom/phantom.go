// Package phantom generates a synthetic micro-CT scan with known geometry.
// The demo mode runs the full pipeline on it, and tests use it as a scan
// whose segmentation and measurements are derivable by hand.
package phantom

import (
	"math/rand"

	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/volume"
)

// Phantom grid extents.
const (
	Depth  = 24
	Height = 36
	Width  = 36
)

// Tissue intensities. Background stays below any detection or
// segmentation threshold in use.
const (
	ShellIntensity  = 0.35
	MidIntensity    = 0.65
	BrightIntensity = 0.90
)

// BodyRegion is the specimen bounding box.
func BodyRegion() volume.Region {
	return volume.Region{Z0: 4, Y0: 6, X0: 6, Z1: 20, Y1: 30, X1: 30}
}

// MidRegion is the mid-intensity organ inside the body.
func MidRegion() volume.Region {
	return volume.Region{Z0: 6, Y0: 8, X0: 8, Z1: 14, Y1: 28, X1: 28}
}

// BrightRegion is the brightest organ inside the body, separated from the
// mid organ by a one-slice gap.
func BrightRegion() volume.Region {
	return volume.Region{Z0: 15, Y0: 8, X0: 8, Z1: 19, Y1: 28, X1: 28}
}

// Scan builds the phantom intensity volume. Background voxels carry
// uniform noise in [0, noise); tissue voxels carry their band intensity
// exactly. The organ proportions keep the shell between one and two
// thirds of the specimen and shell plus mid organ above two thirds, which
// puts three-band quantile cuts on the tissue boundaries.
func Scan(noise float64, seed int64) *volume.Volume {
	body := BodyRegion()
	mid := MidRegion()
	bright := BrightRegion()

	rng := rand.New(rand.NewSource(seed))
	vol := volume.NewVolume(Depth, Height, Width)

	for z := 0; z < Depth; z++ {
		for y := 0; y < Height; y++ {
			for x := 0; x < Width; x++ {
				var value float64
				switch {
				case mid.Contains(z, y, x):
					value = MidIntensity
				case bright.Contains(z, y, x):
					value = BrightIntensity
				case body.Contains(z, y, x):
					value = ShellIntensity
				default:
					if noise > 0 {
						value = rng.Float64() * noise
					}
				}
				vol.Set(z, y, x, value)
			}
		}
	}
	return vol
}

// TruthMask returns the label volume the phantom scan segments into:
// 1 for the shell, 2 for the mid organ, 3 for the bright organ.
func TruthMask() *volume.LabelVolume {
	body := BodyRegion()
	mid := MidRegion()
	bright := BrightRegion()

	mask := volume.NewLabelVolume(Depth, Height, Width)
	for z := 0; z < Depth; z++ {
		for y := 0; y < Height; y++ {
			for x := 0; x < Width; x++ {
				switch {
				case mid.Contains(z, y, x):
					mask.Set(z, y, x, 2)
				case bright.Contains(z, y, x):
					mask.Set(z, y, x, 3)
				case body.Contains(z, y, x):
					mask.Set(z, y, x, 1)
				}
			}
		}
	}
	return mask
}
