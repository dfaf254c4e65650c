package quantify

import (
	"errors"
	"fmt"

	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/volume"
)

// ErrUnsupported is returned by geometry providers for measurements they
// do not implement. The engine falls back to the grid measurement.
var ErrUnsupported = errors.New("quantify: measurement not supported by geometry provider")

// Geometry measures the shape of a single labeled organ. Implementations
// may cover only a subset of the measurements and return ErrUnsupported
// for the rest; any provider error makes the engine use its own grid
// measurement for that label instead.
type Geometry interface {
	// SurfaceArea returns the surface area of the organ in square
	// millimetres.
	SurfaceArea(mask *volume.LabelVolume, label int32, spacing volume.Spacing) (float64, error)

	// Centroid returns the unweighted mean voxel coordinate of the organ
	// in (z, y, x) index space.
	Centroid(mask *volume.LabelVolume, label int32) ([3]float64, error)
}

// GridGeometry measures organs directly on the voxel grid. It is the
// engine's built-in measurement backend and is fully deterministic: the
// same mask, label and spacing always produce bit-identical results.
//
// Surface area is estimated by counting exposed voxel faces. For each
// axis, every adjacent voxel pair where exactly one voxel carries the
// label contributes one face, weighted by the physical area of the face:
// a face crossed along z measures spacing.Y*spacing.X and so on. Pairs
// are only counted inside the grid, matching a shifted-mask comparison.
type GridGeometry struct{}

// SurfaceArea returns the face-count surface area of the label in mm^2.
// A label with no voxels measures zero.
func (GridGeometry) SurfaceArea(mask *volume.LabelVolume, label int32, spacing volume.Spacing) (float64, error) {
	return scanLabel(mask, label).surfaceArea(spacing), nil
}

// Centroid returns the mean (z, y, x) voxel coordinate of the label.
// A label with no voxels yields (0, 0, 0).
func (GridGeometry) Centroid(mask *volume.LabelVolume, label int32) ([3]float64, error) {
	return scanLabel(mask, label).centroid(), nil
}

// labelStats accumulates every per-label quantity the engine needs in a
// single pass over the mask.
type labelStats struct {
	count            int
	sumZ, sumY, sumX float64
	minZ, minY, minX int
	maxZ, maxY, maxX int

	// exposed face counts per crossing axis
	zFaces, yFaces, xFaces int
}

// scanLabel walks the mask once, gathering voxel count, coordinate sums,
// bounding extents and exposed-face counts for one label.
func scanLabel(m *volume.LabelVolume, label int32) labelStats {
	var s labelStats
	width, height, depth := m.Width, m.Height, m.Depth
	plane := width * height
	data := m.Data

	i := 0
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				cur := data[i] == label
				if cur {
					if s.count == 0 {
						s.minZ, s.minY, s.minX = z, y, x
						s.maxZ, s.maxY, s.maxX = z, y, x
					} else {
						if z < s.minZ {
							s.minZ = z
						}
						if y < s.minY {
							s.minY = y
						}
						if x < s.minX {
							s.minX = x
						}
						if z > s.maxZ {
							s.maxZ = z
						}
						if y > s.maxY {
							s.maxY = y
						}
						if x > s.maxX {
							s.maxX = x
						}
					}
					s.count++
					s.sumZ += float64(z)
					s.sumY += float64(y)
					s.sumX += float64(x)
				}

				if x+1 < width && cur != (data[i+1] == label) {
					s.xFaces++
				}
				if y+1 < height && cur != (data[i+width] == label) {
					s.yFaces++
				}
				if z+1 < depth && cur != (data[i+plane] == label) {
					s.zFaces++
				}
				i++
			}
		}
	}
	return s
}

// surfaceArea weights each face count by the physical area of the face
// orthogonal to its axis and sums the three contributions.
func (s labelStats) surfaceArea(spacing volume.Spacing) float64 {
	return float64(s.zFaces)*spacing.Y*spacing.X +
		float64(s.yFaces)*spacing.Z*spacing.X +
		float64(s.xFaces)*spacing.Z*spacing.Y
}

func (s labelStats) centroid() [3]float64 {
	if s.count == 0 {
		return [3]float64{}
	}
	n := float64(s.count)
	return [3]float64{s.sumZ / n, s.sumY / n, s.sumX / n}
}

// safeSurfaceArea calls the provider with panics demoted to errors, so a
// misbehaving provider never takes down a quantification run.
func safeSurfaceArea(g Geometry, mask *volume.LabelVolume, label int32, spacing volume.Spacing) (area float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("geometry provider panicked: %v", r)
		}
	}()
	return g.SurfaceArea(mask, label, spacing)
}

// safeCentroid calls the provider with panics demoted to errors.
func safeCentroid(g Geometry, mask *volume.LabelVolume, label int32) (c [3]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("geometry provider panicked: %v", r)
		}
	}()
	return g.Centroid(mask, label)
}
