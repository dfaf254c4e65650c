// Package mesh builds triangle surface meshes for labeled organs and
// exports them as binary STL. It also provides the precise geometry
// backend for the quantification engine: the mesh of an organ is generated
// on demand and its summed triangle area reported as the surface area.
package mesh

import (
	"errors"
	"math"

	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/quantify"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/volume"
)

// ErrEmptyMesh is returned when a label produces no surface triangles.
var ErrEmptyMesh = errors.New("mesh: label has no surface")

// Triangle is a single mesh facet with an outward-facing normal. Vertex
// coordinates are in physical (x, y, z) millimetre space.
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// Mesher generates the boundary surface of one label in a mask. Every
// voxel face that separates the label from background, another label or
// the grid edge becomes two triangles, so the mesh is closed and its area
// equals the total area of the exposed faces.
type Mesher struct {
	mask  *volume.LabelVolume
	label int32

	scaleX, scaleY, scaleZ float32
}

// NewMesher creates a mesher for the given label with unit scale.
func NewMesher(mask *volume.LabelVolume, label int32) *Mesher {
	return &Mesher{
		mask:   mask,
		label:  label,
		scaleX: 1,
		scaleY: 1,
		scaleZ: 1,
	}
}

// SetScale sets the physical size of a voxel along each axis, in the
// (x, y, z) order used by the output coordinates.
func (m *Mesher) SetScale(x, y, z float32) {
	m.scaleX = x
	m.scaleY = y
	m.scaleZ = z
}

// GenerateTriangles walks the mask and emits two triangles per exposed
// voxel face. The mask is not modified.
func (m *Mesher) GenerateTriangles() []Triangle {
	var triangles []Triangle

	mask := m.mask
	for z := 0; z < mask.Depth; z++ {
		for y := 0; y < mask.Height; y++ {
			for x := 0; x < mask.Width; x++ {
				if mask.At(z, y, x) != m.label {
					continue
				}

				x0 := float32(x) * m.scaleX
				x1 := float32(x+1) * m.scaleX
				y0 := float32(y) * m.scaleY
				y1 := float32(y+1) * m.scaleY
				z0 := float32(z) * m.scaleZ
				z1 := float32(z+1) * m.scaleZ

				if m.exposed(z, y, x+1) {
					triangles = appendQuad(triangles, [3]float32{1, 0, 0},
						[3]float32{x1, y0, z0}, [3]float32{x1, y1, z0},
						[3]float32{x1, y1, z1}, [3]float32{x1, y0, z1})
				}
				if m.exposed(z, y, x-1) {
					triangles = appendQuad(triangles, [3]float32{-1, 0, 0},
						[3]float32{x0, y0, z0}, [3]float32{x0, y0, z1},
						[3]float32{x0, y1, z1}, [3]float32{x0, y1, z0})
				}
				if m.exposed(z, y+1, x) {
					triangles = appendQuad(triangles, [3]float32{0, 1, 0},
						[3]float32{x0, y1, z0}, [3]float32{x0, y1, z1},
						[3]float32{x1, y1, z1}, [3]float32{x1, y1, z0})
				}
				if m.exposed(z, y-1, x) {
					triangles = appendQuad(triangles, [3]float32{0, -1, 0},
						[3]float32{x0, y0, z0}, [3]float32{x1, y0, z0},
						[3]float32{x1, y0, z1}, [3]float32{x0, y0, z1})
				}
				if m.exposed(z+1, y, x) {
					triangles = appendQuad(triangles, [3]float32{0, 0, 1},
						[3]float32{x0, y0, z1}, [3]float32{x1, y0, z1},
						[3]float32{x1, y1, z1}, [3]float32{x0, y1, z1})
				}
				if m.exposed(z-1, y, x) {
					triangles = appendQuad(triangles, [3]float32{0, 0, -1},
						[3]float32{x0, y0, z0}, [3]float32{x0, y1, z0},
						[3]float32{x1, y1, z0}, [3]float32{x1, y0, z0})
				}
			}
		}
	}

	return triangles
}

// exposed reports whether the neighbor position is outside the grid or
// carries a different label, which makes the shared face part of the
// surface.
func (m *Mesher) exposed(z, y, x int) bool {
	if z < 0 || y < 0 || x < 0 || z >= m.mask.Depth || y >= m.mask.Height || x >= m.mask.Width {
		return true
	}
	return m.mask.At(z, y, x) != m.label
}

// appendQuad splits the quad v1..v4 into two triangles sharing the v1-v3
// diagonal. Corners must be ordered counter-clockwise as seen from the
// normal direction.
func appendQuad(triangles []Triangle, normal, v1, v2, v3, v4 [3]float32) []Triangle {
	return append(triangles,
		Triangle{Normal: normal, Vertex1: v1, Vertex2: v2, Vertex3: v3},
		Triangle{Normal: normal, Vertex1: v1, Vertex2: v3, Vertex3: v4},
	)
}

// Area returns the summed area of the triangles in square millimetres.
func Area(triangles []Triangle) float64 {
	total := 0.0
	for _, tri := range triangles {
		ax := float64(tri.Vertex2[0] - tri.Vertex1[0])
		ay := float64(tri.Vertex2[1] - tri.Vertex1[1])
		az := float64(tri.Vertex2[2] - tri.Vertex1[2])
		bx := float64(tri.Vertex3[0] - tri.Vertex1[0])
		by := float64(tri.Vertex3[1] - tri.Vertex1[1])
		bz := float64(tri.Vertex3[2] - tri.Vertex1[2])

		cx := ay*bz - az*by
		cy := az*bx - ax*bz
		cz := ax*by - ay*bx

		total += 0.5 * math.Sqrt(cx*cx+cy*cy+cz*cz)
	}
	return total
}

// Geometry adapts the mesher into a quantify.Geometry provider. Surface
// areas come from the generated mesh; centroids are not supported, so the
// engine keeps its grid centroid.
type Geometry struct{}

// SurfaceArea meshes the label and returns the summed triangle area.
func (Geometry) SurfaceArea(mask *volume.LabelVolume, label int32, spacing volume.Spacing) (float64, error) {
	mesher := NewMesher(mask, label)
	mesher.SetScale(float32(spacing.X), float32(spacing.Y), float32(spacing.Z))

	triangles := mesher.GenerateTriangles()
	if len(triangles) == 0 {
		return 0, ErrEmptyMesh
	}
	return Area(triangles), nil
}

// Centroid is not implemented by the mesh backend.
func (Geometry) Centroid(*volume.LabelVolume, int32) ([3]float64, error) {
	return [3]float64{}, quantify.ErrUnsupported
}
