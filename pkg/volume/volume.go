// Package volume defines the voxel grid types shared by all MorphoVue
// processing stages: scalar intensity volumes, integer label masks and the
// physical spacing metadata that ties voxel indices to millimetres.
//
// Both grid types store their voxels as a flat 1D array in z-major order,
// so the linear index of voxel (z, y, x) is z*Height*Width + y*Width + x
// and x varies fastest. Axis order throughout the package is (z, y, x).
package volume

import (
	"fmt"
	"sort"
)

// Spacing is the physical size of a voxel in millimetres along each axis,
// in the package's (z, y, x) axis order.
type Spacing struct {
	Z float64
	Y float64
	X float64
}

// VoxelVolume returns the volume of a single voxel in cubic millimetres.
func (s Spacing) VoxelVolume() float64 {
	return s.Z * s.Y * s.X
}

// XYZ returns the spacing components in reversed (x, y, z) order, the
// convention used by slice-fastest file formats such as NRRD.
func (s Spacing) XYZ() [3]float64 {
	return [3]float64{s.X, s.Y, s.Z}
}

// Volume is a 3D scalar intensity grid, typically holding normalized
// grayscale values in the 0..1 range.
type Volume struct {
	// Data is the voxel data as a flat array in z-major order
	Data []float64

	// Width is the extent along x in voxels
	Width int

	// Height is the extent along y in voxels
	Height int

	// Depth is the extent along z in voxels
	Depth int
}

// NewVolume allocates a zero-filled intensity volume with the given extents.
func NewVolume(depth, height, width int) *Volume {
	return &Volume{
		Data:   make([]float64, depth*height*width),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Idx returns the linear index of voxel (z, y, x).
func (v *Volume) Idx(z, y, x int) int {
	return z*v.Height*v.Width + y*v.Width + x
}

// At returns the value of voxel (z, y, x).
func (v *Volume) At(z, y, x int) float64 {
	return v.Data[v.Idx(z, y, x)]
}

// Set assigns the value of voxel (z, y, x).
func (v *Volume) Set(z, y, x int, value float64) {
	v.Data[v.Idx(z, y, x)] = value
}

// NumVoxels returns the total number of voxels in the volume.
func (v *Volume) NumVoxels() int {
	return v.Depth * v.Height * v.Width
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := NewVolume(v.Depth, v.Height, v.Width)
	copy(out.Data, v.Data)
	return out
}

// SliceZ returns a copy of the axial plane at depth z as a flat
// row-major array of Height*Width values.
func (v *Volume) SliceZ(z int) []float64 {
	plane := v.Height * v.Width
	out := make([]float64, plane)
	copy(out, v.Data[z*plane:(z+1)*plane])
	return out
}

// Normalize rescales the volume to the 0..1 range using min-max scaling
// and returns the result as a new volume. A constant volume is returned
// unchanged, since there is no range to scale.
func (v *Volume) Normalize() *Volume {
	out := v.Clone()
	if len(out.Data) == 0 {
		return out
	}

	min, max := out.Data[0], out.Data[0]
	for _, val := range out.Data {
		if val < min {
			min = val
		}
		if val > max {
			max = val
		}
	}

	if max <= min {
		return out
	}

	scale := max - min
	for i, val := range out.Data {
		out.Data[i] = (val - min) / scale
	}
	return out
}

// Crop extracts the sub-volume covered by the region as a new volume.
func (v *Volume) Crop(r Region) (*Volume, error) {
	if err := r.validateWithin(v.Depth, v.Height, v.Width); err != nil {
		return nil, err
	}

	out := NewVolume(r.Dz(), r.Dy(), r.Dx())
	for z := r.Z0; z < r.Z1; z++ {
		for y := r.Y0; y < r.Y1; y++ {
			srcIdx := v.Idx(z, y, r.X0)
			dstIdx := out.Idx(z-r.Z0, y-r.Y0, 0)
			copy(out.Data[dstIdx:dstIdx+r.Dx()], v.Data[srcIdx:srcIdx+r.Dx()])
		}
	}
	return out, nil
}

// LabelVolume is a 3D integer label grid produced by segmentation.
// Label 0 is background; positive labels identify organ classes.
type LabelVolume struct {
	// Data is the label data as a flat array in z-major order
	Data []int32

	// Width is the extent along x in voxels
	Width int

	// Height is the extent along y in voxels
	Height int

	// Depth is the extent along z in voxels
	Depth int
}

// NewLabelVolume allocates a background-filled label volume with the
// given extents.
func NewLabelVolume(depth, height, width int) *LabelVolume {
	return &LabelVolume{
		Data:   make([]int32, depth*height*width),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Idx returns the linear index of voxel (z, y, x).
func (m *LabelVolume) Idx(z, y, x int) int {
	return z*m.Height*m.Width + y*m.Width + x
}

// At returns the label of voxel (z, y, x).
func (m *LabelVolume) At(z, y, x int) int32 {
	return m.Data[m.Idx(z, y, x)]
}

// Set assigns the label of voxel (z, y, x).
func (m *LabelVolume) Set(z, y, x int, label int32) {
	m.Data[m.Idx(z, y, x)] = label
}

// NumVoxels returns the total number of voxels in the volume.
func (m *LabelVolume) NumVoxels() int {
	return m.Depth * m.Height * m.Width
}

// Clone returns a deep copy of the label volume.
func (m *LabelVolume) Clone() *LabelVolume {
	out := NewLabelVolume(m.Depth, m.Height, m.Width)
	copy(out.Data, m.Data)
	return out
}

// Labels returns the distinct non-zero labels present in the volume in
// ascending order. Background is never included.
func (m *LabelVolume) Labels() []int32 {
	seen := make(map[int32]struct{})
	for _, label := range m.Data {
		if label != 0 {
			seen[label] = struct{}{}
		}
	}

	labels := make([]int32, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

// Count returns the number of voxels carrying the given label.
func (m *LabelVolume) Count(label int32) int {
	n := 0
	for _, l := range m.Data {
		if l == label {
			n++
		}
	}
	return n
}

// Crop extracts the sub-mask covered by the region as a new label volume.
func (m *LabelVolume) Crop(r Region) (*LabelVolume, error) {
	if err := r.validateWithin(m.Depth, m.Height, m.Width); err != nil {
		return nil, err
	}

	out := NewLabelVolume(r.Dz(), r.Dy(), r.Dx())
	for z := r.Z0; z < r.Z1; z++ {
		for y := r.Y0; y < r.Y1; y++ {
			srcIdx := m.Idx(z, y, r.X0)
			dstIdx := out.Idx(z-r.Z0, y-r.Y0, 0)
			copy(out.Data[dstIdx:dstIdx+r.Dx()], m.Data[srcIdx:srcIdx+r.Dx()])
		}
	}
	return out, nil
}

// Embed copies a sub-mask into the volume with its origin at (z0, y0, x0).
// The pipeline uses this to place a cropped-region mask back into the
// full-scan frame.
func (m *LabelVolume) Embed(sub *LabelVolume, z0, y0, x0 int) error {
	r := Region{Z0: z0, Y0: y0, X0: x0, Z1: z0 + sub.Depth, Y1: y0 + sub.Height, X1: x0 + sub.Width}
	if err := r.validateWithin(m.Depth, m.Height, m.Width); err != nil {
		return err
	}

	for z := 0; z < sub.Depth; z++ {
		for y := 0; y < sub.Height; y++ {
			srcIdx := sub.Idx(z, y, 0)
			dstIdx := m.Idx(z0+z, y0+y, x0)
			copy(m.Data[dstIdx:dstIdx+sub.Width], sub.Data[srcIdx:srcIdx+sub.Width])
		}
	}
	return nil
}

// Region is an axis-aligned box in voxel index space. Bounds are
// half-open: a voxel (z, y, x) lies inside when Z0 <= z < Z1 and so on.
// The JSON keys follow the run-metadata convention, where max bounds are
// exclusive.
type Region struct {
	Z0 int `json:"z_min"`
	Y0 int `json:"y_min"`
	X0 int `json:"x_min"`
	Z1 int `json:"z_max"`
	Y1 int `json:"y_max"`
	X1 int `json:"x_max"`
}

// Dz returns the region extent along z.
func (r Region) Dz() int { return r.Z1 - r.Z0 }

// Dy returns the region extent along y.
func (r Region) Dy() int { return r.Y1 - r.Y0 }

// Dx returns the region extent along x.
func (r Region) Dx() int { return r.X1 - r.X0 }

// NumVoxels returns the number of voxels covered by the region.
func (r Region) NumVoxels() int { return r.Dz() * r.Dy() * r.Dx() }

// Contains reports whether the voxel index lies inside the region.
func (r Region) Contains(z, y, x int) bool {
	return z >= r.Z0 && z < r.Z1 &&
		y >= r.Y0 && y < r.Y1 &&
		x >= r.X0 && x < r.X1
}

// Empty reports whether the region covers no voxels.
func (r Region) Empty() bool {
	return r.Z1 <= r.Z0 || r.Y1 <= r.Y0 || r.X1 <= r.X0
}

// Pad grows the region by the given fraction of its extent on every side,
// rounding down. A fraction of 0.1 on a 10-voxel extent adds one voxel at
// each end.
func (r Region) Pad(frac float64) Region {
	pz := int(frac * float64(r.Dz()))
	py := int(frac * float64(r.Dy()))
	px := int(frac * float64(r.Dx()))
	return Region{
		Z0: r.Z0 - pz, Y0: r.Y0 - py, X0: r.X0 - px,
		Z1: r.Z1 + pz, Y1: r.Y1 + py, X1: r.X1 + px,
	}
}

// Clamp restricts the region to a volume of the given extents.
func (r Region) Clamp(depth, height, width int) Region {
	out := r
	if out.Z0 < 0 {
		out.Z0 = 0
	}
	if out.Y0 < 0 {
		out.Y0 = 0
	}
	if out.X0 < 0 {
		out.X0 = 0
	}
	if out.Z1 > depth {
		out.Z1 = depth
	}
	if out.Y1 > height {
		out.Y1 = height
	}
	if out.X1 > width {
		out.X1 = width
	}
	return out
}

func (r Region) validateWithin(depth, height, width int) error {
	if r.Empty() {
		return fmt.Errorf("region %+v is empty", r)
	}
	if r.Z0 < 0 || r.Y0 < 0 || r.X0 < 0 || r.Z1 > depth || r.Y1 > height || r.X1 > width {
		return fmt.Errorf("region %+v extends beyond volume %dx%dx%d", r, depth, height, width)
	}
	return nil
}
