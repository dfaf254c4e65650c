// Package segment turns intensity volumes into label masks. The network
// that produces masks in production runs elsewhere and is represented
// here only by the Segmenter interface; the package provides an
// intensity-band segmenter for local runs plus the mask post-processing
// steps shared by every backend: largest-component cleanup and the label
// inventory recorded in run metadata.
package segment

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/volume"
)

// Segmenter assigns an organ label to every voxel of an intensity
// volume. The returned mask has the same extents as the input; label 0
// is background.
type Segmenter interface {
	Segment(v *volume.Volume) (*volume.LabelVolume, error)
}

// IntensityBands is a model-free segmenter for local runs. Voxels above
// Threshold are foreground and are split into Classes organ labels by
// intensity quantiles, so each label covers an equal share of the
// foreground voxels.
type IntensityBands struct {
	// Threshold separates background from foreground intensity
	Threshold float64

	// Classes is the number of organ labels to produce
	Classes int
}

// NewIntensityBands creates an intensity-band segmenter.
func NewIntensityBands(threshold float64, classes int) *IntensityBands {
	return &IntensityBands{
		Threshold: threshold,
		Classes:   classes,
	}
}

// Segment labels the volume. A volume with no foreground voxels yields an
// all-background mask.
func (s *IntensityBands) Segment(v *volume.Volume) (*volume.LabelVolume, error) {
	if s.Classes < 1 {
		return nil, fmt.Errorf("organ classes must be at least 1, got %d", s.Classes)
	}

	mask := volume.NewLabelVolume(v.Depth, v.Height, v.Width)

	foreground := make([]float64, 0, len(v.Data)/4)
	for _, val := range v.Data {
		if val > s.Threshold {
			foreground = append(foreground, val)
		}
	}
	if len(foreground) == 0 {
		return mask, nil
	}

	if s.Classes == 1 {
		for i, val := range v.Data {
			if val > s.Threshold {
				mask.Data[i] = 1
			}
		}
		return mask, nil
	}

	sort.Float64s(foreground)
	cuts := make([]float64, s.Classes-1)
	for i := 1; i < s.Classes; i++ {
		cuts[i-1] = stat.Quantile(float64(i)/float64(s.Classes), stat.Empirical, foreground, nil)
	}

	for i, val := range v.Data {
		if val <= s.Threshold {
			continue
		}
		label := int32(1)
		for _, cut := range cuts {
			if val > cut {
				label++
			}
		}
		mask.Data[i] = label
	}

	return mask, nil
}

// KeepLargestComponents returns a copy of the mask where each label keeps
// only its largest 6-connected component. Segmentation backends tend to
// scatter small spurious islands of each class; this removes them the
// same way the production post-processing does. When a label has several
// components of the maximal size, the one encountered first in scan order
// survives.
func KeepLargestComponents(m *volume.LabelVolume) *volume.LabelVolume {
	out := volume.NewLabelVolume(m.Depth, m.Height, m.Width)
	visited := make([]bool, len(m.Data))
	best := make(map[int32][]int)

	width, height, depth := m.Width, m.Height, m.Depth
	plane := width * height

	var queue []int
	for start, label := range m.Data {
		if label == 0 || visited[start] {
			continue
		}

		queue = queue[:0]
		queue = append(queue, start)
		visited[start] = true

		for head := 0; head < len(queue); head++ {
			idx := queue[head]
			z := idx / plane
			rem := idx % plane
			y := rem / width
			x := rem % width

			if x+1 < width && !visited[idx+1] && m.Data[idx+1] == label {
				visited[idx+1] = true
				queue = append(queue, idx+1)
			}
			if x > 0 && !visited[idx-1] && m.Data[idx-1] == label {
				visited[idx-1] = true
				queue = append(queue, idx-1)
			}
			if y+1 < height && !visited[idx+width] && m.Data[idx+width] == label {
				visited[idx+width] = true
				queue = append(queue, idx+width)
			}
			if y > 0 && !visited[idx-width] && m.Data[idx-width] == label {
				visited[idx-width] = true
				queue = append(queue, idx-width)
			}
			if z+1 < depth && !visited[idx+plane] && m.Data[idx+plane] == label {
				visited[idx+plane] = true
				queue = append(queue, idx+plane)
			}
			if z > 0 && !visited[idx-plane] && m.Data[idx-plane] == label {
				visited[idx-plane] = true
				queue = append(queue, idx-plane)
			}
		}

		if len(queue) > len(best[label]) {
			component := make([]int, len(queue))
			copy(component, queue)
			best[label] = component
		}
	}

	for label, component := range best {
		for _, idx := range component {
			out.Data[idx] = label
		}
	}
	return out
}

// Summary is the label inventory of a mask, stored in run metadata.
type Summary struct {
	// NumClasses is the number of distinct non-zero labels
	NumClasses int `json:"num_classes"`

	// Labels lists the distinct labels in ascending order
	Labels []int32 `json:"labels"`

	// VoxelCounts maps each label to its voxel count
	VoxelCounts map[int32]int `json:"voxel_counts"`
}

// Summarize inventories the labels of a mask.
func Summarize(m *volume.LabelVolume) Summary {
	labels := m.Labels()

	counts := make(map[int32]int, len(labels))
	for _, label := range m.Data {
		if label != 0 {
			counts[label]++
		}
	}

	return Summary{
		NumClasses:  len(labels),
		Labels:      labels,
		VoxelCounts: counts,
	}
}
