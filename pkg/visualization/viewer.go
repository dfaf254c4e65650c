// Package visualization renders 2D preview images from volumes and label
// masks for quality-control inspection of a pipeline run.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/volume"
)

// Viewer extracts grayscale preview slices from an intensity volume.
type Viewer struct {
	vol *volume.Volume
}

// NewViewer creates a viewer for the given intensity volume.
func NewViewer(vol *volume.Volume) *Viewer {
	return &Viewer{vol: vol}
}

// ExtractSlice extracts a 2D slice from the volume along the specified
// axis as a 16-bit grayscale image. Intensities are clamped to 0..1.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	vol := v.vol
	var img *image.Gray16

	switch axis {
	case "x", "X":
		if position >= vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}

		img = image.NewGray16(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.SetGray16(z, y, grayValue(vol.At(z, y, position)))
			}
		}

	case "y", "Y":
		if position >= vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}

		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, z, grayValue(vol.At(z, position, x)))
			}
		}

	case "z", "Z":
		if position >= vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}

		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, y, grayValue(vol.At(position, y, x)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSliceSequence extracts and saves every slice along the specified
// axis as numbered PNG files.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	maxPos, err := axisExtent(axis, v.vol.Depth, v.vol.Height, v.vol.Width)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := SavePNG(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// MaskViewer renders label masks with a stable per-label color palette.
type MaskViewer struct {
	mask *volume.LabelVolume
}

// NewMaskViewer creates a viewer for the given label mask.
func NewMaskViewer(mask *volume.LabelVolume) *MaskViewer {
	return &MaskViewer{mask: mask}
}

// ExtractSlice renders a 2D slice of the mask along the specified axis.
// Background is black; every label keeps the same color on every slice
// and every run.
func (m *MaskViewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	mask := m.mask
	var img *image.RGBA

	switch axis {
	case "x", "X":
		if position >= mask.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, mask.Width)
		}

		img = image.NewRGBA(image.Rect(0, 0, mask.Depth, mask.Height))
		for y := 0; y < mask.Height; y++ {
			for z := 0; z < mask.Depth; z++ {
				img.SetRGBA(z, y, LabelColor(mask.At(z, y, position)))
			}
		}

	case "y", "Y":
		if position >= mask.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, mask.Height)
		}

		img = image.NewRGBA(image.Rect(0, 0, mask.Width, mask.Depth))
		for z := 0; z < mask.Depth; z++ {
			for x := 0; x < mask.Width; x++ {
				img.SetRGBA(x, z, LabelColor(mask.At(z, position, x)))
			}
		}

	case "z", "Z":
		if position >= mask.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, mask.Depth)
		}

		img = image.NewRGBA(image.Rect(0, 0, mask.Width, mask.Height))
		for y := 0; y < mask.Height; y++ {
			for x := 0; x < mask.Width; x++ {
				img.SetRGBA(x, y, LabelColor(mask.At(position, y, x)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSliceSequence renders and saves every mask slice along the
// specified axis as numbered PNG files.
func (m *MaskViewer) SaveSliceSequence(axis string, outputDir string) error {
	maxPos, err := axisExtent(axis, m.mask.Depth, m.mask.Height, m.mask.Width)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := m.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("mask_%s_%03d.png", axis, pos))
		if err := SavePNG(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SavePNG writes an image as a PNG file.
func SavePNG(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// palette holds the label colors, assigned round-robin from label 1.
var palette = []color.RGBA{
	{R: 230, G: 25, B: 75, A: 255},
	{R: 60, G: 180, B: 75, A: 255},
	{R: 255, G: 225, B: 25, A: 255},
	{R: 0, G: 130, B: 200, A: 255},
	{R: 245, G: 130, B: 48, A: 255},
	{R: 145, G: 30, B: 180, A: 255},
	{R: 70, G: 240, B: 240, A: 255},
	{R: 240, G: 50, B: 230, A: 255},
}

// LabelColor returns the preview color for a label. Background maps to
// black.
func LabelColor(label int32) color.RGBA {
	if label == 0 {
		return color.RGBA{A: 255}
	}
	idx := int(label-1) % len(palette)
	if idx < 0 {
		idx += len(palette)
	}
	return palette[idx]
}

func grayValue(intensity float64) color.Gray16 {
	value := uint16(math.Max(0, math.Min(65535, intensity*65535)))
	return color.Gray16{Y: value}
}

func axisExtent(axis string, depth, height, width int) (int, error) {
	switch axis {
	case "x", "X":
		return width, nil
	case "y", "Y":
		return height, nil
	case "z", "Z":
		return depth, nil
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}
