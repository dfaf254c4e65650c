// Package ingest loads a directory of 2D scan slice images into an
// intensity volume. Slices are ordered by the number embedded in their
// filenames, so "slice_2.png" sorts before "slice_10.png", and pixel
// values are converted to the 0..1 range.
package ingest

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/volume"
)

// ErrNoSlices is returned when the directory holds no slice images.
var ErrNoSlices = errors.New("ingest: no slice images found")

// LoadDirectory reads every slice image in the directory and stacks them
// into a volume, slice z coming from the numeric sort position of the
// file. All slices must share the same dimensions.
//
// Supported extensions are .png, .jpg, .jpeg, .tif and .tiff.
func LoadDirectory(dir string) (*volume.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading slice directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSlices, dir)
	}

	// Sort by the number embedded in the filename so the anatomical
	// order survives zero-free numbering schemes.
	sort.Slice(names, func(i, j int) bool {
		ni, nj := extractNumber(names[i]), extractNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})

	var vol *volume.Volume
	for z, name := range names {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load slice %s: %w", name, err)
		}

		bounds := img.Bounds()
		if vol == nil {
			vol = volume.NewVolume(len(names), bounds.Dy(), bounds.Dx())
		} else if bounds.Dx() != vol.Width || bounds.Dy() != vol.Height {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d",
				name, bounds.Dx(), bounds.Dy(), vol.Width, vol.Height)
		}

		writeSlice(vol, z, img)
	}

	return vol, nil
}

// loadImage decodes a single slice image.
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// writeSlice converts one image into plane z of the volume, mapping the
// 16-bit red channel to the 0..1 range.
func writeSlice(v *volume.Volume, z int, img image.Image) {
	bounds := img.Bounds()
	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			v.Set(z, y, x, float64(r)/65535.0)
		}
	}
}

// extractNumber concatenates the digit runs in a filename into one
// number; a name without digits sorts as 0.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}
