// Package nrrd serializes label volumes to the NRRD scientific volume
// format (magic NRRD0004) and reads them back. Masks are stored as uint8
// with raw or gzip encoding.
//
// NRRD headers list axes fastest-first, while the in-memory grids use
// (z, y, x) order with x varying fastest. The sizes and spacings fields
// are therefore written in reversed (x, y, z) order; the voxel data needs
// no reordering because the flat z-major layout already stores x fastest.
package nrrd

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/volume"
)

// Encoding selects how the voxel data block is stored.
type Encoding string

const (
	// EncodingRaw stores the voxel bytes uncompressed.
	EncodingRaw Encoding = "raw"

	// EncodingGzip compresses the voxel bytes with gzip.
	EncodingGzip Encoding = "gzip"
)

// ErrLabelRange is returned when a mask carries a label that does not fit
// the uint8 element type.
var ErrLabelRange = errors.New("nrrd: label outside uint8 range")

const magic = "NRRD0004"

// Write serializes the mask to w. Labels must fit in uint8; a label below
// 0 or above 255 yields ErrLabelRange and nothing is written.
func Write(w io.Writer, mask *volume.LabelVolume, spacing volume.Spacing, encoding Encoding) error {
	switch encoding {
	case EncodingRaw, EncodingGzip:
	default:
		return fmt.Errorf("unsupported encoding %q", encoding)
	}

	for i, label := range mask.Data {
		if label < 0 || label > 255 {
			return fmt.Errorf("voxel %d carries label %d: %w", i, label, ErrLabelRange)
		}
	}

	xyz := spacing.XYZ()
	header := fmt.Sprintf("%s\n# MorphoVue segmentation mask\ntype: uint8\ndimension: 3\nsizes: %d %d %d\nspacings: %s %s %s\nendian: little\nencoding: %s\n\n",
		magic,
		mask.Width, mask.Height, mask.Depth,
		formatSpacing(xyz[0]), formatSpacing(xyz[1]), formatSpacing(xyz[2]),
		encoding)
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("error writing nrrd header: %w", err)
	}

	data := make([]byte, len(mask.Data))
	for i, label := range mask.Data {
		data[i] = byte(label)
	}

	if encoding == EncodingGzip {
		zw := gzip.NewWriter(w)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("error writing nrrd data: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("error finishing gzip stream: %w", err)
		}
		return nil
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("error writing nrrd data: %w", err)
	}
	return nil
}

// WriteFile serializes the mask to a file.
func WriteFile(path string, mask *volume.LabelVolume, spacing volume.Spacing, encoding Encoding) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating nrrd file: %w", err)
	}

	if err := Write(file, mask, spacing, encoding); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Read parses a mask written by Write. The spacing comes back in the
// internal (z, y, x) axis order.
func Read(r io.Reader) (*volume.LabelVolume, volume.Spacing, error) {
	br := bufio.NewReader(r)

	line, err := readHeaderLine(br)
	if err != nil {
		return nil, volume.Spacing{}, fmt.Errorf("error reading nrrd magic: %w", err)
	}
	if !strings.HasPrefix(line, "NRRD") {
		return nil, volume.Spacing{}, fmt.Errorf("not an nrrd stream: magic %q", line)
	}

	fields := make(map[string]string)
	for {
		line, err := readHeaderLine(br)
		if err != nil {
			return nil, volume.Spacing{}, fmt.Errorf("error reading nrrd header: %w", err)
		}
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			return nil, volume.Spacing{}, fmt.Errorf("malformed header line %q", line)
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	switch fields["type"] {
	case "uint8", "uchar", "unsigned char":
	default:
		return nil, volume.Spacing{}, fmt.Errorf("unsupported element type %q", fields["type"])
	}
	if dim := fields["dimension"]; dim != "3" {
		return nil, volume.Spacing{}, fmt.Errorf("unsupported dimension %q", dim)
	}

	sizes, err := parseInts(fields["sizes"], 3)
	if err != nil {
		return nil, volume.Spacing{}, fmt.Errorf("error parsing sizes: %w", err)
	}
	spacings, err := parseFloats(fields["spacings"], 3)
	if err != nil {
		return nil, volume.Spacing{}, fmt.Errorf("error parsing spacings: %w", err)
	}

	// sizes and spacings are fastest-first (x, y, z) on the wire.
	nx, ny, nz := sizes[0], sizes[1], sizes[2]
	spacing := volume.Spacing{Z: spacings[2], Y: spacings[1], X: spacings[0]}

	var dataReader io.Reader = br
	switch Encoding(fields["encoding"]) {
	case EncodingRaw:
	case EncodingGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, volume.Spacing{}, fmt.Errorf("error opening gzip stream: %w", err)
		}
		defer zr.Close()
		dataReader = zr
	default:
		return nil, volume.Spacing{}, fmt.Errorf("unsupported encoding %q", fields["encoding"])
	}

	data := make([]byte, nx*ny*nz)
	if _, err := io.ReadFull(dataReader, data); err != nil {
		return nil, volume.Spacing{}, fmt.Errorf("error reading nrrd data: %w", err)
	}

	mask := volume.NewLabelVolume(nz, ny, nx)
	for i, b := range data {
		mask.Data[i] = int32(b)
	}
	return mask, spacing, nil
}

// ReadFile parses a mask from a file.
func ReadFile(path string) (*volume.LabelVolume, volume.Spacing, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, volume.Spacing{}, fmt.Errorf("error opening nrrd file: %w", err)
	}
	defer file.Close()

	return Read(file)
}

func readHeaderLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func formatSpacing(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseInts(s string, n int) ([]int, error) {
	parts := strings.Fields(s)
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d values, got %d in %q", n, len(parts), s)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, fmt.Errorf("size %d must be positive", v)
		}
		out[i] = v
	}
	return out, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Fields(s)
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d values, got %d in %q", n, len(parts), s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
