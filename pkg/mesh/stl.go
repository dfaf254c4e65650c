package mesh

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// SaveToSTL writes the triangles to a binary STL file: an 80-byte header,
// a uint32 facet count and one 50-byte record per triangle, all
// little-endian.
func SaveToSTL(filename string, triangles []Triangle) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)

	var header [80]byte
	copy(header[:], "MorphoVue organ surface mesh")
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write STL header: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return fmt.Errorf("failed to write triangle count: %w", err)
	}

	for _, tri := range triangles {
		if err := binary.Write(w, binary.LittleEndian, tri); err != nil {
			return fmt.Errorf("failed to write triangle: %w", err)
		}
		// 2-byte attribute count, unused
		if err := binary.Write(w, binary.LittleEndian, uint16(0)); err != nil {
			return fmt.Errorf("failed to write attribute bytes: %w", err)
		}
	}

	return w.Flush()
}
