package quantify

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/volume"
)

// fillBox paints an inclusive voxel box with the given label.
func fillBox(m *volume.LabelVolume, z0, y0, x0, z1, y1, x1 int, label int32) {
	for z := z0; z <= z1; z++ {
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				m.Set(z, y, x, label)
			}
		}
	}
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// unitSpacing is the 1mm isotropic spacing used by most scenarios.
var unitSpacing = volume.Spacing{Z: 1, Y: 1, X: 1}

// TestCubeScenario measures a 3x3x3 cube of label 1 placed away from the
// grid boundary and checks every field of the resulting record.
func TestCubeScenario(t *testing.T) {
	mask := volume.NewLabelVolume(10, 10, 10)
	fillBox(mask, 2, 2, 2, 4, 4, 4, 1)

	records := Quantify(mask, OrganTable{1: "digestive_tract"}, unitSpacing)

	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	rec := records[0]

	t.Run("Identity", func(t *testing.T) {
		if rec.Label != 1 {
			t.Errorf("Expected label 1, got %d", rec.Label)
		}
		if rec.OrganName != "digestive_tract" {
			t.Errorf("Expected organ name digestive_tract, got %q", rec.OrganName)
		}
	})

	t.Run("Volume", func(t *testing.T) {
		if !almostEqual(rec.Volume, 27.0, 1e-9) {
			t.Errorf("Expected volume 27.0 mm^3, got %g", rec.Volume)
		}
	})

	t.Run("SurfaceArea", func(t *testing.T) {
		// A 3x3x3 cube exposes 6 faces of 9 unit squares each.
		if !almostEqual(rec.SurfaceArea, 54.0, 1e-9) {
			t.Errorf("Expected surface area 54.0 mm^2, got %g", rec.SurfaceArea)
		}
	})

	t.Run("Centroid", func(t *testing.T) {
		for axis, want := range [3]float64{3, 3, 3} {
			if !almostEqual(rec.Centroid[axis], want, 1e-9) {
				t.Errorf("Centroid axis %d: expected %.1f, got %g", axis, want, rec.Centroid[axis])
			}
		}
	})

	t.Run("BoundingBox", func(t *testing.T) {
		if rec.BoundingBox == nil {
			t.Fatal("Expected a bounding box")
		}
		want := BoundingBox{ZMin: 2, YMin: 2, XMin: 2, ZMax: 4, YMax: 4, XMax: 4}
		if *rec.BoundingBox != want {
			t.Errorf("Expected bounding box %+v, got %+v", want, *rec.BoundingBox)
		}
	})

	t.Run("NumVoxels", func(t *testing.T) {
		got, ok := rec.AdditionalMetrics["num_voxels"]
		if !ok {
			t.Fatal("additional_metrics must contain num_voxels")
		}
		if got != 27 {
			t.Errorf("Expected 27 voxels, got %g", got)
		}
	})
}

// TestAnisotropicSpacing runs the cube scenario with distinct per-axis
// spacing so the face weighting is exercised.
func TestAnisotropicSpacing(t *testing.T) {
	mask := volume.NewLabelVolume(10, 10, 10)
	fillBox(mask, 2, 2, 2, 4, 4, 4, 1)

	spacing := volume.Spacing{Z: 2, Y: 3, X: 4}
	records := Quantify(mask, nil, spacing)

	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	rec := records[0]

	// 27 voxels of 2*3*4 mm^3 each.
	if !almostEqual(rec.Volume, 648.0, 1e-9) {
		t.Errorf("Expected volume 648 mm^3, got %g", rec.Volume)
	}

	// 18 faces per crossing axis: z faces weigh 3*4, y faces 2*4, x faces 2*3.
	expectedArea := 18.0*12 + 18.0*8 + 18.0*6
	if !almostEqual(rec.SurfaceArea, expectedArea, 1e-9) {
		t.Errorf("Expected surface area %g mm^2, got %g", expectedArea, rec.SurfaceArea)
	}
}

func TestFallbackOrganName(t *testing.T) {
	mask := volume.NewLabelVolume(3, 3, 3)
	mask.Set(1, 1, 1, 7)

	records := Quantify(mask, OrganTable{}, unitSpacing)
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].OrganName != "organ_7" {
		t.Errorf("Expected fallback name organ_7, got %q", records[0].OrganName)
	}

	// A nil table behaves like an empty one.
	records = Quantify(mask, nil, unitSpacing)
	if records[0].OrganName != "organ_7" {
		t.Errorf("Expected fallback name organ_7 with nil table, got %q", records[0].OrganName)
	}
}

func TestEmptyAndBackgroundOnlyMasks(t *testing.T) {
	empty := volume.NewLabelVolume(0, 0, 0)
	if records := Quantify(empty, nil, unitSpacing); len(records) != 0 {
		t.Errorf("Empty mask should yield no records, got %d", len(records))
	}

	background := volume.NewLabelVolume(5, 5, 5)
	if records := Quantify(background, nil, unitSpacing); len(records) != 0 {
		t.Errorf("Background-only mask should yield no records, got %d", len(records))
	}
}

func TestAscendingLabelOrderWithoutBackground(t *testing.T) {
	mask := volume.NewLabelVolume(4, 4, 4)
	// Insert labels in a scrambled spatial order.
	mask.Set(0, 0, 0, 9)
	mask.Set(1, 1, 1, 2)
	mask.Set(2, 2, 2, 5)
	mask.Set(3, 3, 3, 2)

	records := Quantify(mask, nil, unitSpacing)

	expected := []int32{2, 5, 9}
	if len(records) != len(expected) {
		t.Fatalf("Expected %d records, got %d", len(expected), len(records))
	}
	for i, want := range expected {
		if records[i].Label != want {
			t.Errorf("Record %d: expected label %d, got %d", i, want, records[i].Label)
		}
		if records[i].Label == 0 {
			t.Error("Background must never be measured")
		}
	}

	// Label 2 has two voxels at (1,1,1) and (3,3,3).
	if records[0].AdditionalMetrics["num_voxels"] != 2 {
		t.Errorf("Expected 2 voxels for label 2, got %g", records[0].AdditionalMetrics["num_voxels"])
	}
	if got := records[0].Centroid; got != [3]float64{2, 2, 2} {
		t.Errorf("Expected centroid (2,2,2) for label 2, got %v", got)
	}
}

// TestDeterminism checks that repeated runs produce bit-identical records,
// including their JSON encoding.
func TestDeterminism(t *testing.T) {
	mask := volume.NewLabelVolume(8, 8, 8)
	fillBox(mask, 0, 0, 0, 3, 3, 3, 1)
	fillBox(mask, 5, 5, 5, 7, 7, 7, 3)
	mask.Set(4, 4, 4, 2)

	organs := OrganTable{1: "digestive_tract", 3: "neural_tissue"}
	spacing := volume.Spacing{Z: 0.5, Y: 0.7, X: 0.9}

	first := Quantify(mask, organs, spacing)
	second := Quantify(mask, organs, spacing)

	if !reflect.DeepEqual(first, second) {
		t.Fatal("Repeated runs must produce identical records")
	}

	firstJSON, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("Failed to marshal records: %v", err)
	}
	secondJSON, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("Failed to marshal records: %v", err)
	}
	if string(firstJSON) != string(secondJSON) {
		t.Fatal("Repeated runs must serialize identically")
	}
}

// TestWorkerCountInvariance checks that concurrent label processing
// produces exactly the sequential output.
func TestWorkerCountInvariance(t *testing.T) {
	mask := volume.NewLabelVolume(12, 12, 12)
	fillBox(mask, 0, 0, 0, 2, 2, 2, 1)
	fillBox(mask, 3, 3, 3, 5, 5, 5, 2)
	fillBox(mask, 6, 6, 6, 8, 8, 8, 3)
	fillBox(mask, 9, 9, 9, 11, 11, 11, 4)
	mask.Set(0, 11, 11, 5)

	organs := OrganTable{1: "digestive_tract", 2: "reproductive_organs"}
	spacing := volume.Spacing{Z: 1.5, Y: 1.0, X: 0.5}

	sequential := NewEngine().Quantify(mask, organs, spacing)

	for _, workers := range []int{2, 4, 16} {
		parallel := NewEngine(WithWorkers(workers)).Quantify(mask, organs, spacing)
		if !reflect.DeepEqual(sequential, parallel) {
			t.Errorf("Workers=%d produced different records than sequential run", workers)
		}
	}
}

func TestInputMaskNotModified(t *testing.T) {
	mask := volume.NewLabelVolume(6, 6, 6)
	fillBox(mask, 1, 1, 1, 4, 4, 4, 2)
	before := mask.Clone()

	NewEngine(WithWorkers(4)).Quantify(mask, nil, unitSpacing)

	if !reflect.DeepEqual(before.Data, mask.Data) {
		t.Fatal("Quantify must not modify the input mask")
	}
}

func TestZeroVoxelDirectGeometryCalls(t *testing.T) {
	mask := volume.NewLabelVolume(4, 4, 4)
	mask.Set(0, 0, 0, 1)

	var g GridGeometry

	// Label 9 has no voxels anywhere in the mask.
	centroid, err := g.Centroid(mask, 9)
	if err != nil {
		t.Fatalf("Centroid of absent label should not fail: %v", err)
	}
	if centroid != [3]float64{0, 0, 0} {
		t.Errorf("Expected centroid (0,0,0) for absent label, got %v", centroid)
	}

	area, err := g.SurfaceArea(mask, 9, unitSpacing)
	if err != nil {
		t.Fatalf("SurfaceArea of absent label should not fail: %v", err)
	}
	if area != 0 {
		t.Errorf("Expected zero surface area for absent label, got %g", area)
	}
}

// overrideGeometry reports a fixed surface area and no centroid support.
type overrideGeometry struct {
	area float64
}

func (g overrideGeometry) SurfaceArea(*volume.LabelVolume, int32, volume.Spacing) (float64, error) {
	return g.area, nil
}

func (g overrideGeometry) Centroid(*volume.LabelVolume, int32) ([3]float64, error) {
	return [3]float64{}, ErrUnsupported
}

// failingGeometry simulates a precise backend that is unavailable.
type failingGeometry struct{}

func (failingGeometry) SurfaceArea(*volume.LabelVolume, int32, volume.Spacing) (float64, error) {
	return 0, errors.New("mesh backend offline")
}

func (failingGeometry) Centroid(*volume.LabelVolume, int32) ([3]float64, error) {
	return [3]float64{}, errors.New("mesh backend offline")
}

// panickyGeometry simulates a crashing backend.
type panickyGeometry struct{}

func (panickyGeometry) SurfaceArea(*volume.LabelVolume, int32, volume.Spacing) (float64, error) {
	panic("degenerate mesh")
}

func (panickyGeometry) Centroid(*volume.LabelVolume, int32) ([3]float64, error) {
	panic("degenerate mesh")
}

func TestGeometryProviderOverride(t *testing.T) {
	mask := volume.NewLabelVolume(10, 10, 10)
	fillBox(mask, 2, 2, 2, 4, 4, 4, 1)

	engine := NewEngine(WithGeometry(overrideGeometry{area: 100.5}))
	records := engine.Quantify(mask, nil, unitSpacing)

	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].SurfaceArea != 100.5 {
		t.Errorf("Expected provider surface area 100.5, got %g", records[0].SurfaceArea)
	}
	// Centroid support was declined, so the grid centroid stands.
	if records[0].Centroid != [3]float64{3, 3, 3} {
		t.Errorf("Expected grid centroid (3,3,3), got %v", records[0].Centroid)
	}
}

func TestGeometryProviderFailureFallsBack(t *testing.T) {
	mask := volume.NewLabelVolume(10, 10, 10)
	fillBox(mask, 2, 2, 2, 4, 4, 4, 1)
	fillBox(mask, 6, 6, 6, 7, 7, 7, 2)

	baseline := NewEngine().Quantify(mask, nil, unitSpacing)

	for name, geom := range map[string]Geometry{
		"Erroring":  failingGeometry{},
		"Panicking": panickyGeometry{},
	} {
		t.Run(name, func(t *testing.T) {
			records := NewEngine(WithGeometry(geom)).Quantify(mask, nil, unitSpacing)
			if !reflect.DeepEqual(baseline, records) {
				t.Error("Provider failure must fall back to the grid measurements")
			}
		})
	}
}

func TestRecordJSONShape(t *testing.T) {
	mask := volume.NewLabelVolume(3, 3, 3)
	mask.Set(1, 1, 1, 2)

	records := Quantify(mask, OrganTable{2: "reproductive_organs"}, unitSpacing)
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("Failed to marshal records: %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal records: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(decoded))
	}

	for _, key := range []string{"organ_name", "label", "volume", "surface_area", "centroid", "bounding_box", "additional_metrics"} {
		if _, ok := decoded[0][key]; !ok {
			t.Errorf("Record JSON missing key %q", key)
		}
	}

	bbox, ok := decoded[0]["bounding_box"].(map[string]any)
	if !ok {
		t.Fatalf("bounding_box should be an object, got %T", decoded[0]["bounding_box"])
	}
	if bbox["z_min"] != float64(1) || bbox["x_max"] != float64(1) {
		t.Errorf("Unexpected bounding box content: %v", bbox)
	}
}

// TestSurfaceAreaCountsPairsOnly verifies that faces at the grid wall do
// not contribute: the shifted-mask comparison only sees voxel pairs.
func TestSurfaceAreaCountsPairsOnly(t *testing.T) {
	// A full 2x2x2 mask has no differing pairs at all.
	mask := volume.NewLabelVolume(2, 2, 2)
	fillBox(mask, 0, 0, 0, 1, 1, 1, 1)

	records := Quantify(mask, nil, unitSpacing)
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].SurfaceArea != 0 {
		t.Errorf("A mask-filling label has no interior face pairs, got area %g", records[0].SurfaceArea)
	}

	// A single voxel in a corner exposes one pair per axis.
	corner := volume.NewLabelVolume(2, 2, 2)
	corner.Set(0, 0, 0, 1)
	records = Quantify(corner, nil, unitSpacing)
	if records[0].SurfaceArea != 3 {
		t.Errorf("Corner voxel should expose 3 faces, got %g", records[0].SurfaceArea)
	}
}

func TestSingleVoxelInterior(t *testing.T) {
	mask := volume.NewLabelVolume(5, 5, 5)
	mask.Set(2, 2, 2, 1)

	records := Quantify(mask, nil, volume.Spacing{Z: 2, Y: 2, X: 2})
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	rec := records[0]

	if !almostEqual(rec.Volume, 8, 1e-9) {
		t.Errorf("Expected volume 8 mm^3, got %g", rec.Volume)
	}
	// Six faces of 4 mm^2 each.
	if !almostEqual(rec.SurfaceArea, 24, 1e-9) {
		t.Errorf("Expected surface area 24 mm^2, got %g", rec.SurfaceArea)
	}
	want := BoundingBox{ZMin: 2, YMin: 2, XMin: 2, ZMax: 2, YMax: 2, XMax: 2}
	if rec.BoundingBox == nil || *rec.BoundingBox != want {
		t.Errorf("Expected bounding box %+v, got %+v", want, rec.BoundingBox)
	}
}

func BenchmarkQuantify(b *testing.B) {
	mask := volume.NewLabelVolume(64, 64, 64)
	fillBox(mask, 4, 4, 4, 30, 30, 30, 1)
	fillBox(mask, 34, 34, 34, 60, 60, 60, 2)
	fillBox(mask, 4, 34, 4, 30, 60, 30, 3)

	engine := NewEngine(WithWorkers(4))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Quantify(mask, nil, unitSpacing)
	}
}
