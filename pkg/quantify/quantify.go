// Package quantify computes per-organ measurements from a segmented label
// volume: physical volume, surface area, centroid and bounding box, plus a
// voxel count carried in the additional metrics. It is the numeric core of
// the MorphoVue pipeline and runs downstream of segmentation.
//
// All measurements derive from the voxel grid and the physical spacing
// metadata. The engine's built-in GridGeometry backend is deterministic and
// always available; an optional precise Geometry provider (such as a surface
// mesher) can be injected to refine measurements, and any per-label provider
// failure falls back to the grid measurement for that label without failing
// the run.
package quantify

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/volume"
)

// OrganTable maps segmentation labels to organ names. Labels missing from
// the table are reported as "organ_<label>".
type OrganTable map[int32]string

// Name returns the organ name for a label, or the generated fallback name
// when the label is not in the table.
func (t OrganTable) Name(label int32) string {
	if name, ok := t[label]; ok {
		return name
	}
	return fmt.Sprintf("organ_%d", label)
}

// BoundingBox is the inclusive voxel-index extent of an organ along each
// axis.
type BoundingBox struct {
	ZMin int `json:"z_min"`
	YMin int `json:"y_min"`
	XMin int `json:"x_min"`
	ZMax int `json:"z_max"`
	YMax int `json:"y_max"`
	XMax int `json:"x_max"`
}

// Record holds the measurements for a single labeled organ.
type Record struct {
	// OrganName is the name from the organ table, or "organ_<label>"
	OrganName string `json:"organ_name"`

	// Label is the segmentation label the record describes
	Label int32 `json:"label"`

	// Volume is the physical volume in cubic millimetres
	Volume float64 `json:"volume"`

	// SurfaceArea is the surface area in square millimetres
	SurfaceArea float64 `json:"surface_area"`

	// Centroid is the unweighted mean voxel coordinate in (z, y, x) order
	Centroid [3]float64 `json:"centroid"`

	// BoundingBox is the inclusive voxel extent, or nil for a label with
	// no voxels
	BoundingBox *BoundingBox `json:"bounding_box"`

	// AdditionalMetrics carries secondary measurements. Every record has
	// at least "num_voxels".
	AdditionalMetrics map[string]float64 `json:"additional_metrics"`
}

// Engine measures organs in label volumes. The zero-value configuration
// (grid geometry, single worker, silent logger) is obtained from NewEngine
// with no options.
type Engine struct {
	geom    Geometry
	workers int
	log     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithGeometry installs a precise geometry provider. Its measurements
// override the grid measurements per label; when it returns an error or
// panics for a label, that label silently keeps the grid measurement.
func WithGeometry(g Geometry) Option {
	return func(e *Engine) {
		e.geom = g
	}
}

// WithWorkers sets how many goroutines measure labels concurrently.
// Values below 2 keep the engine single-threaded. Output is identical
// regardless of worker count.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		e.workers = n
	}
}

// WithLogger sets the logger for per-organ progress messages.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine creates a quantification engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		workers: 1,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Quantify measures every distinct non-zero label in the mask and returns
// one record per label in ascending label order. Background (label 0) is
// never measured, and an empty or background-only mask yields an empty
// result rather than an error.
//
// The mask is treated as immutable and is never modified. Spacing
// components are expected to be positive; the measurements are undefined
// for zero or negative spacing.
func (e *Engine) Quantify(mask *volume.LabelVolume, organs OrganTable, spacing volume.Spacing) []Record {
	labels := mask.Labels()
	records := make([]Record, len(labels))
	if len(labels) == 0 {
		return records
	}

	workers := e.workers
	if workers > len(labels) {
		workers = len(labels)
	}

	if workers <= 1 {
		for i, label := range labels {
			records[i] = e.measure(mask, label, organs, spacing)
		}
		return records
	}

	// Fan the label list out in contiguous chunks. Each worker writes
	// into pre-assigned record slots, so the ascending label order is
	// preserved without a merge step.
	var wg sync.WaitGroup
	perWorker := (len(labels) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > len(labels) {
			end = len(labels)
		}
		if start >= end {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				records[i] = e.measure(mask, labels[i], organs, spacing)
			}
		}(start, end)
	}
	wg.Wait()

	return records
}

// measure produces the record for one label.
func (e *Engine) measure(mask *volume.LabelVolume, label int32, organs OrganTable, spacing volume.Spacing) Record {
	stats := scanLabel(mask, label)
	name := organs.Name(label)

	rec := Record{
		OrganName:   name,
		Label:       label,
		Volume:      float64(stats.count) * spacing.VoxelVolume(),
		SurfaceArea: stats.surfaceArea(spacing),
		Centroid:    stats.centroid(),
		AdditionalMetrics: map[string]float64{
			"num_voxels": float64(stats.count),
		},
	}
	if stats.count > 0 {
		rec.BoundingBox = &BoundingBox{
			ZMin: stats.minZ, YMin: stats.minY, XMin: stats.minX,
			ZMax: stats.maxZ, YMax: stats.maxY, XMax: stats.maxX,
		}
	}

	if e.geom != nil {
		if area, err := safeSurfaceArea(e.geom, mask, label, spacing); err == nil {
			rec.SurfaceArea = area
		} else {
			e.log.Debug("precise surface area unavailable, keeping grid measurement",
				"label", label, "error", err)
		}
		if centroid, err := safeCentroid(e.geom, mask, label); err == nil {
			rec.Centroid = centroid
		} else {
			e.log.Debug("precise centroid unavailable, keeping grid measurement",
				"label", label, "error", err)
		}
	}

	e.log.Info("quantified organ",
		"organ", name, "label", label, "voxels", stats.count)

	return rec
}

// Quantify measures the mask with a default single-threaded engine. It is
// a convenience wrapper around NewEngine().Quantify.
func Quantify(mask *volume.LabelVolume, organs OrganTable, spacing volume.Spacing) []Record {
	return NewEngine().Quantify(mask, organs, spacing)
}
