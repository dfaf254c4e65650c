// Package pipeline runs the full scan-to-measurements workflow: slice
// ingestion, specimen detection, segmentation, quantification, and
// artifact writing. Stages mirror the processing protocol used for
// micro-CT specimen scans.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/VCEA-MME-Beckman-Research/MorphoVue/internal/logging"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/detect"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/ingest"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/mesh"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/nrrd"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/quantify"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/segment"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/visualization"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/volume"
)

// Params holds everything a run needs. Either Volume or InputDir must be
// set; Volume takes precedence.
type Params struct {
	// InputDir is a directory of 2D slice images ordered by filename number
	InputDir string

	// Volume is an in-memory scan, used instead of InputDir when non-nil
	Volume *volume.Volume

	// ScanName names the run and its results subdirectory
	ScanName string

	// OutputDir is the base directory results are written under
	OutputDir string

	// Spacing is the physical voxel spacing in mm
	Spacing volume.Spacing

	// Organs maps segmentation labels to anatomical names
	Organs quantify.OrganTable

	// NumCores bounds quantification parallelism; 0 means all cores
	NumCores int

	// PaddingFraction is the margin added around the detected specimen
	PaddingFraction float64

	// KeepLargest removes disconnected islands from each segmented organ
	KeepLargest bool

	// SaveMask writes the segmentation mask as NRRD
	SaveMask bool

	// MaskEncoding selects the NRRD data encoding
	MaskEncoding nrrd.Encoding

	// SaveMeshes writes per-organ STL surface meshes
	SaveMeshes bool

	// SavePreviews writes per-slice PNG previews of the scan and mask
	SavePreviews bool
}

// Result describes a completed run. It doubles as the metadata.json
// payload; fields excluded from it carry the in-memory outputs.
type Result struct {
	RunID           string          `json:"run_id"`
	ScanName        string          `json:"scan_name"`
	Timestamp       time.Time       `json:"timestamp"`
	DurationSeconds float64         `json:"duration_seconds"`
	VolumeShape     [3]int          `json:"volume_shape"`
	ROI             *volume.Region  `json:"roi"`
	Segmentation    segment.Summary `json:"segmentation"`

	Records    []quantify.Record  `json:"-"`
	Mask       *volume.LabelVolume `json:"-"`
	ResultsDir string              `json:"-"`
}

// Runner executes the pipeline with pluggable detection, segmentation,
// and quantification stages.
type Runner struct {
	params    Params
	detector  detect.SliceDetector
	segmenter segment.Segmenter
	engine    *quantify.Engine
	log       *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithDetector replaces the default brightness detector.
func WithDetector(d detect.SliceDetector) Option {
	return func(r *Runner) { r.detector = d }
}

// WithSegmenter replaces the default intensity-band segmenter.
func WithSegmenter(s segment.Segmenter) Option {
	return func(r *Runner) { r.segmenter = s }
}

// WithEngine replaces the default quantification engine.
func WithEngine(e *quantify.Engine) Option {
	return func(r *Runner) { r.engine = e }
}

// WithLogger sets the logger for stage progress.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRunner creates a pipeline runner with default stages.
func NewRunner(params Params, opts ...Option) *Runner {
	r := &Runner{
		params:    params,
		detector:  detect.NewBrightnessDetector(2.0),
		segmenter: segment.NewIntensityBands(0.2, 3),
		log:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.engine == nil {
		workers := params.NumCores
		if workers < 1 {
			workers = runtime.NumCPU()
		}
		r.engine = quantify.NewEngine(
			quantify.WithWorkers(workers),
			quantify.WithLogger(r.log),
		)
	}
	return r
}

// Run executes every stage and writes the configured artifacts to
// OutputDir/ScanName. The context is checked between stages.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	p := r.params

	// Stage 1: load the scan
	vol := p.Volume
	if vol == nil {
		if p.InputDir == "" {
			return nil, fmt.Errorf("no input volume or slice directory given")
		}
		loaded, err := ingest.LoadDirectory(p.InputDir)
		if err != nil {
			return nil, fmt.Errorf("loading slices: %w", err)
		}
		vol = loaded
	}
	r.log.Info("scan loaded", "depth", vol.Depth, "height", vol.Height, "width", vol.Width)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 2: detect the specimen and crop to it
	detections := detect.DetectVolume(vol, r.detector)
	region, found := detect.AggregateTo3D(detections, vol.Depth, vol.Height, vol.Width, p.PaddingFraction)

	var roi *volume.Region
	work := vol
	if found {
		roi = &region
		cropped, err := vol.Crop(region)
		if err != nil {
			return nil, fmt.Errorf("cropping to detected region: %w", err)
		}
		work = cropped
		r.log.Info("specimen detected", "region", region)
	} else {
		r.log.Warn("no specimen detected, processing full volume")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 3: normalize intensities to [0, 1]
	work = work.Normalize()

	// Stage 4: segment into labeled organs
	mask, err := r.segmenter.Segment(work)
	if err != nil {
		return nil, fmt.Errorf("segmenting volume: %w", err)
	}
	if p.KeepLargest {
		mask = segment.KeepLargestComponents(mask)
	}

	// Place the mask back into the full-scan frame when cropped.
	full := mask
	if roi != nil {
		full = volume.NewLabelVolume(vol.Depth, vol.Height, vol.Width)
		if err := full.Embed(mask, roi.Z0, roi.Y0, roi.X0); err != nil {
			return nil, fmt.Errorf("embedding mask: %w", err)
		}
	}
	summary := segment.Summarize(full)
	r.log.Info("segmentation complete", "classes", summary.NumClasses)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 5: quantify every organ
	records := r.engine.Quantify(full, p.Organs, p.Spacing)

	// Stage 6: write artifacts
	resultsDir := filepath.Join(p.OutputDir, p.ScanName)
	if err := os.MkdirAll(resultsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating results directory: %w", err)
	}

	if p.SaveMask {
		maskPath := filepath.Join(resultsDir, "mask.nrrd")
		if err := nrrd.WriteFile(maskPath, full, p.Spacing, p.MaskEncoding); err != nil {
			return nil, fmt.Errorf("writing mask: %w", err)
		}
	}

	if err := writeJSON(filepath.Join(resultsDir, "quantification.json"), records); err != nil {
		return nil, fmt.Errorf("writing quantification: %w", err)
	}

	if p.SaveMeshes {
		if err := r.writeMeshes(resultsDir, full, records); err != nil {
			return nil, err
		}
	}

	if p.SavePreviews {
		if err := writePreviews(resultsDir, vol, full); err != nil {
			return nil, err
		}
	}

	result := &Result{
		RunID:           uuid.New().String(),
		ScanName:        p.ScanName,
		Timestamp:       time.Now().UTC(),
		DurationSeconds: time.Since(start).Seconds(),
		VolumeShape:     [3]int{vol.Depth, vol.Height, vol.Width},
		ROI:             roi,
		Segmentation:    summary,
		Records:         records,
		Mask:            full,
		ResultsDir:      resultsDir,
	}
	if err := writeJSON(filepath.Join(resultsDir, "metadata.json"), result); err != nil {
		return nil, fmt.Errorf("writing metadata: %w", err)
	}

	r.log.Info("pipeline complete", "run_id", result.RunID, "duration_seconds", result.DurationSeconds)
	return result, nil
}

func (r *Runner) writeMeshes(resultsDir string, mask *volume.LabelVolume, records []quantify.Record) error {
	meshDir := filepath.Join(resultsDir, "meshes")
	if err := os.MkdirAll(meshDir, 0755); err != nil {
		return fmt.Errorf("creating mesh directory: %w", err)
	}

	sx, sy, sz := float32(r.params.Spacing.X), float32(r.params.Spacing.Y), float32(r.params.Spacing.Z)
	for _, rec := range records {
		mesher := mesh.NewMesher(mask, rec.Label)
		mesher.SetScale(sx, sy, sz)

		triangles := mesher.GenerateTriangles()
		if len(triangles) == 0 {
			continue
		}

		path := filepath.Join(meshDir, rec.OrganName+".stl")
		if err := mesh.SaveToSTL(path, triangles); err != nil {
			return fmt.Errorf("writing mesh for %s: %w", rec.OrganName, err)
		}
	}
	return nil
}

func writePreviews(resultsDir string, vol *volume.Volume, mask *volume.LabelVolume) error {
	previewDir := filepath.Join(resultsDir, "previews")

	if err := visualization.NewViewer(vol).SaveSliceSequence("z", previewDir); err != nil {
		return fmt.Errorf("writing scan previews: %w", err)
	}
	if err := visualization.NewMaskViewer(mask).SaveSliceSequence("z", previewDir); err != nil {
		return fmt.Errorf("writing mask previews: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
