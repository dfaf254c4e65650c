package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/VCEA-MME-Beckman-Research/MorphoVue/internal/logging"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/internal/phantom"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/config"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/detect"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/nrrd"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/pipeline"
	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/segment"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Directory containing 2D scan slices")
	scanName := flag.String("scan", "", "Scan name for the results subdirectory (default: input directory name)")
	outputDir := flag.String("output", "results", "Base directory for results")
	configPath := flag.String("config", "morphovue.yaml", "Path to YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file and exit")
	demo := flag.Bool("demo", false, "Run the pipeline on a synthetic phantom scan")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: configuration value)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error (default: from verbose setting)")
	logJSON := flag.Bool("log-json", false, "Emit logs as JSON instead of text")
	flag.Parse()

	// Environment variables can stand in for flags, .env file included
	if err := godotenv.Load(); err == nil {
		fmt.Println("Loaded environment from .env")
	}
	if *inputDir == "" {
		*inputDir = os.Getenv("MORPHOVUE_INPUT")
	}
	if *outputDir == "results" {
		if dir := os.Getenv("MORPHOVUE_OUTPUT"); dir != "" {
			*outputDir = dir
		}
	}

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	// Validate inputs
	if *inputDir == "" && !*demo {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level := slog.LevelWarn
	if cfg.Output.Verbose {
		level = slog.LevelInfo
	}
	if *logLevel != "" {
		level = logging.ParseLevel(*logLevel)
	}
	logging.Init(*logJSON, level)

	fmt.Println("================================")
	fmt.Println("MORPHOVUE MICRO-CT QUANTIFICATION PIPELINE")
	fmt.Println("Specimen detection, organ segmentation and morphometry")
	fmt.Println("================================")

	params := pipeline.Params{
		InputDir:        *inputDir,
		ScanName:        *scanName,
		OutputDir:       *outputDir,
		Spacing:         cfg.Spacing(),
		Organs:          cfg.Organs,
		NumCores:        cfg.Processing.NumCores,
		PaddingFraction: cfg.Detection.PaddingFraction,
		KeepLargest:     cfg.Segmentation.KeepLargestComponent,
		SaveMask:        cfg.Output.SaveMask,
		MaskEncoding:    nrrd.Encoding(cfg.Output.MaskEncoding),
		SaveMeshes:      cfg.Output.SaveMeshes,
		SavePreviews:    cfg.Output.SavePreviews,
	}

	if *demo {
		fmt.Println("Demo mode: generating synthetic phantom scan")
		params.InputDir = ""
		params.Volume = phantom.Scan(0.05, 1)
		params.SaveMeshes = true
		params.SavePreviews = true
		if params.ScanName == "" {
			params.ScanName = "phantom_demo"
		}
	}
	if params.ScanName == "" {
		params.ScanName = filepath.Base(*inputDir)
	}

	runner := pipeline.NewRunner(params,
		pipeline.WithDetector(detect.NewBrightnessDetector(cfg.Detection.ThresholdSigma)),
		pipeline.WithSegmenter(segment.NewIntensityBands(
			cfg.Segmentation.IntensityThreshold,
			cfg.Segmentation.OrganClasses,
		)),
		pipeline.WithLogger(slog.Default()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Starting quantification pipeline...")
	result, err := runner.Run(ctx)
	if err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}

	fmt.Printf("\nQuantification completed successfully in %.2f seconds!\n", result.DurationSeconds)
	fmt.Printf("Run ID: %s\n", result.RunID)
	fmt.Printf("Results saved to: %s\n\n", result.ResultsDir)

	if result.ROI != nil {
		fmt.Printf("Specimen region: z [%d, %d)  y [%d, %d)  x [%d, %d)\n\n",
			result.ROI.Z0, result.ROI.Z1, result.ROI.Y0, result.ROI.Y1, result.ROI.X0, result.ROI.X1)
	} else {
		fmt.Println("No specimen detected; the full volume was processed.")
		fmt.Println()
	}

	fmt.Printf("Organ measurements:\n")
	fmt.Printf("===================\n")
	for _, rec := range result.Records {
		fmt.Printf("%-22s  label=%d  volume=%.2f mm3  surface=%.2f mm2  voxels=%.0f\n",
			rec.OrganName, rec.Label, rec.Volume, rec.SurfaceArea,
			rec.AdditionalMetrics["num_voxels"])
	}
	if len(result.Records) == 0 {
		fmt.Println("(no organs segmented)")
	}

	fmt.Println("\nArtifacts written:")
	if params.SaveMask {
		fmt.Printf("- mask.nrrd: segmentation mask (%s encoding)\n", params.MaskEncoding)
	}
	fmt.Println("- quantification.json: per-organ measurements")
	fmt.Println("- metadata.json: run metadata")
	if params.SaveMeshes {
		fmt.Println("- meshes/: per-organ STL surface meshes")
	}
	if params.SavePreviews {
		fmt.Println("- previews/: per-slice scan and mask images")
	}
}
