package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"lesionflow/internal/models"
	"lesionflow/pkg/collab"
	"lesionflow/pkg/config"
	"lesionflow/pkg/logging"
	"lesionflow/pkg/pipeline"
	"lesionflow/pkg/registration"
	"lesionflow/pkg/results"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Directory containing the subject's scan files")
	subjectID := flag.String("subject", "", "Subject identifier (default: input directory name)")
	outputDir := flag.String("output", "", "Directory to write pipeline outputs")
	dwiB0 := flag.String("dwi-b0", "dwi_b0.nii.gz", "DWI b=0 file or DICOM directory, relative to input")
	dwiB1000 := flag.String("dwi-b1000", "dwi_b1000.nii.gz", "DWI b=1000 file or DICOM directory, relative to input")
	adc := flag.String("adc", "adc.nii.gz", "ADC map file or DICOM directory, relative to input")
	flair := flag.String("flair", "flair.nii.gz", "FLAIR file or DICOM directory, relative to input")
	template := flag.String("template", "", "Standard-space template image")
	symptomMask := flag.String("symptom-mask", "", "Unilateral symptom mask in template space")
	transformType := flag.String("transform", "", "Subject-to-standard transform: Rigid, Affine or SyN")
	threshold := flag.Float64("threshold", 0, "Overlap fraction a side must exceed to count as overlapping")
	csvPath := flag.String("csv", "", "Results CSV path (default: <output>/overlap_results.csv)")
	sqlitePath := flag.String("results-db", "", "Append results to this SQLite database instead of CSV")
	keepIntermediates := flag.Bool("keep-intermediates", false, "Keep scratch directories after the run")
	qcSnapshots := flag.Bool("qc", false, "Write mid-slice snapshots of registered volumes")
	parallelize := flag.Bool("parallelize", false, "Enable the segmenter's internal parallelism")
	configPath := flag.String("config", "", "YAML configuration file")
	logFile := flag.String("log-file", "", "Also write JSON logs to this file (default: <output>/pipeline.log)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	// Validate inputs
	if *inputDir == "" || *outputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags given on the command line override the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "template":
			cfg.Templates.StandardTemplate = *template
		case "symptom-mask":
			cfg.Templates.SymptomMask = *symptomMask
		case "transform":
			cfg.Registration.StandardTransform = *transformType
		case "threshold":
			cfg.Analysis.OverlapThreshold = *threshold
		case "csv":
			cfg.Output.CSVPath = *csvPath
		case "results-db":
			cfg.Output.SQLitePath = *sqlitePath
		case "keep-intermediates":
			cfg.Output.KeepIntermediates = *keepIntermediates
		case "qc":
			cfg.Output.QCSnapshots = *qcSnapshots
		case "parallelize":
			cfg.Tools.Parallelize = *parallelize
		case "verbose":
			cfg.Output.Verbose = *verbose
		}
	})

	if cfg.Templates.StandardTemplate == "" || cfg.Templates.SymptomMask == "" {
		fmt.Fprintln(os.Stderr, "A template and a symptom mask are required (-template, -symptom-mask)")
		os.Exit(1)
	}
	standardTransform := registration.Type(cfg.Registration.StandardTransform)
	if !standardTransform.Valid() {
		fmt.Fprintf(os.Stderr, "Unknown transform type %q\n", cfg.Registration.StandardTransform)
		os.Exit(1)
	}

	level := slog.Leveler(slog.LevelInfo)
	if cfg.Output.Verbose {
		level = slog.LevelDebug
	}
	logPath := *logFile
	if logPath == "" {
		logPath = filepath.Join(*outputDir, "pipeline.log")
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}
	log, closeLog, err := logging.New(logging.Config{Level: level, File: logPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	subject := *subjectID
	if subject == "" {
		subject = filepath.Base(filepath.Clean(*inputDir))
	}

	// Assemble the collaborators
	converter := collab.NewDCM2NIIXConverter()
	converter.Command = cfg.Tools.ConverterCommand
	extractor := collab.NewHDBETExtractor()
	extractor.Command = cfg.Tools.BrainExtractorCommand
	extractor.Device = cfg.Tools.Device
	segmenter := collab.NewDeepISLESSegmenter(cfg.Tools.Parallelize)
	segmenter.Image = cfg.Tools.SegmenterImage
	solver := collab.NewANTsSolver(filepath.Join(*outputDir, "registration_work"))

	if err := collab.Preflight(converter.Command, extractor.Command,
		segmenter.Command, solver.RegisterCommand, solver.ConvertCommand); err != nil {
		log.Error("missing external tool", "error", err)
		os.Exit(1)
	}

	var store results.Store
	if cfg.Output.SQLitePath != "" {
		store, err = results.NewSQLiteStore(cfg.Output.SQLitePath)
		if err != nil {
			log.Error("failed to open results database", "error", err)
			os.Exit(1)
		}
	} else {
		path := cfg.Output.CSVPath
		if path == "" {
			path = filepath.Join(*outputDir, "overlap_results.csv")
		}
		store = results.NewCSVStore(path)
	}
	defer store.Close()

	params := &pipeline.Params{
		Inputs: models.SubjectInputs{
			ID:  subject,
			Dir: *inputDir,
			Files: map[models.Modality]string{
				models.DWIB0:    *dwiB0,
				models.DWIB1000: *dwiB1000,
				models.ADC:      *adc,
				models.FLAIR:    *flair,
			},
		},
		OutputDir:         *outputDir,
		TemplatePath:      cfg.Templates.StandardTemplate,
		SymptomMaskPath:   cfg.Templates.SymptomMask,
		StandardTransform: standardTransform,
		OverlapThreshold:  cfg.Analysis.OverlapThreshold,
		KeepIntermediates: cfg.Output.KeepIntermediates,
		QCSnapshots:       cfg.Output.QCSnapshots,
	}
	collabs := pipeline.Collaborators{
		Converter: converter,
		Extractor: extractor,
		Solver:    solver,
		Segmenter: segmenter,
		Store:     store,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator := pipeline.NewOrchestrator(params, collabs, log)
	start := time.Now()
	summary, err := orchestrator.Run(ctx)
	if err != nil {
		log.Error("pipeline failed", "error", err)
		os.Exit(1)
	}

	log.Info("done",
		"elapsed", time.Since(start).Round(time.Second),
		"run_id", summary.RunID,
		"lesion", summary.LesionPath,
		"standard_space", summary.StandardSpaceDir)
	fmt.Printf("Subject %s: lesion volume %d mm3, left overlap %v (%.3f), right overlap %v (%.3f)\n",
		subject, summary.Result.LesionVolumeMM3,
		summary.Result.LeftOverlap, summary.Result.LeftFraction,
		summary.Result.RightOverlap, summary.Result.RightFraction)
}
