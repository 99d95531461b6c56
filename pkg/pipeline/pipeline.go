// Package pipeline runs the low-rank/sparse decomposition of an image
// collection end to end: load, register, preprocess, decompose, reconstruct
// and write the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"

	"lowrankdecomp/internal/logging"
	"lowrankdecomp/internal/models"
	"lowrankdecomp/pkg/config"
	"lowrankdecomp/pkg/decomposition"
	"lowrankdecomp/pkg/imageio"
	"lowrankdecomp/pkg/preprocess"
	"lowrankdecomp/pkg/reconstruction"
	"lowrankdecomp/pkg/registration"
	"lowrankdecomp/pkg/stack"
	"lowrankdecomp/pkg/visualization"
)

// ErrAlgorithmNotImplemented is returned for the atlas algorithms, which can
// be configured but not run.
var ErrAlgorithmNotImplemented = errors.New("pipeline: algorithm not implemented")

// File names written to the result directory.
const (
	OutputListFile = "list_outputs.txt"
	MetricsFile    = "metrics.yaml"
)

// montageScale enlarges montage panels of small images.
const montageScale = 1

// Stage names reported through Progress.
const (
	StageLoad        = "load"
	StageRegister    = "register"
	StagePreprocess  = "preprocess"
	StageDecompose   = "decompose"
	StageReconstruct = "reconstruct"
	StageSave        = "save"
)

// Progress describes how far a run has come.
type Progress struct {
	Stage    string
	Message  string
	Fraction float64
}

// Params holds the inputs of one run.
type Params struct {
	// Config is the validated run configuration.
	Config *config.Config

	// ExtraImage is appended to the file list and selection when set.
	ExtraImage string

	// RunID is recorded in metrics.yaml.
	RunID string

	Logger *slog.Logger

	// OnProgress receives stage updates and solver progress.
	OnProgress func(Progress)

	// OnOutput receives every produced file as it is written.
	OnOutput func(name, path string)

	// Software overrides tool discovery for registration.
	Software registration.Software

	// Exec overrides how registration tools are executed.
	Exec registration.Executor
}

// Summary is the outcome of a successful run.
type Summary struct {
	Outputs []string
	Metrics *Metrics
	Result  *decomposition.Result
}

// Processor runs the decomposition workflow for one configuration.
//
// The process consists of several steps:
// 1. Preparing the result directory and resolving the input list
// 2. Registering inputs onto the reference image
// 3. Loading, resampling and preprocessing the images
// 4. Building the observation matrix and decomposing it
// 5. Reconstructing and saving low-rank and sparse images
// 6. Writing montages, metrics and the output list
type Processor struct {
	params *Params
	logger *slog.Logger

	// paths and names of the selected inputs, in column order
	paths []string
	names []string

	// reference image when one is configured
	reference *models.PixelArray

	images  []models.PixelArray
	outputs []string
}

// NewProcessor creates a processor for params.
func NewProcessor(params *Params) *Processor {
	return &Processor{params: params, logger: logging.OrDefault(params.Logger)}
}

// Process runs the complete pipeline. The context is checked between stages;
// the solver itself is not interrupted.
func (p *Processor) Process(ctx context.Context) (*Summary, error) {
	cfg := p.params.Config
	if cfg == nil {
		return nil, fmt.Errorf("%w: missing configuration", config.ErrInvalidConfig)
	}
	algo, err := config.ParseAlgorithm(string(cfg.Algorithm))
	if err != nil {
		return nil, err
	}
	if algo != config.LowRank {
		return nil, fmt.Errorf("%w: %s", ErrAlgorithmNotImplemented, algo.Title())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Step 1: Resolve inputs and prepare the result directory
	p.progress(StageLoad, "resolving inputs", 0)
	if err := p.resolveInputs(); err != nil {
		return nil, err
	}
	if err := p.checkClean(); err != nil {
		return nil, err
	}
	if err := cfg.PrepareResultDir(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 2: Registration
	if err := p.register(ctx); err != nil {
		return nil, fmt.Errorf("failed to register images: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 3: Load and preprocess
	p.progress(StageLoad, fmt.Sprintf("loading %d images", len(p.paths)), 0)
	if err := p.loadImages(); err != nil {
		return nil, fmt.Errorf("failed to load images: %w", err)
	}
	if err := p.preprocess(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 4: Build and decompose
	x, shape, err := stack.Build(p.images)
	if err != nil {
		return nil, fmt.Errorf("failed to build observation matrix: %w", err)
	}
	res, lambda, err := p.decompose(x)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 5: Reconstruct and save
	p.progress(StageReconstruct, "reconstructing images", 0)
	pixelType, err := p.pixelType()
	if err != nil {
		return nil, err
	}
	low, sparse, err := reconstruction.Reconstruct(res.L, res.S, shape, pixelType)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct images: %w", err)
	}
	ext := outputExtension(cfg.Output.Format)
	for i, name := range p.names {
		if err := p.save(low[i], fmt.Sprintf("%s_%s%s", name, models.LowRank, ext)); err != nil {
			return nil, err
		}
		if err := p.save(sparse[i], fmt.Sprintf("%s_%s%s", name, models.Sparse, ext)); err != nil {
			return nil, err
		}
		p.progress(StageSave, name, float64(i+1)/float64(len(p.names)))
	}

	// Step 6: Montage, metrics and output list
	if cfg.Output.SaveMontage {
		viewer, err := visualization.NewViewer(x, res.L, res.S, shape)
		if err != nil {
			return nil, err
		}
		paths, err := viewer.SaveMontageSequence(p.names, montageScale, cfg.Output.ResultDir)
		if err != nil {
			return nil, fmt.Errorf("failed to save montage: %w", err)
		}
		for _, path := range paths {
			p.recordOutput(path)
		}
	}

	metrics := &Metrics{
		RunID:      p.params.RunID,
		Algorithm:  string(algo),
		Images:     len(p.images),
		Width:      shape.Width,
		Height:     shape.Height,
		Lambda:     lambda,
		Iterations: res.Iterations,
		Residual:   res.Residual,
		Converged:  res.Converged,
		Rank:       res.Rank,
		Sparsity:   res.Sparsity(),
		Mu:         res.Mu,
		PerImage:   computeMetrics(x, res, p.names),
	}
	metricsPath := cfg.OutputPath(MetricsFile)
	if err := WriteMetrics(metrics, metricsPath); err != nil {
		return nil, err
	}
	p.recordOutput(metricsPath)

	if err := imageio.WriteFileList(cfg.OutputPath(OutputListFile), p.outputs); err != nil {
		return nil, fmt.Errorf("failed to write output list: %w", err)
	}

	p.logger.Info("decomposition finished",
		"images", len(p.images),
		"rank", res.Rank,
		"iterations", res.Iterations,
		"residual", res.Residual,
		"outputs", len(p.outputs),
	)
	return &Summary{Outputs: append([]string(nil), p.outputs...), Metrics: metrics, Result: res}, nil
}

// resolveInputs reads the file list, applies the selection and appends the
// extra image.
func (p *Processor) resolveInputs() error {
	cfg := p.params.Config
	all, err := imageio.ReadFileList(cfg.Data.FileList)
	if err != nil {
		return err
	}
	paths, err := config.Selected(all, cfg.Data.Selection)
	if err != nil {
		return err
	}
	if p.params.ExtraImage != "" {
		paths = append(paths, p.params.ExtraImage)
	}
	if len(paths) == 0 {
		return fmt.Errorf("%w: no images selected", stack.ErrEmptyStack)
	}
	p.paths = paths
	p.names = uniqueNames(paths)
	p.logger.Debug("inputs resolved", "images", len(paths), "file_list", cfg.Data.FileList)
	return nil
}

// checkClean refuses to empty a result directory that holds the file list,
// the reference or any selected input.
func (p *Processor) checkClean() error {
	cfg := p.params.Config
	if !cfg.Output.Clean {
		return nil
	}
	inputs := append([]string{cfg.Data.FileList, cfg.Data.ReferenceImage}, p.paths...)
	for _, path := range inputs {
		if path != "" && insideDir(cfg.Output.ResultDir, path) {
			return fmt.Errorf("%w: output.clean would delete %s inside output.result_dir", config.ErrInvalidConfig, path)
		}
	}
	return nil
}

func insideDir(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	return err == nil && filepath.IsLocal(rel)
}

func (p *Processor) register(ctx context.Context) error {
	cfg := p.params.Config
	mode, err := registration.ParseMode(cfg.Preprocess.Registration)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	if mode == registration.None {
		return nil
	}

	software := p.params.Software
	if software == nil {
		software = registration.Discover(cfg.Software.SearchPaths, "BRAINSFit")
	}
	aligner := &registration.Aligner{
		Software:   software,
		Mode:       mode,
		ITKThreads: cfg.Software.ITKThreads,
		Exec:       p.params.Exec,
		Logger:     p.logger,
	}
	dir := cfg.OutputPath("registered")
	for i, path := range p.paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := aligner.Align(ctx, cfg.Data.ReferenceImage, path, p.names[i], dir)
		if err != nil {
			return err
		}
		p.paths[i] = out
		p.progress(StageRegister, p.names[i], float64(i+1)/float64(len(p.paths)))
	}
	return nil
}

func (p *Processor) loadImages() error {
	cfg := p.params.Config
	if cfg.Data.ReferenceImage != "" {
		ref, err := imageio.LoadImage(cfg.Data.ReferenceImage)
		if err != nil {
			return fmt.Errorf("reference image: %w", err)
		}
		p.reference = &ref
	}

	p.images = make([]models.PixelArray, len(p.paths))
	for i, path := range p.paths {
		img, err := imageio.LoadImage(path)
		if err != nil {
			return err
		}
		img.Name = p.names[i]
		if cfg.Preprocess.ResampleToReference && p.reference != nil &&
			img.Shape() != p.reference.Shape() {
			img = imageio.Resample(img, p.reference.Width, p.reference.Height)
		}
		p.images[i] = img
	}
	return nil
}

func (p *Processor) preprocess() error {
	cfg := p.params.Config
	opts := preprocess.Options{
		Sigma:             cfg.Preprocess.Sigma,
		HistogramMatching: cfg.Preprocess.HistogramMatching,
		MatchPoints:       preprocess.DefaultMatchPoints,
	}
	if !opts.Enabled() {
		return nil
	}

	p.progress(StagePreprocess, "smoothing and histogram matching", 0)
	var ref models.PixelArray
	if p.reference != nil {
		ref = *p.reference
	}
	p.images = preprocess.Apply(p.images, ref, opts)

	if cfg.Output.SaveIntermediaryResults {
		dir := cfg.OutputPath("preprocessed")
		for _, img := range p.images {
			path := filepath.Join(dir, img.Name+".png")
			if err := imageio.SavePixelArray(img, path); err != nil {
				p.logger.Warn("failed to save intermediary image", "image", img.Name, "error", err)
				continue
			}
			p.recordOutput(path)
		}
	}
	return nil
}

func (p *Processor) decompose(x *mat.Dense) (*decomposition.Result, float64, error) {
	cfg := p.params.Config
	m, n := x.Dims()
	lambda := decomposition.ScaledLambda(cfg.Decomposition.Lamda, m, n)
	opts := decomposition.Options{
		Lambda:        lambda,
		Tolerance:     cfg.Decomposition.Tolerance,
		MaxIterations: cfg.Decomposition.MaxIterations,
		Rho:           cfg.Decomposition.Rho,
		Observer: func(it decomposition.Iteration) {
			if it.Index%25 == 0 {
				p.logger.Debug("solver iteration", "iteration", it.Index, "residual", it.Residual, "rank", it.Rank)
			}
			p.progress(StageDecompose, fmt.Sprintf("iteration %d residual %.3g", it.Index, it.Residual),
				float64(it.Index)/float64(cfg.Decomposition.MaxIterations))
		},
	}

	p.logger.Info("decomposing", "pixels", m, "images", n, "lambda", lambda)
	res, err := decomposition.Recover(x, opts)
	switch {
	case err == nil:
	case errors.Is(err, decomposition.ErrNotConverged) && res != nil:
		if cfg.Decomposition.RequireConvergence {
			return nil, lambda, fmt.Errorf("failed to decompose: %w", err)
		}
		p.logger.Warn("decomposition did not converge, using last estimate",
			"iterations", res.Iterations, "residual", res.Residual)
	default:
		return nil, lambda, fmt.Errorf("failed to decompose: %w", err)
	}
	return res, lambda, nil
}

// pixelType resolves output.pixel_type. "auto" follows the deepest source
// image so 16-bit inputs are not squeezed into 8 bits.
func (p *Processor) pixelType() (reconstruction.PixelType, error) {
	deep := false
	for _, img := range p.images {
		if img.Depth == models.Depth16 {
			deep = true
			break
		}
	}

	configured := strings.ToLower(strings.TrimSpace(p.params.Config.Output.PixelType))
	if configured == "" || configured == config.PixelTypeAuto {
		if deep {
			return reconstruction.Uint16, nil
		}
		return reconstruction.Uint8, nil
	}
	pt, err := reconstruction.ParsePixelType(configured)
	if err != nil {
		return pt, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	if deep && pt == reconstruction.Uint8 {
		p.logger.Warn("writing 16-bit sources as uint8, samples above 255 saturate",
			"pixel_type", pt.String())
	}
	return pt, nil
}

func (p *Processor) save(img image.Image, name string) error {
	path := p.params.Config.OutputPath(name)
	if err := imageio.SaveImage(img, path); err != nil {
		return err
	}
	p.recordOutput(path)
	return nil
}

func (p *Processor) recordOutput(path string) {
	p.outputs = append(p.outputs, path)
	if p.params.OnOutput != nil {
		p.params.OnOutput(filepath.Base(path), path)
	}
}

func (p *Processor) progress(stage, message string, fraction float64) {
	if p.params.OnProgress != nil {
		p.params.OnProgress(Progress{Stage: stage, Message: message, Fraction: fraction})
	}
}

// uniqueNames derives output names from paths, suffixing repeats with their
// position (and further counters if that is taken too) so no two
// observations write the same file.
func uniqueNames(paths []string) []string {
	names := make([]string, len(paths))
	used := make(map[string]bool, len(paths))
	for i, path := range paths {
		base := imageio.BaseName(path)
		name := base
		for suffix := i; used[name]; suffix++ {
			name = fmt.Sprintf("%s_%d", base, suffix)
		}
		used[name] = true
		names[i] = name
	}
	return names
}

func outputExtension(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "tif", "tiff":
		return ".tiff"
	case "jpg", "jpeg":
		return ".jpg"
	default:
		return ".png"
	}
}
