package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lowrankdecomp/pkg/config"
	"lowrankdecomp/pkg/decomposition"
	"lowrankdecomp/pkg/imageio"
	"lowrankdecomp/pkg/registration"
	"lowrankdecomp/pkg/stack"
)

// writeSlice writes an 8x8 gradient with an optional bright outlier.
func writeSlice(t *testing.T, path string, w, h int, outlier bool) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(40 + 10*x + 5*y)})
		}
	}
	if outlier {
		img.SetGray(3, 4, color.Gray{Y: 250})
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// newTestConfig writes n slices and a file list and returns a config for them.
func newTestConfig(t *testing.T, n int) *config.Config {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, "slice"+string(rune('a'+i))+".png")
		writeSlice(t, p, 8, 8, i == 2)
		paths = append(paths, p)
	}
	list := filepath.Join(dir, "files.txt")
	if err := imageio.WriteFileList(list, paths); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Data.FileList = list
	cfg.Output.ResultDir = filepath.Join(dir, "out")
	cfg.Decomposition.MaxIterations = 500
	cfg.Decomposition.Tolerance = 1e-6
	return cfg
}

func TestProcessWritesOutputs(t *testing.T) {
	cfg := newTestConfig(t, 5)
	cfg.Output.SaveMontage = true

	var (
		outputs  []string
		progress int
	)
	p := NewProcessor(&Params{
		Config:     cfg,
		RunID:      "run-1",
		OnOutput:   func(_, path string) { outputs = append(outputs, path) },
		OnProgress: func(Progress) { progress++ },
	})
	summary, err := p.Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// two images and one montage per input, plus metrics
	if len(summary.Outputs) != 5*3+1 {
		t.Errorf("Expected 16 outputs, got %d: %v", len(summary.Outputs), summary.Outputs)
	}
	if len(outputs) != len(summary.Outputs) {
		t.Errorf("Expected every output reported, got %d of %d", len(outputs), len(summary.Outputs))
	}
	if progress == 0 {
		t.Error("Expected progress updates")
	}

	for _, name := range []string{"slicea_LowRank.png", "slicec_Sparse.png", "sliceb_Montage.png", MetricsFile} {
		if _, err := os.Stat(filepath.Join(cfg.Output.ResultDir, name)); err != nil {
			t.Errorf("Expected %s: %v", name, err)
		}
	}

	listed, err := imageio.ReadFileList(filepath.Join(cfg.Output.ResultDir, OutputListFile))
	if err != nil {
		t.Fatalf("Failed to read output list: %v", err)
	}
	if len(listed) != len(summary.Outputs) {
		t.Errorf("Expected %d listed outputs, got %d", len(summary.Outputs), len(listed))
	}

	m, err := ReadMetrics(filepath.Join(cfg.Output.ResultDir, MetricsFile))
	if err != nil {
		t.Fatalf("Failed to read metrics: %v", err)
	}
	if m.RunID != "run-1" || m.Images != 5 || m.Width != 8 || m.Height != 8 {
		t.Errorf("Unexpected metrics header %+v", m)
	}
	if m.Rank < 1 || len(m.PerImage) != 5 {
		t.Errorf("Unexpected rank %d or per-image count %d", m.Rank, len(m.PerImage))
	}
	if want := decomposition.ScaledLambda(2.0, 64, 5); m.Lambda != want {
		t.Errorf("Expected lambda %v, got %v", want, m.Lambda)
	}
}

func TestProcessSelectionAndExtraImage(t *testing.T) {
	cfg := newTestConfig(t, 4)
	cfg.Data.Selection = []int{3, 1}
	extra := filepath.Join(t.TempDir(), "extra.png")
	writeSlice(t, extra, 8, 8, true)

	summary, err := NewProcessor(&Params{Config: cfg, ExtraImage: extra}).Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if summary.Metrics.Images != 3 {
		t.Fatalf("Expected 3 images, got %d", summary.Metrics.Images)
	}
	var names []string
	for _, im := range summary.Metrics.PerImage {
		names = append(names, im.Name)
	}
	if strings.Join(names, ",") != "sliced,sliceb,extra" {
		t.Errorf("Unexpected image order %v", names)
	}
}

func TestProcessAtlasNotImplemented(t *testing.T) {
	for _, algo := range []config.Algorithm{config.UnbiasedAtlas, config.LowRankAtlas} {
		cfg := newTestConfig(t, 2)
		cfg.Algorithm = algo
		_, err := NewProcessor(&Params{Config: cfg}).Process(context.Background())
		if !errors.Is(err, ErrAlgorithmNotImplemented) {
			t.Errorf("%s: expected ErrAlgorithmNotImplemented, got %v", algo, err)
		}
	}
}

func TestProcessNonConvergence(t *testing.T) {
	cfg := newTestConfig(t, 3)
	cfg.Decomposition.MaxIterations = 1

	summary, err := NewProcessor(&Params{Config: cfg}).Process(context.Background())
	if err != nil {
		t.Fatalf("Expected best-effort result, got %v", err)
	}
	if summary.Metrics.Converged {
		t.Error("Expected converged=false after one iteration")
	}

	cfg.Decomposition.RequireConvergence = true
	_, err = NewProcessor(&Params{Config: cfg}).Process(context.Background())
	if !errors.Is(err, decomposition.ErrNotConverged) {
		t.Errorf("Expected ErrNotConverged, got %v", err)
	}
}

func TestProcessShapeMismatch(t *testing.T) {
	cfg := newTestConfig(t, 2)
	odd := filepath.Join(t.TempDir(), "odd.png")
	writeSlice(t, odd, 6, 8, false)

	_, err := NewProcessor(&Params{Config: cfg, ExtraImage: odd}).Process(context.Background())
	if !errors.Is(err, stack.ErrShapeMismatch) {
		t.Fatalf("Expected ErrShapeMismatch, got %v", err)
	}
	var sme *stack.ShapeMismatchError
	if !errors.As(err, &sme) || sme.Index != 2 {
		t.Errorf("Expected mismatch at index 2, got %v", err)
	}

	// resampling to the reference grid removes the mismatch
	cfg.Data.ReferenceImage = filepath.Join(filepath.Dir(cfg.Data.FileList), "slicea.png")
	cfg.Preprocess.ResampleToReference = true
	if _, err := NewProcessor(&Params{Config: cfg, ExtraImage: odd}).Process(context.Background()); err != nil {
		t.Fatalf("Expected resampled run to succeed, got %v", err)
	}
}

func TestProcessPreprocessing(t *testing.T) {
	cfg := newTestConfig(t, 3)
	cfg.Data.ReferenceImage = filepath.Join(filepath.Dir(cfg.Data.FileList), "slicea.png")
	cfg.Preprocess.Sigma = 1
	cfg.Preprocess.HistogramMatching = true
	cfg.Output.SaveIntermediaryResults = true

	if _, err := NewProcessor(&Params{Config: cfg}).Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.ResultDir, "preprocessed", "sliceb.png")); err != nil {
		t.Errorf("Expected intermediary image: %v", err)
	}
}

// copyExecutor stands in for BRAINSFit by copying the moving image.
type copyExecutor struct{ calls int }

func (c *copyExecutor) Run(_ context.Context, _ string, args []string, _ []string) ([]byte, error) {
	c.calls++
	var moving, output string
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "--movingVolume":
			moving = args[i+1]
		case "--outputVolume":
			output = args[i+1]
		}
	}
	src, err := os.Open(moving)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	dst, err := os.Create(output)
	if err != nil {
		return nil, err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return nil, err
}

func TestProcessRegistration(t *testing.T) {
	cfg := newTestConfig(t, 3)
	cfg.Data.ReferenceImage = filepath.Join(filepath.Dir(cfg.Data.FileList), "slicea.png")
	cfg.Preprocess.Registration = "affine"

	exec := &copyExecutor{}
	_, err := NewProcessor(&Params{
		Config:   cfg,
		Software: registration.Software{"BRAINSFit": "/opt/bin/BRAINSFit"},
		Exec:     exec,
	}).Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if exec.calls != 3 {
		t.Errorf("Expected 3 registrations, got %d", exec.calls)
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.ResultDir, "sliceb_LowRank.png")); err != nil {
		t.Errorf("Expected outputs named after the original inputs: %v", err)
	}

	_, err = NewProcessor(&Params{Config: cfg, Software: registration.Software{}}).Process(context.Background())
	if !errors.Is(err, registration.ErrToolNotFound) {
		t.Errorf("Expected ErrToolNotFound, got %v", err)
	}
}

func TestProcessRegistrationSameBaseName(t *testing.T) {
	dir := t.TempDir()
	clean := filepath.Join(dir, "a", "case.png")
	noisy := filepath.Join(dir, "b", "case.png")
	for _, path := range []string{clean, noisy} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writeSlice(t, clean, 8, 8, false)
	writeSlice(t, noisy, 8, 8, true)
	list := filepath.Join(dir, "files.txt")
	if err := imageio.WriteFileList(list, []string{clean, noisy}); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Data.FileList = list
	cfg.Data.ReferenceImage = clean
	cfg.Preprocess.Registration = "rigid"
	cfg.Output.ResultDir = filepath.Join(dir, "out")
	cfg.Decomposition.MaxIterations = 500
	cfg.Decomposition.Tolerance = 1e-6

	summary, err := NewProcessor(&Params{
		Config:   cfg,
		Software: registration.Software{"BRAINSFit": "/opt/bin/BRAINSFit"},
		Exec:     &copyExecutor{},
	}).Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	for _, name := range []string{"case_registered.png", "case_1_registered.png"} {
		if _, err := os.Stat(filepath.Join(cfg.Output.ResultDir, "registered", name)); err != nil {
			t.Errorf("Expected registered image %s: %v", name, err)
		}
	}
	if summary.Result.Cardinality == 0 {
		t.Error("Expected the outlier of the second image in the sparse component")
	}
	if got := summary.Metrics.PerImage[1].SparseEnergy; got == 0 {
		t.Errorf("Expected sparse energy for case_1, got %v", got)
	}
}

func TestProcessRefusesToCleanInputs(t *testing.T) {
	cfg := newTestConfig(t, 3)
	// the inputs sit next to the file list, so use that directory as output
	cfg.Output.ResultDir = filepath.Dir(cfg.Data.FileList)
	cfg.Output.Clean = true

	_, err := NewProcessor(&Params{Config: cfg}).Process(context.Background())
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
	if _, err := os.Stat(cfg.Data.FileList); err != nil {
		t.Fatalf("Expected file list to survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.ResultDir, "slicea.png")); err != nil {
		t.Fatalf("Expected input to survive: %v", err)
	}

	cfg.Output.Clean = false
	if _, err := NewProcessor(&Params{Config: cfg}).Process(context.Background()); err != nil {
		t.Fatalf("Expected run without cleaning to succeed: %v", err)
	}
}

// writeSlice16 writes an 8x8 16-bit gradient reaching well above 255.
func writeSlice16(t *testing.T, path string, offset int) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(1000 + 400*x + 100*y + offset)})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestProcessPixelTypeFollowsSource(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, "deep"+string(rune('a'+i))+".png")
		writeSlice16(t, path, 0)
		paths = append(paths, path)
	}
	list := filepath.Join(dir, "files.txt")
	if err := imageio.WriteFileList(list, paths); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.Data.FileList = list
	cfg.Output.ResultDir = filepath.Join(dir, "out")
	cfg.Decomposition.MaxIterations = 500

	decode := func() image.Image {
		f, err := os.Open(filepath.Join(cfg.Output.ResultDir, "deepa_LowRank.png"))
		if err != nil {
			t.Fatalf("Failed to open output: %v", err)
		}
		defer f.Close()
		img, err := png.Decode(f)
		if err != nil {
			t.Fatalf("Failed to decode output: %v", err)
		}
		return img
	}

	if _, err := NewProcessor(&Params{Config: cfg}).Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	deep, ok := decode().(*image.Gray16)
	if !ok {
		t.Fatalf("Expected a 16-bit output for 16-bit sources, got %T", decode())
	}
	if v := deep.Gray16At(7, 7).Y; v < 3000 {
		t.Errorf("Expected bright corner to keep its 16-bit value, got %d", v)
	}

	var logs strings.Builder
	cfg.Output.PixelType = "uint8"
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	if _, err := NewProcessor(&Params{Config: cfg, Logger: logger}).Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if _, ok := decode().(*image.Gray); !ok {
		t.Errorf("Expected an 8-bit output for pixel_type uint8, got %T", decode())
	}
	if !strings.Contains(logs.String(), "samples above 255 saturate") {
		t.Errorf("Expected a saturation warning, got %q", logs.String())
	}
}

func TestProcessCancelled(t *testing.T) {
	cfg := newTestConfig(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewProcessor(&Params{Config: cfg}).Process(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestUniqueNames(t *testing.T) {
	tests := []struct {
		paths []string
		want  []string
	}{
		{[]string{"/a/case.png", "/b/case.png", "/c/other.tiff"}, []string{"case", "case_1", "other"}},
		{[]string{"/a/case.png", "/b/case.png", "/c/case_1.png"}, []string{"case", "case_1", "case_1_2"}},
		{[]string{"/a/case_1.png", "/b/case.png", "/c/case.png"}, []string{"case_1", "case", "case_2"}},
		{[]string{"/a/x.png", "/b/x_1.png", "/c/x.png", "/d/x.png"}, []string{"x", "x_1", "x_2", "x_3"}},
	}
	for _, tc := range tests {
		got := uniqueNames(tc.paths)
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Errorf("uniqueNames(%v)[%d] = %q, want %q", tc.paths, i, got[i], tc.want[i])
			}
		}
	}
}

func TestMetricsHelpers(t *testing.T) {
	a := []float64{1, 2, 3, 4}
	if got := calculateRMSE(a, a); got != 0 {
		t.Errorf("Expected zero RMSE for identical data, got %v", got)
	}
	if got := calculateRMSE(a, []float64{2, 3, 4, 5}); got != 1 {
		t.Errorf("Expected RMSE 1 for unit offset, got %v", got)
	}
	if got := calculateSSIM(a, a); got < 0.999 {
		t.Errorf("Expected SSIM ~1 for identical data, got %v", got)
	}
	if got := calculateEntropy([]float64{5, 5, 5}); got != 0 {
		t.Errorf("Expected zero entropy for constant data, got %v", got)
	}
	if got := calculateEntropy([]float64{0, 1}); got != 1 {
		t.Errorf("Expected one bit of entropy for two distinct values, got %v", got)
	}
	if got := calculateMutualInformation(a, []float64{4, 1, 3, 2}); got < 0 {
		t.Errorf("Expected non-negative MI, got %v", got)
	}
}
