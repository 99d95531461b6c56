// Package config provides configuration loading and management for lowrankdecomp.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("config: invalid configuration")

	// ErrUnknownAlgorithm is returned for algorithms other than lr, uab and nglra.
	ErrUnknownAlgorithm = errors.New("config: unknown algorithm")
)

// PixelTypeAuto writes outputs at the bit depth of the deepest source image.
const PixelTypeAuto = "auto"

// Algorithm names the processing mode of a run.
type Algorithm string

const (
	// LowRank is the low-rank/sparse decomposition of a stack ("lr").
	LowRank Algorithm = "lr"

	// UnbiasedAtlas is unbiased atlas creation ("uab").
	UnbiasedAtlas Algorithm = "uab"

	// LowRankAtlas is non-greedy low-rank atlas creation ("nglra").
	LowRankAtlas Algorithm = "nglra"
)

// ParseAlgorithm accepts the short names and the descriptive titles.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lr", "low rank/sparse decomposition", "lowrank":
		return LowRank, nil
	case "uab", "unbiased atlas creation":
		return UnbiasedAtlas, nil
	case "nglra", "low rank atlas creation":
		return LowRankAtlas, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

// Title returns the descriptive name of the algorithm.
func (a Algorithm) Title() string {
	switch a {
	case LowRank:
		return "Low Rank/Sparse Decomposition"
	case UnbiasedAtlas:
		return "Unbiased Atlas Creation"
	case LowRankAtlas:
		return "Low Rank Atlas Creation"
	default:
		return string(a)
	}
}

// ANTSParams holds the antsRegistration settings used by the atlas algorithms.
type ANTSParams struct {
	Convergence     string `yaml:"convergence" toml:"convergence"`
	Dimension       int    `yaml:"dimension" toml:"dimension"`
	ShrinkFactors   string `yaml:"shrink_factors" toml:"shrink_factors"`
	SmoothingSigmas string `yaml:"smoothing_sigmas" toml:"smoothing_sigmas"`
	Transform       string `yaml:"transform" toml:"transform"`
	Metric          string `yaml:"metric" toml:"metric"`
}

// Config represents the application configuration loaded from YAML or TOML
type Config struct {
	// Algorithm selects lr, uab or nglra
	Algorithm Algorithm `yaml:"algorithm" toml:"algorithm"`

	// Input data
	Data struct {
		// FileList is a text file listing one image path per line
		FileList string `yaml:"file_list" toml:"file_list"`

		// ReferenceImage defines the grid and histogram the stack is matched to
		ReferenceImage string `yaml:"reference_image" toml:"reference_image"`

		// Selection holds indices into the file list; empty selects every file
		Selection []int `yaml:"selection" toml:"selection"`

		// CacheDir is where downloaded data is stored
		CacheDir string `yaml:"cache_dir" toml:"cache_dir"`

		// Manifest is an optional JSON data manifest used by fetch
		Manifest string `yaml:"manifest" toml:"manifest"`

		// ForceRedownload ignores cached files when fetching
		ForceRedownload bool `yaml:"force_redownload" toml:"force_redownload"`
	} `yaml:"data" toml:"data"`

	// Decomposition parameters
	Decomposition struct {
		// Lamda weights the sparse term before scaling by sqrt(images/pixels)
		Lamda float64 `yaml:"lamda" toml:"lamda"`

		// Tolerance is the relative residual at which the solver stops
		Tolerance float64 `yaml:"tolerance" toml:"tolerance"`

		// MaxIterations caps the solver iterations
		MaxIterations int `yaml:"max_iterations" toml:"max_iterations"`

		// Rho is the penalty growth factor
		Rho float64 `yaml:"rho" toml:"rho"`

		// RequireConvergence turns hitting the iteration cap into a failure
		RequireConvergence bool `yaml:"require_convergence" toml:"require_convergence"`
	} `yaml:"decomposition" toml:"decomposition"`

	// Preprocessing applied before decomposition (lr only)
	Preprocess struct {
		// Registration is none, rigid or affine
		Registration string `yaml:"registration" toml:"registration"`

		// HistogramMatching matches every image to the reference histogram
		HistogramMatching bool `yaml:"histogram_matching" toml:"histogram_matching"`

		// Sigma is the Gaussian smoothing width in pixels, 0 disables it
		Sigma float64 `yaml:"sigma" toml:"sigma"`

		// ResampleToReference rescales images to the reference grid
		ResampleToReference bool `yaml:"resample_to_reference" toml:"resample_to_reference"`
	} `yaml:"preprocess" toml:"preprocess"`

	// Atlas parameters (uab and nglra)
	Atlas struct {
		IterationsPerLevel int        `yaml:"iterations_per_level" toml:"iterations_per_level"`
		Levels             int        `yaml:"levels" toml:"levels"`
		RegistrationType   string     `yaml:"registration_type" toml:"registration_type"`
		UseHealthyAtlas    bool       `yaml:"use_healthy_atlas" toml:"use_healthy_atlas"`
		ANTS               ANTSParams `yaml:"ants" toml:"ants"`
	} `yaml:"atlas" toml:"atlas"`

	// Output parameters
	Output struct {
		// ResultDir receives every produced file
		ResultDir string `yaml:"result_dir" toml:"result_dir"`

		// Clean empties ResultDir before a run. Runs whose inputs live
		// inside ResultDir are refused while it is set.
		Clean bool `yaml:"clean" toml:"clean"`

		// PixelType is auto, uint8 or uint16
		PixelType string `yaml:"pixel_type" toml:"pixel_type"`

		// Format is the image format of outputs: png, tiff or jpeg
		Format string `yaml:"format" toml:"format"`

		// SaveMontage writes an input | low-rank | sparse panel per image
		SaveMontage bool `yaml:"save_montage" toml:"save_montage"`

		// SaveIntermediaryResults keeps preprocessed inputs in ResultDir
		SaveIntermediaryResults bool `yaml:"save_intermediary_results" toml:"save_intermediary_results"`

		// Verbose logs at debug level when logging.level is empty
		Verbose bool `yaml:"verbose" toml:"verbose"`
	} `yaml:"output" toml:"output"`

	// External software
	Software struct {
		// SearchPaths are searched before PATH for registration tools
		SearchPaths []string `yaml:"search_paths" toml:"search_paths"`

		// ITKThreads sets ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS for external tools
		ITKThreads int `yaml:"itk_threads" toml:"itk_threads"`
	} `yaml:"software" toml:"software"`

	// Logging parameters
	Logging struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"`

		// File receives a copy of every record; "stdout" and "stderr" are
		// accepted too
		File string `yaml:"file" toml:"file"`

		HistoryDB string `yaml:"history_db" toml:"history_db"`
	} `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Algorithm = LowRank

	// Set default decomposition parameters
	cfg.Decomposition.Lamda = 2.0
	cfg.Decomposition.Tolerance = 1e-7
	cfg.Decomposition.MaxIterations = 1000
	cfg.Decomposition.Rho = 1.5

	// Set default preprocessing parameters
	cfg.Preprocess.Registration = "none"

	// Set default atlas parameters
	cfg.Atlas.IterationsPerLevel = 4
	cfg.Atlas.Levels = 1
	cfg.Atlas.RegistrationType = "ANTS"
	cfg.Atlas.ANTS = DefaultANTSParams()

	// Set default output parameters
	cfg.Output.ResultDir = filepath.Join(os.TempDir(), "lowrankdecomp", "output")
	cfg.Output.Clean = true
	cfg.Output.PixelType = PixelTypeAuto
	cfg.Output.Format = "png"

	cfg.Data.CacheDir = filepath.Join(os.TempDir(), "lowrankdecomp", "cache")
	cfg.Software.ITKThreads = runtime.NumCPU()

	cfg.Logging.Format = "console"

	return cfg
}

// DefaultANTSParams returns the antsRegistration defaults of the atlas tools
func DefaultANTSParams() ANTSParams {
	return ANTSParams{
		Convergence:     "[100x50x25,1e-6,10]",
		Dimension:       3,
		ShrinkFactors:   "4x2x1",
		SmoothingSigmas: "2x1x0vox",
		Transform:       "SyN[0.1,1,0]",
		Metric:          "MeanSquares[fixedIm,movingIm,1,0]",
	}
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by extension.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML or TOML
	if isTOML(configPath) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	cfg.resolvePaths(filepath.Dir(configPath))
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isTOML(configPath) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// resolvePaths makes relative file references relative to the config file
func (c *Config) resolvePaths(base string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&c.Data.FileList)
	resolve(&c.Data.ReferenceImage)
	resolve(&c.Data.Manifest)
	resolve(&c.Output.ResultDir)
	resolve(&c.Logging.HistoryDB)
	if c.Logging.File != "stdout" && c.Logging.File != "stderr" {
		resolve(&c.Logging.File)
	}
}
