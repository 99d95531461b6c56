package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for the fields a run of its algorithm needs.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	algo, err := ParseAlgorithm(string(c.Algorithm))
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.Data.FileList) == "" {
		add("data.file_list is required")
	}
	if strings.TrimSpace(c.Output.ResultDir) == "" {
		add("output.result_dir is required")
	}
	for _, idx := range c.Data.Selection {
		if idx < 0 {
			add("data.selection contains negative index %d", idx)
		}
	}

	if !(c.Decomposition.Lamda > 0) {
		add("decomposition.lamda must be positive, got %v", c.Decomposition.Lamda)
	}
	if !(c.Decomposition.Tolerance > 0) {
		add("decomposition.tolerance must be positive, got %v", c.Decomposition.Tolerance)
	}
	if c.Decomposition.MaxIterations <= 0 {
		add("decomposition.max_iterations must be positive, got %d", c.Decomposition.MaxIterations)
	}
	if !(c.Decomposition.Rho > 1) {
		add("decomposition.rho must be greater than 1, got %v", c.Decomposition.Rho)
	}

	switch algo {
	case LowRank:
		switch strings.ToLower(c.Preprocess.Registration) {
		case "", "none", "rigid", "affine":
		default:
			add("preprocess.registration must be none, rigid or affine, got %q", c.Preprocess.Registration)
		}
		if c.Preprocess.Sigma < 0 {
			add("preprocess.sigma must not be negative, got %v", c.Preprocess.Sigma)
		}
		needsRef := c.Preprocess.HistogramMatching || c.Preprocess.ResampleToReference ||
			!strings.EqualFold(c.Preprocess.Registration, "none") && c.Preprocess.Registration != ""
		if needsRef && c.Data.ReferenceImage == "" {
			add("data.reference_image is required for registration, histogram matching or resampling")
		}
	case UnbiasedAtlas, LowRankAtlas:
		if c.Atlas.IterationsPerLevel <= 0 {
			add("atlas.iterations_per_level must be positive")
		}
		if c.Atlas.Levels <= 0 {
			add("atlas.levels must be positive")
		}
		if algo == LowRankAtlas {
			switch c.Atlas.RegistrationType {
			case "BSpline", "Demons", "ANTS":
			default:
				add("atlas.registration_type must be BSpline, Demons or ANTS, got %q", c.Atlas.RegistrationType)
			}
		}
	}

	switch strings.ToLower(c.Output.PixelType) {
	case "", PixelTypeAuto, "uint8", "uint16":
	default:
		add("output.pixel_type must be auto, uint8 or uint16, got %q", c.Output.PixelType)
	}
	switch strings.ToLower(c.Output.Format) {
	case "", "png", "tiff", "tif", "jpeg", "jpg":
	default:
		add("output.format must be png, tiff or jpeg, got %q", c.Output.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
