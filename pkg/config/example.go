package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ExampleConfig builds the configuration written by "config example" for one
// algorithm. Fields that do not apply to the algorithm keep their defaults and
// are ignored at run time.
func ExampleConfig(algo Algorithm, referenceImage, fileList string, selection []int) (*Config, error) {
	if _, err := ParseAlgorithm(string(algo)); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Algorithm = algo
	cfg.Data.FileList = fileList
	cfg.Data.ReferenceImage = referenceImage
	cfg.Data.Selection = append([]int(nil), selection...)

	switch algo {
	case LowRank:
		cfg.Preprocess.Registration = "affine"
		cfg.Preprocess.HistogramMatching = false
		cfg.Preprocess.Sigma = 0
	case LowRankAtlas:
		cfg.Atlas.UseHealthyAtlas = false
		cfg.Atlas.RegistrationType = "ANTS"
	}
	return cfg, nil
}

// SelectAll returns the indices 0..n-1.
func SelectAll(n int) []int {
	sel := make([]int, n)
	for i := range sel {
		sel[i] = i
	}
	return sel
}

// Selected applies a selection to a list of paths. An empty selection keeps
// every path.
func Selected(paths []string, selection []int) ([]string, error) {
	if len(selection) == 0 {
		return append([]string(nil), paths...), nil
	}
	out := make([]string, 0, len(selection))
	for _, idx := range selection {
		if idx < 0 || idx >= len(paths) {
			return nil, fmt.Errorf("%w: selection index %d outside file list of %d entries", ErrInvalidConfig, idx, len(paths))
		}
		out = append(out, paths[idx])
	}
	return out, nil
}

// LockFileName is the run guard file kept inside the result directory.
const LockFileName = ".lowrankdecomp.lock"

// PrepareResultDir creates the result directory. With Clean set, everything
// already in it except the lock file is removed first.
func (c *Config) PrepareResultDir() error {
	if err := os.MkdirAll(c.Output.ResultDir, 0755); err != nil {
		return fmt.Errorf("create result directory: %w", err)
	}
	if !c.Output.Clean {
		return nil
	}
	entries, err := os.ReadDir(c.Output.ResultDir)
	if err != nil {
		return fmt.Errorf("clean result directory: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == LockFileName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.Output.ResultDir, entry.Name())); err != nil {
			return fmt.Errorf("clean result directory: %w", err)
		}
	}
	return nil
}

// LockPath returns the path of the run guard file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Output.ResultDir, LockFileName)
}

// OutputPath returns the path of a result file inside the result directory.
func (c *Config) OutputPath(name string) string {
	return filepath.Join(c.Output.ResultDir, name)
}
