// Package registration locates the external registration tools and aligns
// images to a reference through BRAINSFit.
package registration

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

// ErrToolNotFound is returned when a required executable cannot be located.
var ErrToolNotFound = errors.New("registration: tool not found")

// RequiredSoftware lists the executables used by the decomposition and atlas
// workflows.
func RequiredSoftware() []string {
	return []string{
		"BRAINSFit", "BRAINSDemonWarp", "BRAINSResample",
		"antsRegistration", "AverageImages", "ComposeMultiTransform",
		"WarpImageMultiTransform", "CreateJacobianDeterminantImage",
		"InvertDeformationField",
	}
}

// Software maps tool names to resolved executable paths. Tools that could not
// be found are absent.
type Software map[string]string

// Discover resolves names, looking in searchPaths first and then in PATH.
// The process environment is left untouched.
func Discover(searchPaths []string, names ...string) Software {
	if len(names) == 0 {
		names = RequiredSoftware()
	}
	found := Software{}
	for _, name := range names {
		if p, ok := lookIn(searchPaths, name); ok {
			found[name] = p
			continue
		}
		if p, err := exec.LookPath(name); err == nil {
			found[name] = p
		}
	}
	return found
}

// Path returns the executable for name or an error wrapping ErrToolNotFound.
func (s Software) Path(name string) (string, error) {
	if p, ok := s[name]; ok && p != "" {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

// Missing returns the sorted names from want that were not resolved.
func (s Software) Missing(want ...string) []string {
	if len(want) == 0 {
		want = RequiredSoftware()
	}
	var missing []string
	for _, name := range want {
		if _, ok := s[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func lookIn(dirs []string, name string) (string, bool) {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode().Perm()&0o111 == 0 {
			continue
		}
		return candidate, true
	}
	return "", false
}
