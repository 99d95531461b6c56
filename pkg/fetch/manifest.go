// Package fetch downloads the image collections described by JSON data
// manifests into a local cache and verifies them against MD5 checksums.
package fetch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

var (
	// ErrInvalidManifest is returned when a manifest lacks its url or files,
	// or names a file that would land outside the cache directory.
	ErrInvalidManifest = errors.New("fetch: invalid manifest")

	// ErrSelectionOutOfRange is returned when a selection index is past the
	// end of the manifest's file list.
	ErrSelectionOutOfRange = errors.New("fetch: selection out of range")

	// ErrChecksumMismatch is matched by *ChecksumError.
	ErrChecksumMismatch = errors.New("fetch: checksum mismatch")
)

// ChecksumError reports a downloaded file whose MD5 differs from the manifest.
type ChecksumError struct {
	Path string
	Got  string
	Want string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("fetch: %s md5 sum %s does not match expected %s; remove the file and download again",
		e.Path, e.Got, e.Want)
}

// Is reports whether target is ErrChecksumMismatch.
func (e *ChecksumError) Is(target error) bool { return target == ErrChecksumMismatch }

// FileEntry identifies one remote file. In JSON it is either ["id", "md5"]
// or a bare "id" string when no checksum is known.
type FileEntry struct {
	ID  string
	MD5 string
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *FileEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.ID)
	}
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: file entry must be a string or [id, md5]: %v", ErrInvalidManifest, err)
	}
	switch len(pair) {
	case 1:
		e.ID = pair[0]
	case 2:
		e.ID, e.MD5 = pair[0], pair[1]
	default:
		return fmt.Errorf("%w: file entry has %d elements", ErrInvalidManifest, len(pair))
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e FileEntry) MarshalJSON() ([]byte, error) {
	if e.MD5 == "" {
		return json.Marshal(e.ID)
	}
	return json.Marshal([]string{e.ID, e.MD5})
}

// Manifest lists downloadable files under a common base URL.
type Manifest struct {
	URL   string               `json:"url"`
	Files map[string]FileEntry `json:"files"`
}

// Item is one selected file, resolved to its download URL.
type Item struct {
	Name string
	URL  string
	MD5  string
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates manifest JSON.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw struct {
		URL   *string              `json:"url"`
		Files map[string]FileEntry `json:"files"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		if errors.Is(err, ErrInvalidManifest) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if raw.URL == nil {
		return nil, fmt.Errorf("%w: key 'url' is missing", ErrInvalidManifest)
	}
	if raw.Files == nil {
		return nil, fmt.Errorf("%w: key 'files' is missing", ErrInvalidManifest)
	}
	for name := range raw.Files {
		if err := CheckName(name); err != nil {
			return nil, err
		}
	}
	return &Manifest{URL: *raw.URL, Files: raw.Files}, nil
}

// CheckName accepts only plain file names that stay inside the cache
// directory once joined onto it.
func CheckName(name string) error {
	if !filepath.IsLocal(name) || filepath.Base(name) != name {
		return fmt.Errorf("%w: file name %q is not a plain local name", ErrInvalidManifest, name)
	}
	return nil
}

// Save writes the manifest as indented JSON.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Names returns the file names in sorted order. Selections index this list.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select resolves selection indices to items. An empty selection selects
// every file.
func (m *Manifest) Select(selection []int) ([]Item, error) {
	names := m.Names()
	if len(selection) == 0 {
		selection = make([]int, len(names))
		for i := range selection {
			selection[i] = i
		}
	}
	items := make([]Item, 0, len(selection))
	for _, idx := range selection {
		if idx < 0 || idx >= len(names) {
			return nil, fmt.Errorf("%w: index %d with %d files available", ErrSelectionOutOfRange, idx, len(names))
		}
		name := names[idx]
		entry := m.Files[name]
		items = append(items, Item{Name: name, URL: m.URL + entry.ID, MD5: entry.MD5})
	}
	return items, nil
}

// CachePaths returns where each named file lives inside cacheDir.
func (m *Manifest) CachePaths(cacheDir string) []string {
	names := m.Names()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(cacheDir, name)
	}
	return paths
}
