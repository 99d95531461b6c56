package fetch

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseCatalog converts a Midas catalog listing into a manifest. Lines that
// carry an ID, a name and format="image/ITK" become entries keyed by name;
// names not containing suffix are skipped. Entries carry no checksum. A name
// that is not a plain file name fails the whole catalog.
func ParseCatalog(r io.Reader, suffix, url string) (*Manifest, error) {
	m := &Manifest{URL: url, Files: map[string]FileEntry{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "ID=") || !strings.Contains(line, "name=") ||
			!strings.Contains(line, `format="image/ITK"`) {
			continue
		}
		var id, name string
		for _, field := range strings.Fields(line) {
			value, ok := attrValue(field)
			if !ok {
				continue
			}
			if strings.Contains(field, "ID=") {
				id = value
			}
			if strings.Contains(field, "name=") {
				name = value
			}
		}
		if id == "" || name == "" || !strings.Contains(name, suffix) {
			continue
		}
		if err := CheckName(name); err != nil {
			return nil, err
		}
		m.Files[name] = FileEntry{ID: id}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return m, nil
}

func attrValue(field string) (string, bool) {
	_, value, ok := strings.Cut(field, "=")
	if !ok {
		return "", false
	}
	value = strings.TrimRight(value, "/>")
	return strings.ReplaceAll(value, `"`, ""), true
}
