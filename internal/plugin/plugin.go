// Package plugin manages installed site plugins: discovery from file
// headers, the active list kept in the options store, activation and
// file removal.
package plugin

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Plugin is an installed plugin. Basename is "dir/file.php" for plugins in
// their own directory and "file.php" for single-file plugins.
type Plugin struct {
	Basename    string `json:"basename"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
}

// Dir returns the plugin's own directory, or "" for single-file plugins.
func (p Plugin) Dir() string {
	dir, _, found := strings.Cut(p.Basename, "/")
	if !found {
		return ""
	}
	return dir
}

const headerLimit = 8 << 10

var headerRe = regexp.MustCompile(`^[\s/*#@]*(Plugin Name|Version|Description|Author):\s*(.+?)\s*(\*/)?$`)

// LoadPlugin reads the header block of a plugin file. Files without a
// "Plugin Name:" header are not plugins.
func LoadPlugin(path, basename string) (*Plugin, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin header: %w", err)
	}
	defer f.Close()

	p := Plugin{Basename: basename}
	sc := bufio.NewScanner(io.LimitReader(f, headerLimit))
	for sc.Scan() {
		m := headerRe.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		switch m[1] {
		case "Plugin Name":
			p.Name = m[2]
		case "Version":
			p.Version = m[2]
		case "Description":
			p.Description = m[2]
		case "Author":
			p.Author = m[2]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read plugin header: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%s: no plugin header", basename)
	}
	return &p, nil
}
