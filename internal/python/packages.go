package python

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var metadataSuffixes = []string{".dist-info", ".egg-info"}

// ListInstalled enumerates packages in the site directory by scanning
// for *.dist-info and *.egg-info entries. The returned names keep
// input order and are deduplicated case-insensitively.
func (e *Env) ListInstalled() []string {
	entries, err := os.ReadDir(e.SiteDir())
	if err != nil {
		return nil
	}

	var names []string
	seen := make(map[string]struct{})
	for _, entry := range entries {
		name, ok := packageNameFromMetadata(entry.Name())
		if !ok {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	return names
}

// packageNameFromMetadata strips a metadata suffix and the trailing
// -<version> segment: "requests-2.31.0.dist-info" yields "requests".
func packageNameFromMetadata(entry string) (string, bool) {
	var base string
	for _, suffix := range metadataSuffixes {
		if strings.HasSuffix(entry, suffix) {
			base = strings.TrimSuffix(entry, suffix)
			break
		}
	}
	if base == "" {
		return "", false
	}

	if i := strings.LastIndex(base, "-"); i > 0 {
		// Only strip the segment when it looks like a version.
		tail := base[i+1:]
		if len(tail) > 0 && tail[0] >= '0' && tail[0] <= '9' {
			base = base[:i]
		}
	}
	if base == "" {
		return "", false
	}
	return base, true
}

// IsInstalled reports whether the named package is present in the site
// directory. Matching is case-insensitive and treats '-' and '_' as
// equivalent, the way package metadata names do.
func (e *Env) IsInstalled(name string) bool {
	want := normalizeName(name)
	for _, installed := range e.ListInstalled() {
		if normalizeName(installed) == want {
			return true
		}
	}
	return false
}

// InstalledVersion extracts the version from the package's metadata
// directory name. Empty when not installed.
func (e *Env) InstalledVersion(name string) string {
	entries, err := os.ReadDir(e.SiteDir())
	if err != nil {
		return ""
	}

	want := normalizeName(name)
	for _, entry := range entries {
		for _, suffix := range metadataSuffixes {
			base, found := strings.CutSuffix(entry.Name(), suffix)
			if !found {
				continue
			}
			i := strings.LastIndex(base, "-")
			if i <= 0 {
				continue
			}
			if normalizeName(base[:i]) == want {
				return base[i+1:]
			}
		}
	}
	return ""
}

func normalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}

// Uninstall removes the package directory plus its *.dist-info and
// *.egg-info metadata from the site directory. It succeeds when the
// package is absent afterwards, and returns the entries it removed.
func (e *Env) Uninstall(name string) ([]string, error) {
	site := e.SiteDir()
	entries, err := os.ReadDir(site)
	if err != nil {
		return nil, fmt.Errorf("read site directory: %w", err)
	}

	want := normalizeName(name)
	var removed []string
	var lastErr error

	for _, entry := range entries {
		entryName := entry.Name()

		matches := normalizeName(entryName) == want
		if !matches {
			if base, ok := packageNameFromMetadata(entryName); ok && normalizeName(base) == want {
				matches = true
			}
		}
		if !matches {
			continue
		}

		path := filepath.Join(site, entryName)
		if err := os.RemoveAll(path); err != nil {
			lastErr = err
			continue
		}
		removed = append(removed, entryName)
	}

	if e.IsInstalled(name) {
		if lastErr != nil {
			return removed, fmt.Errorf("remove package %s: %w", name, lastErr)
		}
		return removed, fmt.Errorf("package %s still present after removal", name)
	}
	return removed, nil
}

// ParsePipShow parses `pip show` output into a key/value map. Pip
// emits "Name: requests" style lines; continuation lines are folded
// into the previous key.
func ParsePipShow(output string) map[string]string {
	info := make(map[string]string)
	var lastKey string

	for _, line := range strings.Split(output, "\n") {
		if line == "" || line == "---" {
			continue
		}
		if strings.HasPrefix(line, " ") && lastKey != "" {
			info[lastKey] += "\n" + strings.TrimSpace(line)
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		lastKey = strings.TrimSpace(key)
		info[lastKey] = strings.TrimSpace(value)
	}

	// pip prints a warning instead of fields when the package is
	// unknown; treat output without a Name as no result.
	if _, ok := info["Name"]; !ok {
		return nil
	}
	return info
}
