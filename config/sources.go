package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceFiles returns the files whose modification should trigger a reload:
// the configuration file itself and every stopping table it refers to.
func SourceFiles(cfg *Config) []string {
	if cfg == nil {
		return nil
	}
	files := make(map[string]struct{})
	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		files[abs] = struct{}{}
	}
	add(cfg.Source)
	if len(cfg.Data.Tables) > 0 {
		for _, table := range cfg.Data.Tables {
			add(cfg.TablePath(table))
		}
	} else if dir := cfg.DataDir(); dir != "" {
		matches, _ := filepath.Glob(filepath.Join(dir, "*.txt"))
		for _, match := range matches {
			add(match)
		}
	}
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
