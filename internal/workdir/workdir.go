// Package workdir resolves the gridsave project root: the nearest directory
// holding a .gridsave folder, or one redirected by a .gridsave-root file.
package workdir

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	projectDir = ".gridsave"
	rootFile   = ".gridsave-root"
)

// ResolveBaseDir walks up from start. The first directory that contains a
// .gridsave-root file resolves to the path written in it (relative paths are
// taken from that directory); the first that contains a .gridsave directory
// is returned as is. Without either marker start is returned unchanged.
func ResolveBaseDir(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for {
		if target, ok := readRootFile(dir); ok {
			return target
		}
		if info, err := os.Stat(filepath.Join(dir, projectDir)); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

func readRootFile(dir string) (string, bool) {
	content, err := os.ReadFile(filepath.Join(dir, rootFile))
	if err != nil {
		return "", false
	}
	resolved := strings.TrimSpace(string(content))
	if resolved == "" {
		return "", false
	}
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(dir, resolved)
	}
	return filepath.Clean(resolved), true
}
