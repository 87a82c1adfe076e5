package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// maxRootDepth bounds the upward search for the root marker.
const maxRootDepth = 10

var getwdFn = os.Getwd

// WorkerDir returns the directory the worker runs in. Without a root marker
// it is worker.dir as configured (possibly empty, meaning the host's cwd).
// With one, the search starts at worker.dir (or the cwd) and stops at the
// first ancestor holding the marker; if none does, the start is used.
func (w WorkerConfig) WorkerDir() (string, error) {
	if w.RootMarker == "" {
		return w.Dir, nil
	}

	start := w.Dir
	if start == "" {
		wd, err := getwdFn()
		if err != nil {
			return "", fmt.Errorf("resolving working directory: %w", err)
		}
		start = wd
	}
	start, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", start, err)
	}

	if root, ok := findRoot(start, w.RootMarker, w.RootMarkerContains); ok {
		return root, nil
	}
	return start, nil
}

func findRoot(start, marker, contains string) (string, bool) {
	dir := start
	for i := 0; i < maxRootDepth; i++ {
		if hasMarker(filepath.Join(dir, marker), contains) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func hasMarker(path, contains string) bool {
	if contains == "" {
		_, err := os.Stat(path)
		return err == nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte(contains))
}
