// Package artifact finds the replay file OBS most recently wrote.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onnwee/obs-relay/fault"
)

// DefaultExtensions are the container formats OBS can write replays in.
var DefaultExtensions = []string{".mp4", ".mkv", ".flv", ".mov"}

// Artifact is one candidate replay file.
type Artifact struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// LocateLatest returns the most recently modified regular file directly
// inside dir whose extension matches exts (case-insensitive). Ties on
// modification time go to the lexicographically greatest path. An empty
// exts matches nothing.
func LocateLatest(dir string, exts []string) (Artifact, error) {
	const op = "artifact.locate"
	if dir == "" {
		return Artifact{}, fault.Newf(fault.InvalidInput, op, "replay directory not configured")
	}
	if len(exts) == 0 {
		return Artifact{}, fault.Newf(fault.NoneFound, op, "no replay extensions configured")
	}
	// missing, unreadable or not a directory: nothing can be located
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Artifact{}, fault.New(fault.NoneFound, op, err)
	}

	var best Artifact
	found := false
	for _, e := range entries {
		if !e.Type().IsRegular() || !matchExt(e.Name(), exts) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed between ReadDir and Info
		}
		cand := Artifact{Path: filepath.Join(dir, e.Name()), Size: info.Size(), ModTime: info.ModTime()}
		if !found || newer(cand, best) {
			best, found = cand, true
		}
	}
	if !found {
		return Artifact{}, fault.New(fault.NoneFound, op, fmt.Errorf("no replay files in %s", dir))
	}
	return best, nil
}

func newer(a, b Artifact) bool {
	if a.ModTime.Equal(b.ModTime) {
		return a.Path > b.Path
	}
	return a.ModTime.After(b.ModTime)
}

func matchExt(name string, exts []string) bool {
	ext := filepath.Ext(name)
	for _, want := range exts {
		if !strings.HasPrefix(want, ".") {
			want = "." + want
		}
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// Remove deletes a local artifact. A file that is already gone is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// ParseExtensions splits a comma-separated extension list.
func ParseExtensions(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, ".") {
			p = "." + p
		}
		out = append(out, strings.ToLower(p))
	}
	if len(out) == 0 {
		return DefaultExtensions
	}
	return out
}
