// Package workspace manages the scratch directory owned by a single
// conversion run.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Workspace is a per-run working area. Everything inside it is removed by
// Close; nothing in it outlives the run.
type Workspace struct {
	dir   string
	runID string
}

// New creates a fresh working area under parent (the system temp dir when
// parent is empty). The working directory is always absolute.
func New(parent string) (*Workspace, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	parent, err := filepath.Abs(parent)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", parent, err)
	}
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", parent, err)
	}

	runID := uuid.NewString()
	dir, err := os.MkdirTemp(parent, "myriad-export-"+runID[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}

	return &Workspace{
		dir:   dir,
		runID: runID,
	}, nil
}

// Dir returns the working directory
func (w *Workspace) Dir() string {
	return w.dir
}

// RunID identifies the run in logs
func (w *Workspace) RunID() string {
	return w.runID
}

// Path returns the path of a file inside the working area
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// ExportedGraphPath is where the exporter writes the raw ONNX graph
func (w *Workspace) ExportedGraphPath(model string) string {
	return w.Path(model + ".exported.onnx")
}

// GraphPath is where the simplified ONNX graph lives. The optimizer names
// its IR after this file, as <model>.xml in the same directory.
func (w *Workspace) GraphPath(model string) string {
	return w.Path(model + ".onnx")
}

// BlobPath is the staging location the compiler writes to
func (w *Workspace) BlobPath(model string) string {
	return w.Path(model + ".blob")
}

// WriteFile writes data to name inside the working area and returns its path
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	path := w.Path(name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return path, nil
}

// Usage returns the bytes currently held by the working area
func (w *Workspace) Usage() int64 {
	return getDirSize(w.dir)
}

// Close removes the working area and everything in it
func (w *Workspace) Close() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to remove working directory %s: %w", w.dir, err)
	}
	return nil
}

// Artifact describes a file published out of the working area
type Artifact struct {
	Path   string
	Size   int64
	SHA256 string
}

// Publish copies src to dst. The copy goes to a temporary file next to dst
// and is renamed into place, so dst is either absent, untouched, or complete.
func (w *Workspace) Publish(src, dst string) (*Artifact, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	dstDir := filepath.Dir(dst)
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dstDir, err)
	}

	tmp, err := os.CreateTemp(dstDir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary output: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), in)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return nil, fmt.Errorf("failed to set permissions on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return nil, fmt.Errorf("failed to move blob to %s: %w", dst, err)
	}
	committed = true

	return &Artifact{
		Path:   dst,
		Size:   size,
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) int64 {
	var size int64

	filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})

	return size
}
