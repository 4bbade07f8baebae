// Package archive produces the source archives uploaded to the build service
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultArchive is where a prepared source archive is looked up under the
// application root when a request names none
const DefaultArchive = ".build/source.zip"

// ErrNoArchive is returned when no prepared archive exists for a request
var ErrNoArchive = errors.New("no source archive prepared")

// Request describes the application to archive
type Request struct {
	BuildID          string
	AppRoot          string
	ToolkitRootPath  string
	ToolkitsCacheDir string
	FQN              string
	MakefilePath     string
	// SourceArchive names a prepared archive; relative paths resolve against AppRoot
	SourceArchive string
}

// Builder creates a source archive and returns its path. The caller removes
// the file once uploaded.
type Builder interface {
	BuildSourceArchive(ctx context.Context, req Request) (string, error)
}

// Prepared copies an archive prepared by the caller's tooling into a
// temporary file
type Prepared struct {
	TempDir string
}

func (p Prepared) BuildSourceArchive(ctx context.Context, req Request) (string, error) {
	src := req.SourceArchive
	if src == "" {
		src = DefaultArchive
	}
	if !filepath.IsAbs(src) {
		src = filepath.Join(req.AppRoot, src)
	}

	zr, err := zip.OpenReader(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNoArchive, src)
		}
		return "", fmt.Errorf("open source archive: %w", err)
	}
	zr.Close()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source archive: %w", err)
	}
	defer in.Close()

	out, err := os.CreateTemp(p.TempDir, "build-"+req.BuildID+"-*.zip")
	if err != nil {
		return "", fmt.Errorf("create temp archive: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("copy source archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("close temp archive: %w", err)
	}
	return out.Name(), nil
}
