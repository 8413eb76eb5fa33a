package resource

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"inkforge.dev/internal/persistence/indexdb"
	"inkforge.dev/internal/story/compiler"
	"inkforge.dev/internal/story/diag"
	"inkforge.dev/internal/story/parser"
)

// ErrorSurface is where the host shows compiler diagnostics.
type ErrorSurface interface {
	PushWarning(msg string)
	PushError(msg string)
}

// LogSurface reports diagnostics on a logger.
type LogSurface struct{ Logger *log.Logger }

func (s LogSurface) PushWarning(msg string) { s.Logger.Printf("warning: %s", msg) }
func (s LogSurface) PushError(msg string)   { s.Logger.Printf("error: %s", msg) }

// StoryIndex records imported stories.
type StoryIndex interface {
	UpsertStory(ctx context.Context, r indexdb.StoryRow) error
}

type Options struct {
	// MasterFile marks the file that is compiled. Other files are pulled in
	// through INCLUDE and import as placeholders.
	MasterFile bool
	Compress   bool
}

// DefaultOptions are the import options a new source file starts with.
func DefaultOptions() Options { return Options{MasterFile: false, Compress: true} }

type Importer struct {
	Surface         ErrorSurface
	Index           StoryIndex
	MaxIncludeDepth int
}

// Import compiles sourcePath into savePath + ".res".
func (im *Importer) Import(ctx context.Context, sourcePath, savePath string, opts Options) error {
	dest := savePath + "." + SaveExtension
	name := StoryName(sourcePath)
	if !opts.MasterFile {
		return Write(dest, name, nil, false)
	}

	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return err
	}
	s, diags, err := compiler.Compile(sourcePath, string(src), compiler.Options{
		Include:         DirInclude(filepath.Dir(sourcePath)),
		MaxIncludeDepth: im.MaxIncludeDepth,
	})
	im.forward(diags)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCompilationFailed, sourcePath, err)
	}
	if err := Write(dest, name, s, opts.Compress); err != nil {
		return err
	}
	if im.Index != nil {
		if err := im.Index.UpsertStory(ctx, indexdb.StoryRow{
			Digest:     s.Digest(),
			Name:       name,
			SourcePath: sourcePath,
			GraphPath:  dest,
			Warnings:   diags.Count(diag.Warning),
		}); err != nil {
			return fmt.Errorf("index story: %w", err)
		}
	}
	return nil
}

func (im *Importer) forward(diags diag.List) {
	if im.Surface == nil {
		return
	}
	for _, d := range diags.Items() {
		switch d.Severity {
		case diag.Warning:
			im.Surface.PushWarning(d.String())
		case diag.Error:
			im.Surface.PushError(d.String())
		}
	}
}

// DirInclude resolves INCLUDE names relative to dir.
func DirInclude(dir string) parser.IncludeFunc {
	return func(name string) (string, error) {
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, name)
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// StoryName is the file name of a source without its extension.
func StoryName(sourcePath string) string {
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
