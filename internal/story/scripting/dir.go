package scripting

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"inkforge.dev/internal/story/runtime"
)

// DirBinder binds <dir>/<story>.js, when present, to each new engine. Every
// engine gets its own VM so script globals are not shared between players.
func DirBinder(dir string, logger *log.Logger) func(story string, eng *runtime.Engine) error {
	return func(story string, eng *runtime.Engine) error {
		path := filepath.Join(dir, story+".js")
		src, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		h, err := Load(string(src), filepath.Base(path), DefaultTimeout, logger)
		if err != nil {
			return err
		}
		_, err = h.Bind(eng)
		return err
	}
}
