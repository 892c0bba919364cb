package docs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/tandem/internal/config"
	"github.com/hpungsan/tandem/internal/errors"
)

// pathMode says whether an archive path is about to be read or written.
type pathMode int

const (
	pathRead pathMode = iota
	pathWrite
)

// validatePath checks an export or import path. The file must be a .jsonl
// file with no ".." components, directly inside ~/.tandem/exports or one of
// cfg.AllowedPaths, and not a symlink. AllowUnsafePaths lifts only the
// directory rule.
//
// Files must sit directly in an allowed directory so that no intermediate
// directory can be swapped for a symlink between this check and the open,
// which uses O_NOFOLLOW for the final component.
func validatePath(path string, mode pathMode, cfg *config.Config) error {
	if path == "" {
		return errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	if filepath.Ext(cleaned) != ".jsonl" {
		return errors.NewInvalidRequest("path must have .jsonl extension")
	}
	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	if cfg == nil || !cfg.AllowUnsafePaths {
		allowed, err := allowedDirs(cfg)
		if err != nil {
			return err
		}
		parent := filepath.Dir(absPath)
		if !directlyIn(parent, allowed) {
			return errors.NewInvalidRequest(fmt.Sprintf(
				"file must be directly in an allowed directory (no subdirectories); allowed: %v", allowed))
		}
		if info, err := os.Lstat(parent); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return errors.NewInvalidRequest("parent directory must not be a symlink")
		}
	}

	if mode == pathRead {
		if _, err := os.Stat(absPath); os.IsNotExist(err) {
			return errors.NewFileNotFound(path)
		}
	}
	if info, err := os.Lstat(absPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}
	return nil
}

// DefaultExportsDir returns ~/.tandem/exports.
func DefaultExportsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to get home directory: %w", err))
	}
	return filepath.Join(homeDir, ".tandem", "exports"), nil
}

// allowedDirs returns the default exports directory plus the absolute
// configured paths, with symlinked entries resolved.
func allowedDirs(cfg *config.Config) ([]string, error) {
	def, err := DefaultExportsDir()
	if err != nil {
		return nil, err
	}
	dirs := []string{def}
	if cfg != nil {
		for _, p := range cfg.AllowedPaths {
			if filepath.IsAbs(p) {
				dirs = append(dirs, filepath.Clean(p))
			}
		}
	}

	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid allowed path: %v", err))
		}
		if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(abs)
			if err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
			abs = resolved
		}
		out = append(out, abs)
	}
	return out, nil
}

func directlyIn(parent string, dirs []string) bool {
	parent = filepath.Clean(parent)
	for _, d := range dirs {
		if parent == filepath.Clean(d) {
			return true
		}
	}
	return false
}

func containsTraversal(path string) bool {
	for _, part := range strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == filepath.Separator
	}) {
		if part == ".." {
			return true
		}
	}
	return false
}
