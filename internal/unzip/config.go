package unzip

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/yuanying/cbztool/internal/cbz"
	"github.com/yuanying/cbztool/internal/task"
)

// OutputConfig is the directory entries are extracted to and the filter
// selecting which entries get there.
type OutputConfig struct {
	Dir    string
	Filter cbz.Filter
}

// All returns a config extracting every entry to dir.
func All(dir string) OutputConfig {
	return OutputConfig{Dir: dir, Filter: cbz.AcceptAll}
}

// Accept reports whether the entry named name is extracted.
func (c OutputConfig) Accept(name string) bool {
	if c.Filter == nil {
		return true
	}
	return c.Filter.Accept(name)
}

// Prepare makes sure Dir exists and is a directory, creating it if absent.
func (c OutputConfig) Prepare(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := os.Stat(c.Dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return &task.ConfigError{Path: c.Dir, Err: task.ErrNotDirectory}
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(c.Dir, 0o755); err != nil {
			return &task.ConfigError{Path: c.Dir, Err: fmt.Errorf("failed to create directory: %w", err)}
		}
	default:
		return &task.ConfigError{Path: c.Dir, Err: err}
	}

	logger.Info("prepared path", "path", c.Dir)
	return nil
}
