// Package unzip extracts the entries of an archive into a directory.
package unzip

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuanying/cbztool/internal/cbz"
	"github.com/yuanying/cbztool/internal/task"
)

const bufferSize = 2048

var (
	errUnsafePath      = errors.New("entry path escapes the output directory")
	errDuplicateTarget = errors.New("target already extracted")
)

// Task extracts every accepted entry of an archive to OutputConfig.Dir and
// yields the absolute path of each extracted file. Extracted files are left
// for the caller to consume.
//
//	t := unzip.New("comic.cbz", unzip.All("pages/"), logger)
//	rep, err := task.Run(ctx, t)
//	// rep.Results holds the extracted paths in archive order
type Task struct {
	archivePath string
	output      OutputConfig
	logger      *slog.Logger

	// targets written during the current run, and the number of entries seen
	written map[string]bool
	seq     int
}

var _ task.Task[*cbz.Entry, *cbz.Reader, string] = (*Task)(nil)

// New creates an extraction task for the archive at archivePath.
func New(archivePath string, output OutputConfig, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	return &Task{
		archivePath: archivePath,
		output:      output,
		logger:      logger,
	}
}

// Prepare readies the output directory and opens the archive.
func (t *Task) Prepare(context.Context) (*cbz.Reader, error) {
	t.written = make(map[string]bool)
	t.seq = 0
	if err := t.output.Prepare(t.logger); err != nil {
		return nil, &task.InitializationError{Op: "prepare extraction directory", Path: t.output.Dir, Err: err}
	}
	r, err := cbz.Open(t.archivePath, t.logger)
	if err != nil {
		return nil, &task.InitializationError{Op: "open archive", Path: t.archivePath, Err: err}
	}
	return r, nil
}

// Iterate yields the entries accepted by the output config.
func (t *Task) Iterate(r *cbz.Reader) iter.Seq2[*cbz.Entry, error] {
	return r.Entries(t.output)
}

// Process writes the entry to the output directory and returns the
// absolute path of the new file.
//
// An entry whose name was already extracted in this run is written as
// "<seq>-<base>" next to the first one, where seq is the entry's position
// in storage order, so no two units share a path.
func (t *Task) Process(_ context.Context, e *cbz.Entry, _ *cbz.Reader) (string, error) {
	t.seq++
	target, err := t.targetPath(e.Name)
	if err != nil {
		return "", &task.ProcessError{Kind: task.KindUnsafePath, Unit: e.Name, Err: err}
	}
	if t.written[target] {
		renamed := filepath.Join(filepath.Dir(target), fmt.Sprintf("%04d-%s", t.seq, filepath.Base(target)))
		if t.written[renamed] {
			return "", &task.ProcessError{Kind: task.KindWrite, Unit: e.Name, Err: fmt.Errorf("%w: %s", errDuplicateTarget, renamed)}
		}
		t.logger.Warn("duplicate entry name", "entry", e.Name, "path", renamed)
		target = renamed
	}
	t.logger.Debug("extracting", "entry", e.Name, "dir", t.output.Dir)

	if err := extract(e, target); err != nil {
		kind := task.KindWrite
		var ioErr *cbz.IOError
		if errors.As(err, &ioErr) {
			kind = task.KindRead
		}
		return "", &task.ProcessError{Kind: kind, Unit: e.Name, Err: err}
	}
	t.written[target] = true
	return target, nil
}

// Finalize closes the archive. A close failure is logged only.
func (t *Task) Finalize(r *cbz.Reader) error {
	if err := r.Close(); err != nil {
		t.logger.Error("unable to close archive", "archive", t.archivePath, "error", err)
	}
	return nil
}

// targetPath resolves name inside the output directory and rejects names
// that would land outside of it.
func (t *Task) targetPath(name string) (string, error) {
	dir, err := filepath.Abs(t.output.Dir)
	if err != nil {
		return "", err
	}
	target := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return "", err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errUnsafePath, name)
	}
	return target, nil
}

func extract(e *cbz.Entry, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	w := bufio.NewWriterSize(f, bufferSize)
	if _, err := e.WriteTo(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush %s: %w", target, err)
	}
	return f.Close()
}
