package converter

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/yuanying/cbztool/internal/pdf"
	"github.com/yuanying/cbztool/internal/task"
	"github.com/yuanying/cbztool/internal/unzip"
)

type stagedContext struct {
	dir   string
	paths []string
	doc   *pdf.Document
}

// StagedTask converts an archive to PDF by first extracting every entry to
// a temporary directory and then placing the files one by one, deleting each
// file once its page is written.
//
// Files of units that are never processed, because the run was canceled or
// failed, stay in the temporary directory.
type StagedTask struct {
	opts   ConvertOptions
	pages  *PageTransformer
	logger *slog.Logger
}

var _ task.Task[string, *stagedContext, PageInfo] = (*StagedTask)(nil)

// NewStagedTask creates a staged conversion task.
func NewStagedTask(opts ConvertOptions) *StagedTask {
	opts = opts.withDefaults()
	return &StagedTask{
		opts:   opts,
		pages:  NewPageTransformer(opts),
		logger: opts.Logger,
	}
}

// TempDir returns the extraction directory, named after the archive.
func (t *StagedTask) TempDir() string {
	return filepath.Join(t.opts.TempRoot, filepath.Base(t.opts.InputPath))
}

// Prepare extracts the archive by running an unzip task to completion, then
// creates the output document.
func (t *StagedTask) Prepare(ctx context.Context) (*stagedContext, error) {
	dir := t.TempDir()
	extract := unzip.New(t.opts.InputPath, unzip.All(dir), t.logger)

	rep, err := task.Run(ctx, extract, task.WithLogger(t.logger), task.WithName("unzip"))
	if err != nil {
		removePaths(rep.Results, t.logger)
		pruneEmptyDirs(dir)
		var initErr *task.InitializationError
		if errors.As(err, &initErr) {
			return nil, err
		}
		return nil, &task.InitializationError{Op: "unable to extract archive", Path: t.opts.InputPath, Err: err}
	}

	doc, err := pdf.Create(t.opts.OutputPath, t.opts.PageSize, t.opts.documentOptions())
	if err != nil {
		removePaths(rep.Results, t.logger)
		pruneEmptyDirs(dir)
		return nil, &task.InitializationError{Op: "unable to create output", Path: t.opts.OutputPath, Err: err}
	}

	t.logger.Debug("conversion prepared", "archive", t.opts.InputPath, "extracted", len(rep.Results), "dir", dir, "output", t.opts.OutputPath)
	return &stagedContext{dir: dir, paths: rep.Results, doc: doc}, nil
}

// Iterate yields the extracted files in archive order.
func (t *StagedTask) Iterate(c *stagedContext) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, p := range c.paths {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// Process adds the file as the next page and deletes it. A failed delete is
// logged only.
func (t *StagedTask) Process(_ context.Context, path string, c *stagedContext) (PageInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PageInfo{}, &task.ProcessError{Kind: task.KindRead, Unit: path, Err: err}
	}
	pl, err := t.pages.Place(c.doc, path, data)
	if err != nil {
		return PageInfo{}, err
	}
	if err := os.Remove(path); err != nil {
		t.logger.Warn("failed to delete extracted file", "path", path, "error", err)
	}
	return PageInfo{Number: c.doc.Pages(), Unit: path, Placement: pl}, nil
}

// Finalize writes and closes the document and removes the extraction
// directory if nothing is left in it.
func (t *StagedTask) Finalize(c *stagedContext) error {
	err := c.doc.Close()
	pruneEmptyDirs(c.dir)
	return err
}

func removePaths(paths []string, logger *slog.Logger) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to delete extracted file", "path", p, "error", err)
		}
	}
}

// pruneEmptyDirs removes dir and its subdirectories, deepest first, as long
// as they are empty. Directories that still hold files are kept.
func pruneEmptyDirs(dir string) {
	var dirs []string
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	slices.Reverse(dirs)
	for _, d := range dirs {
		os.Remove(d)
	}
}
