package converter

import (
	"context"
	"iter"
	"log/slog"

	"github.com/yuanying/cbztool/internal/cbz"
	"github.com/yuanying/cbztool/internal/pdf"
	"github.com/yuanying/cbztool/internal/task"
)

// ImageData is one archive entry read into memory.
type ImageData struct {
	Name string
	Data []byte
}

type streamContext struct {
	archive *cbz.Reader
	doc     *pdf.Document
}

// StreamingTask converts an archive to PDF by decoding every entry straight
// from the archive, without touching the disk.
type StreamingTask struct {
	opts   ConvertOptions
	pages  *PageTransformer
	logger *slog.Logger
}

var _ task.Task[ImageData, *streamContext, PageInfo] = (*StreamingTask)(nil)

// NewStreamingTask creates a streaming conversion task.
func NewStreamingTask(opts ConvertOptions) *StreamingTask {
	opts = opts.withDefaults()
	return &StreamingTask{
		opts:   opts,
		pages:  NewPageTransformer(opts),
		logger: opts.Logger,
	}
}

// Prepare opens the archive, then creates the output document. A missing
// archive therefore fails before the output file is created.
func (t *StreamingTask) Prepare(context.Context) (*streamContext, error) {
	archive, err := cbz.Open(t.opts.InputPath, t.logger)
	if err != nil {
		return nil, &task.InitializationError{Op: "unable to open zip archive", Path: t.opts.InputPath, Err: err}
	}

	doc, err := pdf.Create(t.opts.OutputPath, t.opts.PageSize, t.opts.documentOptions())
	if err != nil {
		if cerr := archive.Close(); cerr != nil {
			t.logger.Warn("failed to close archive", "archive", t.opts.InputPath, "error", cerr)
		}
		return nil, &task.InitializationError{Op: "unable to create output", Path: t.opts.OutputPath, Err: err}
	}

	t.logger.Debug("conversion prepared", "archive", t.opts.InputPath, "entries", archive.Len(), "output", t.opts.OutputPath)
	return &streamContext{archive: archive, doc: doc}, nil
}

// Iterate reads each entry fully into memory. A failure while reading an
// entry ends the sequence with a task.KindRead error.
func (t *StreamingTask) Iterate(c *streamContext) iter.Seq2[ImageData, error] {
	return func(yield func(ImageData, error) bool) {
		for e, err := range c.archive.Entries(cbz.AcceptAll) {
			if err != nil {
				yield(ImageData{}, err)
				return
			}
			data, err := e.ReadAll()
			if err != nil {
				yield(ImageData{}, &task.ProcessError{Kind: task.KindRead, Unit: e.Name, Err: err})
				return
			}
			if !yield(ImageData{Name: e.Name, Data: data}, nil) {
				return
			}
		}
	}
}

// Process adds the image as the next page.
func (t *StreamingTask) Process(_ context.Context, unit ImageData, c *streamContext) (PageInfo, error) {
	pl, err := t.pages.Place(c.doc, unit.Name, unit.Data)
	if err != nil {
		return PageInfo{}, err
	}
	return PageInfo{Number: c.doc.Pages(), Unit: unit.Name, Placement: pl}, nil
}

// Finalize writes and closes the document, then closes the archive. Only
// the document error is returned.
func (t *StreamingTask) Finalize(c *streamContext) error {
	err := c.doc.Close()
	if cerr := c.archive.Close(); cerr != nil {
		t.logger.Warn("failed to close archive", "archive", t.opts.InputPath, "error", cerr)
	}
	return err
}
