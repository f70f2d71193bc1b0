package converter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuanying/cbztool/internal/pdf"
	"github.com/yuanying/cbztool/internal/task"
)

// Strategy selects how archive entries reach the page transform.
type Strategy string

const (
	// StrategyStreaming decodes entries straight from the archive.
	StrategyStreaming Strategy = "streaming"
	// StrategyStaged extracts entries to a temporary directory first.
	StrategyStaged Strategy = "staged"
)

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyStreaming:
		return StrategyStreaming, nil
	case StrategyStaged:
		return StrategyStaged, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want streaming or staged)", s)
	}
}

// ConvertOptions holds options for the conversion pipeline.
type ConvertOptions struct {
	InputPath   string
	OutputPath  string
	PageSize    pdf.PageSize
	Strategy    Strategy
	TempRoot    string // parent of the staged extraction directory; os.TempDir() when empty
	JPEGQuality int
	Creator     string
	Logger      *slog.Logger
	Progress    task.ProgressFunc
}

func (o ConvertOptions) withDefaults() ConvertOptions {
	if o.PageSize.Width <= 0 || o.PageSize.Height <= 0 {
		o.PageSize = pdf.DefaultPageSize()
	}
	if o.Strategy == "" {
		o.Strategy = StrategyStreaming
	}
	if o.TempRoot == "" {
		o.TempRoot = os.TempDir()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o ConvertOptions) documentOptions() pdf.Options {
	base := filepath.Base(o.InputPath)
	return pdf.Options{
		Title:   strings.TrimSuffix(base, filepath.Ext(base)),
		Creator: o.Creator,
	}
}

// PageInfo describes one written page. Unit is the entry name for the
// streaming strategy and the extracted file path for the staged one.
type PageInfo struct {
	Number    int
	Unit      string
	Placement Placement
}

// Result describes a finished conversion.
type Result struct {
	OutputPath string
	Pages      int
	Placed     []PageInfo // in page order
	State      task.State
}

// Pipeline orchestrates the archive to PDF conversion.
type Pipeline struct {
	Options ConvertOptions
}

// NewPipeline creates a new conversion pipeline.
func NewPipeline(opts ConvertOptions) *Pipeline {
	return &Pipeline{Options: opts.withDefaults()}
}

// Convert runs the conversion with the configured strategy. Cancellation of
// ctx stops the run between pages; the document written so far is still
// closed and the returned error wraps ctx.Err().
func (p *Pipeline) Convert(ctx context.Context) (Result, error) {
	opts := p.Options
	runOpts := []task.Option{
		task.WithLogger(opts.Logger),
		task.WithName("cbz2pdf"),
		task.WithProgress(opts.Progress),
	}

	var (
		rep task.Report[PageInfo]
		err error
	)
	switch opts.Strategy {
	case StrategyStreaming:
		rep, err = task.Run(ctx, NewStreamingTask(opts), runOpts...)
	case StrategyStaged:
		rep, err = task.Run(ctx, NewStagedTask(opts), runOpts...)
	default:
		return Result{State: task.StateFailed}, fmt.Errorf("unknown strategy %q", opts.Strategy)
	}

	res := Result{
		OutputPath: opts.OutputPath,
		Pages:      rep.Processed,
		Placed:     rep.Results,
		State:      rep.State,
	}
	if err != nil {
		return res, fmt.Errorf("conversion %s: %w", rep.State, err)
	}

	opts.Logger.Debug("created pdf", "output", opts.OutputPath, "pages", res.Pages)
	return res, nil
}
