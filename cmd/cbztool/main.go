package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yuanying/cbztool/internal/config"
	"github.com/yuanying/cbztool/internal/converter"
	"github.com/yuanying/cbztool/internal/pdf"
	"github.com/yuanying/cbztool/internal/task"
	"github.com/yuanying/cbztool/internal/unzip"
)

const creator = "cbztool"

// commands is the table of subcommands registered on the root command.
var commands = []func() *cobra.Command{
	newCbzToPdfCmd,
	newUnzipCmd,
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cbztool",
		Short: "Tools for comic book archives",
		Long: `cbztool works with comic book archives (CBZ), zip files holding one
image per page.

Use "cbztool cbz2pdf <archiveFile> <pdfFile>" to turn an archive into a PDF
with one page per image.`,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "Config file (TOML)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "text", "Log format: text or json")
	pf.BoolP("verbose", "v", false, "Enable debug logging (overrides --log-level)")

	for _, newCmd := range commands {
		cmd.AddCommand(newCmd())
	}
	return cmd
}

func newCbzToPdfCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cbz2pdf <archiveFile> <pdfFile>",
		Aliases: []string{"cbzToPdf"},
		Short:   "Convert a CBZ archive to a PDF file",
		Long: `Convert a comic book archive to PDF. Every entry becomes one page, in
archive order. Landscape images are rotated to fill the portrait page.`,
		Args: cobra.ExactArgs(2),
		RunE: runCbzToPdf,
	}

	f := cmd.Flags()
	f.Float64("page-width", pdf.DefaultPageWidth, "Page width in points")
	f.Float64("page-height", pdf.DefaultPageHeight, "Page height in points")
	f.String("strategy", string(converter.StrategyStreaming), "Extraction strategy: streaming (in memory) or staged (temporary files)")
	f.String("temp-dir", "", "Parent directory for staged extraction (default: system temp dir)")
	f.Int("quality", 90, "JPEG quality for re-encoded pages (1-100)")
	f.Bool("no-progress", false, "Do not show a progress bar")
	return cmd
}

func newUnzipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unzip <archiveFile> <directory>",
		Short: "Extract every entry of an archive into a directory",
		Args:  cobra.ExactArgs(2),
		RunE:  runUnzip,
	}
}

// cliOptions is what a subcommand needs after flags, env and config file
// have been merged.
type cliOptions struct {
	InputPath  string
	OutputPath string
	Config     *config.Config
	Logger     *slog.Logger
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"page-width":  "page.width",
	"page-height": "page.height",
	"strategy":    "strategy",
	"temp-dir":    "temp_dir",
	"quality":     "quality",
	"log-level":   "log.level",
	"log-format":  "log.format",
	"verbose":     "verbose",
}

func readCLIOptions(cmd *cobra.Command, args []string) (cliOptions, error) {
	v := config.New()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := config.ReadFile(v, path); err != nil {
			return cliOptions{}, err
		}
	}
	if err := bindFlags(v, cmd); err != nil {
		return cliOptions{}, err
	}
	if noProgress, _ := cmd.Flags().GetBool("no-progress"); noProgress {
		v.Set("progress", false)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return cliOptions{}, err
	}

	opts := cliOptions{
		Config: cfg,
		Logger: buildLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format),
	}
	if len(args) > 0 {
		opts.InputPath = args[0]
	}
	if len(args) > 1 {
		opts.OutputPath = args[1]
	}
	return opts, nil
}

// bindFlags lets flags given on the command line override the config file
// and environment. Flags the command does not define are skipped.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		fl := cmd.Flags().Lookup(name)
		if fl == nil {
			continue
		}
		if err := v.BindPFlag(key, fl); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

func buildLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// checkPaths validates the archive and output paths before any work starts.
func checkPaths(input, output string) error {
	info, err := os.Stat(input)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("CBZ file not found: %s", input)
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return fmt.Errorf("not a valid pdf output file: %s", output)
	}
	return nil
}

func runCbzToPdf(cmd *cobra.Command, args []string) error {
	opts, err := readCLIOptions(cmd, args)
	if err != nil {
		return err
	}
	if err := checkPaths(opts.InputPath, opts.OutputPath); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	strategy, err := converter.ParseStrategy(opts.Config.Strategy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	convertOpts := converter.ConvertOptions{
		InputPath:   opts.InputPath,
		OutputPath:  opts.OutputPath,
		PageSize:    pdf.PageSize{Width: opts.Config.Page.Width, Height: opts.Config.Page.Height},
		Strategy:    strategy,
		TempRoot:    opts.Config.TempDir,
		JPEGQuality: opts.Config.Quality,
		Creator:     creator,
		Logger:      opts.Logger,
	}

	var bar *progressbar.ProgressBar
	if opts.Config.Progress {
		bar = newProgressBar(cmd.ErrOrStderr(), filepath.Base(opts.InputPath))
		convertOpts.Progress = func(n int) { _ = bar.Set(n) }
	}

	opts.Logger.Info("converting", "input", opts.InputPath, "output", opts.OutputPath, "strategy", strategy)
	res, err := converter.NewPipeline(convertOpts).Convert(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	opts.Logger.Info("done", "output", res.OutputPath, "pages", res.Pages)
	return nil
}

func runUnzip(cmd *cobra.Command, args []string) error {
	opts, err := readCLIOptions(cmd, args)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := unzip.New(opts.InputPath, unzip.All(opts.OutputPath), opts.Logger)
	rep, err := task.Run(ctx, t, task.WithLogger(opts.Logger), task.WithName("unzip"))
	for _, p := range rep.Results {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	if err != nil {
		return fmt.Errorf("unzip failed: %w", err)
	}
	return nil
}

func newProgressBar(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
	)
}

func main() {
	cmd := newRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
