package converter

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yuanying/cbztool/internal/task"
)

type testPage struct {
	name string
	w, h int
}

// createTestCBZ writes a comic archive holding one JPEG per page, in order.
func createTestCBZ(t *testing.T, dir string, pages ...testPage) string {
	t.Helper()
	cbzPath := filepath.Join(dir, "comic.cbz")
	f, err := os.Create(cbzPath)
	if err != nil {
		t.Fatalf("failed to create test CBZ: %v", err)
	}

	w := zip.NewWriter(f)
	for i, p := range pages {
		ew, err := w.Create(p.name)
		if err != nil {
			t.Fatalf("failed to create entry %s: %v", p.name, err)
		}
		c := color.NRGBA{R: uint8(40 * i), G: 100, B: 180, A: 255}
		ew.Write(mustEncodeJPEG(t, makeSolidNRGBA(p.w, p.h, c), 80))
	}
	w.Close()
	f.Close()

	return cbzPath
}

func addRawEntry(t *testing.T, cbzPath, name string, data []byte) {
	t.Helper()
	src, err := zip.OpenReader(cbzPath)
	if err != nil {
		t.Fatalf("zip.OpenReader() error = %v", err)
	}
	defer src.Close()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range src.File {
		if err := w.Copy(f); err != nil {
			t.Fatalf("zip Copy() error = %v", err)
		}
	}
	ew, _ := w.Create(name)
	ew.Write(data)
	w.Close()

	if err := os.WriteFile(cbzPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func countPages(t *testing.T, pdfPath string) int {
	t.Helper()
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		t.Fatalf("failed to read PDF: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatal("output is not a PDF")
	}
	return bytes.Count(data, []byte("<</Type /Page\n"))
}

var threePages = []testPage{
	{"1.jpg", 800, 1200},
	{"2.jpg", 1200, 800},
	{"3.jpg", 1000, 1000},
}

func TestPipeline_Convert_ThreePages(t *testing.T) {
	for _, strategy := range []Strategy{StrategyStreaming, StrategyStaged} {
		t.Run(string(strategy), func(t *testing.T) {
			dir := t.TempDir()
			input := createTestCBZ(t, dir, threePages...)
			output := filepath.Join(dir, "comic.pdf")

			var progress []int
			p := NewPipeline(ConvertOptions{
				InputPath:  input,
				OutputPath: output,
				Strategy:   strategy,
				TempRoot:   filepath.Join(dir, "tmp"),
				Progress:   func(n int) { progress = append(progress, n) },
			})

			res, err := p.Convert(context.Background())
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if res.Pages != 3 || res.State != task.StateCompleted {
				t.Fatalf("result = %+v", res)
			}
			if got := countPages(t, output); got != 3 {
				t.Fatalf("PDF pages = %d, want 3", got)
			}
			if len(progress) != 3 || progress[2] != 3 {
				t.Fatalf("progress = %v", progress)
			}
			for i, pi := range res.Placed {
				if pi.Number != i+1 || filepath.Base(pi.Unit) != threePages[i].name {
					t.Fatalf("page %d = %+v, want %s", i+1, pi, threePages[i].name)
				}
				// only the landscape 2.jpg is turned
				if pi.Placement.Rotate != (i == 1) {
					t.Fatalf("page %d rotated = %v", i+1, pi.Placement.Rotate)
				}
			}

			data, _ := os.ReadFile(output)
			if !bytes.Contains(data, []byte("/MediaBox [0 0 637.28 835.70]")) {
				t.Fatal("pages should use the default page size")
			}
		})
	}
}

func TestPipeline_Convert_StagedCleansUp(t *testing.T) {
	dir := t.TempDir()
	input := createTestCBZ(t, dir, threePages...)
	tmp := filepath.Join(dir, "tmp")

	st := NewStagedTask(ConvertOptions{
		InputPath:  input,
		OutputPath: filepath.Join(dir, "comic.pdf"),
		TempRoot:   tmp,
	})
	if want := filepath.Join(tmp, "comic.cbz"); st.TempDir() != want {
		t.Fatalf("TempDir() = %q, want %q", st.TempDir(), want)
	}

	if _, err := task.Run(context.Background(), st); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(st.TempDir()); !os.IsNotExist(err) {
		t.Fatalf("extraction directory should be removed, stat error = %v", err)
	}
}

func TestPipeline_Convert_CancelAfterK(t *testing.T) {
	pages := []testPage{
		{"1.jpg", 30, 40}, {"2.jpg", 30, 40}, {"3.jpg", 40, 30},
		{"4.jpg", 30, 40}, {"5.jpg", 30, 40},
	}
	const k = 2

	for _, strategy := range []Strategy{StrategyStreaming, StrategyStaged} {
		t.Run(string(strategy), func(t *testing.T) {
			dir := t.TempDir()
			input := createTestCBZ(t, dir, pages...)
			output := filepath.Join(dir, "comic.pdf")
			tmp := filepath.Join(dir, "tmp")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			p := NewPipeline(ConvertOptions{
				InputPath:  input,
				OutputPath: output,
				Strategy:   strategy,
				TempRoot:   tmp,
				Progress: func(n int) {
					if n == k {
						cancel()
					}
				},
			})

			res, err := p.Convert(ctx)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("Convert() error = %v, want context.Canceled", err)
			}
			if res.State != task.StateCanceled || res.Pages != k {
				t.Fatalf("result = %+v", res)
			}
			if got := countPages(t, output); got != k {
				t.Fatalf("PDF pages = %d, want %d", got, k)
			}

			if strategy == StrategyStaged {
				left, err := os.ReadDir(filepath.Join(tmp, "comic.cbz"))
				if err != nil {
					t.Fatalf("ReadDir() error = %v", err)
				}
				if len(left) != len(pages)-k {
					t.Fatalf("left %d extracted files, want %d", len(left), len(pages)-k)
				}
				for _, e := range left {
					if e.Name() == "1.jpg" || e.Name() == "2.jpg" {
						t.Fatalf("consumed file %s was not deleted", e.Name())
					}
				}
			}
		})
	}
}

func TestPipeline_Convert_FileNotFound(t *testing.T) {
	for _, strategy := range []Strategy{StrategyStreaming, StrategyStaged} {
		t.Run(string(strategy), func(t *testing.T) {
			dir := t.TempDir()
			outputPath := filepath.Join(dir, "output.pdf")

			p := NewPipeline(ConvertOptions{
				InputPath:  filepath.Join(dir, "nonexistent.cbz"),
				OutputPath: outputPath,
				Strategy:   strategy,
				TempRoot:   filepath.Join(dir, "tmp"),
			})

			res, err := p.Convert(context.Background())
			var initErr *task.InitializationError
			if !errors.As(err, &initErr) {
				t.Fatalf("Convert() error = %v, want InitializationError", err)
			}
			if !strings.Contains(err.Error(), "nonexistent.cbz") {
				t.Fatalf("error %q should name the archive", err)
			}
			if res.State != task.StateFailed {
				t.Fatalf("State = %v, want failed", res.State)
			}
			if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
				t.Fatal("output file should not be created when the archive is missing")
			}
		})
	}
}

func TestPipeline_Convert_OutputIsDirectory(t *testing.T) {
	for _, strategy := range []Strategy{StrategyStreaming, StrategyStaged} {
		t.Run(string(strategy), func(t *testing.T) {
			dir := t.TempDir()
			input := createTestCBZ(t, dir, threePages...)
			outDir := filepath.Join(dir, "out.pdf")
			if err := os.Mkdir(outDir, 0o755); err != nil {
				t.Fatal(err)
			}

			p := NewPipeline(ConvertOptions{
				InputPath:  input,
				OutputPath: outDir,
				Strategy:   strategy,
				TempRoot:   filepath.Join(dir, "tmp"),
			})

			_, err := p.Convert(context.Background())
			var initErr *task.InitializationError
			if !errors.As(err, &initErr) {
				t.Fatalf("Convert() error = %v, want InitializationError", err)
			}
			if initErr.Path != outDir {
				t.Fatalf("InitializationError.Path = %q, want %q", initErr.Path, outDir)
			}

			if strategy == StrategyStaged {
				if _, err := os.Stat(filepath.Join(dir, "tmp", "comic.cbz")); !os.IsNotExist(err) {
					t.Fatal("extracted files should be removed when the output cannot be created")
				}
			}
		})
	}
}

func TestPipeline_Convert_BadImageAborts(t *testing.T) {
	for _, strategy := range []Strategy{StrategyStreaming, StrategyStaged} {
		t.Run(string(strategy), func(t *testing.T) {
			dir := t.TempDir()
			input := createTestCBZ(t, dir, testPage{"1.jpg", 30, 40})
			addRawEntry(t, input, "2.jpg", []byte("garbage"))
			output := filepath.Join(dir, "comic.pdf")

			p := NewPipeline(ConvertOptions{
				InputPath:  input,
				OutputPath: output,
				Strategy:   strategy,
				TempRoot:   filepath.Join(dir, "tmp"),
			})

			res, err := p.Convert(context.Background())
			if !task.IsKind(err, task.KindBadImage) {
				t.Fatalf("Convert() error = %v, want bad image", err)
			}
			if res.State != task.StateFailed || res.Pages != 1 {
				t.Fatalf("result = %+v", res)
			}
			// the document is still closed with the pages written so far
			if got := countPages(t, output); got != 1 {
				t.Fatalf("PDF pages = %d, want 1", got)
			}
		})
	}
}

func TestParseStrategy(t *testing.T) {
	tests := map[string]Strategy{
		"":          StrategyStreaming,
		"streaming": StrategyStreaming,
		"Staged":    StrategyStaged,
	}
	for in, want := range tests {
		got, err := ParseStrategy(in)
		if err != nil || got != want {
			t.Fatalf("ParseStrategy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseStrategy("parallel"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestPipeline_Convert_DuplicateEntryNames(t *testing.T) {
	for _, strategy := range []Strategy{StrategyStreaming, StrategyStaged} {
		t.Run(string(strategy), func(t *testing.T) {
			dir := t.TempDir()
			input := createTestCBZ(t, dir,
				testPage{"p.jpg", 30, 40},
				testPage{"p.jpg", 40, 30},
			)
			output := filepath.Join(dir, "comic.pdf")

			res, err := NewPipeline(ConvertOptions{
				InputPath:  input,
				OutputPath: output,
				Strategy:   strategy,
				TempRoot:   filepath.Join(dir, "tmp"),
			}).Convert(context.Background())
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if res.State != task.StateCompleted || res.Pages != 2 {
				t.Fatalf("result = %+v", res)
			}
			if got := countPages(t, output); got != 2 {
				t.Fatalf("PDF pages = %d, want 2", got)
			}
			// the second, landscape entry must not replace the first
			if res.Placed[0].Placement.Rotate || !res.Placed[1].Placement.Rotate {
				t.Fatalf("placements = %+v", res.Placed)
			}
		})
	}
}
