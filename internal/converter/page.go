package converter

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/yuanying/cbztool/internal/pdf"
	"github.com/yuanying/cbztool/internal/task"
)

const (
	defaultJPEGQuality = 90
	defaultMaxPixels   = 100 * 1000 * 1000 // 100 megapixels
)

var errEmptyImage = errors.New("image has no pixels")

// Placement is where an image lands on a page.
type Placement struct {
	// Rotate is set for landscape images, which are turned 90 degrees
	// counter-clockwise before placement.
	Rotate bool
	Rect   pdf.Rect
}

// Fit scales an image of width x height pixels to fit entirely inside page,
// keeping its aspect ratio. Landscape images are rotated first. The result
// is centered horizontally and aligned to the top of the page.
func Fit(width, height int, page pdf.PageSize) Placement {
	w, h := float64(width), float64(height)
	rotate := width > height
	if rotate {
		w, h = h, w
	}

	scale := math.Min(page.Width/w, page.Height/h)
	pw, ph := w*scale, h*scale

	return Placement{
		Rotate: rotate,
		Rect: pdf.Rect{
			X: (page.Width - pw) / 2,
			Y: 0,
			W: pw,
			H: ph,
		},
	}
}

// PageTransformer turns one image into one document page.
type PageTransformer struct {
	JPEGQuality int
	MaxPixels   int // Total pixel count limit for decode (width * height)
	logger      *slog.Logger
}

// NewPageTransformer creates a transformer with defaults for unset options.
func NewPageTransformer(opts ConvertOptions) *PageTransformer {
	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = defaultJPEGQuality
	}
	if quality > 100 {
		quality = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PageTransformer{
		JPEGQuality: quality,
		MaxPixels:   defaultMaxPixels,
		logger:      logger,
	}
}

// Place decodes data, orients and fits it to the document's page size and
// appends it as a new page. name identifies the unit in errors.
//
// Decode failures are reported as task.KindBadImage, encode failures as
// task.KindEncode and document failures as task.KindWrite. On error no page
// is added.
func (p *PageTransformer) Place(doc *pdf.Document, name string, data []byte) (Placement, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Placement{}, &task.ProcessError{Kind: task.KindBadImage, Unit: name, Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Placement{}, &task.ProcessError{Kind: task.KindBadImage, Unit: name, Err: errEmptyImage}
	}
	pixels := uint64(cfg.Width) * uint64(cfg.Height)
	if p.MaxPixels > 0 && pixels > uint64(p.MaxPixels) {
		err := fmt.Errorf("image too large to decode: %dx%d (%d pixels)", cfg.Width, cfg.Height, pixels)
		return Placement{}, &task.ProcessError{Kind: task.KindBadImage, Unit: name, Err: err}
	}

	placement := Fit(cfg.Width, cfg.Height, doc.PageSize())

	// a full decode catches truncated bodies behind a valid header
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Placement{}, &task.ProcessError{Kind: task.KindBadImage, Unit: name, Err: err}
	}

	pageData := data
	if format != "jpeg" || placement.Rotate {
		pageData, err = p.encode(src, placement.Rotate)
		if err != nil {
			return Placement{}, &task.ProcessError{Kind: task.KindEncode, Unit: name, Err: err}
		}
	}

	if err := doc.AddImagePage(pageData, placement.Rect); err != nil {
		return Placement{}, &task.ProcessError{Kind: task.KindWrite, Unit: name, Err: err}
	}

	p.logger.Debug("added page",
		"unit", name,
		"page", doc.Pages(),
		"format", format,
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"rotated", placement.Rotate,
	)
	return placement, nil
}

// encode rotates src if asked, flattens transparency onto white and encodes
// the result as JPEG.
func (p *PageTransformer) encode(src image.Image, rotate bool) ([]byte, error) {
	img := src
	if rotate {
		img = imaging.Rotate90(img)
	}
	if hasAlpha(img) {
		b := img.Bounds()
		bg := imaging.New(b.Dx(), b.Dy(), color.White)
		img = imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a < 0xFFFF {
				return true
			}
		}
	}
	return false
}
