// Package pdf writes image-per-page PDF documents.
package pdf

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/go-pdf/fpdf"
)

// Default page rectangle in points.
const (
	DefaultPageWidth  = 637.28
	DefaultPageHeight = 835.7
)

var (
	ErrClosed       = errors.New("document is closed")
	ErrInvalidSize  = errors.New("page size must be positive")
	ErrInvalidImage = errors.New("image data is empty")
)

// PageSize is a page rectangle in points.
type PageSize struct {
	Width  float64
	Height float64
}

// DefaultPageSize returns the default comic page rectangle.
func DefaultPageSize() PageSize {
	return PageSize{Width: DefaultPageWidth, Height: DefaultPageHeight}
}

// Rect is a rectangle on a page in points, origin at the top-left corner.
type Rect struct {
	X, Y, W, H float64
}

// Options holds document metadata.
type Options struct {
	Title   string
	Creator string
}

// Document is an open PDF being written to a file. Pages are appended in
// order and the file is serialized by Close.
type Document struct {
	path   string
	size   PageSize
	file   *os.File
	pdf    *fpdf.Fpdf
	pages  int
	closed bool
}

// Create creates the output file at path and an empty document with the
// given page size, zero margins and no automatic page breaks.
func Create(path string, size PageSize, opts Options) (*Document, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("%w: %.2fx%.2f", ErrInvalidSize, size.Width, size.Height)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	doc := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: size.Width, Ht: size.Height},
	})
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)
	if opts.Title != "" {
		doc.SetTitle(opts.Title, true)
	}
	if opts.Creator != "" {
		doc.SetCreator(opts.Creator, true)
	}

	return &Document{
		path: path,
		size: size,
		file: f,
		pdf:  doc,
	}, nil
}

// PageSize returns the page rectangle.
func (d *Document) PageSize() PageSize {
	return d.size
}

// Pages returns the number of pages appended so far.
func (d *Document) Pages() int {
	return d.pages
}

// AddImagePage appends a new page holding the JPEG image jpeg placed at r.
// The image is registered before the page is created, so a rejected image
// does not leave an empty page behind.
func (d *Document) AddImagePage(jpeg []byte, r Rect) error {
	if d.closed {
		return ErrClosed
	}
	if len(jpeg) == 0 {
		return ErrInvalidImage
	}

	name := fmt.Sprintf("page-%06d", d.pages+1)
	opts := fpdf.ImageOptions{ImageType: "JPG"}
	d.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(jpeg))
	if err := d.pdf.Error(); err != nil {
		return fmt.Errorf("failed to register image: %w", err)
	}

	d.pdf.AddPage()
	d.pdf.ImageOptions(name, r.X, r.Y, r.W, r.H, false, opts, 0, "")
	if err := d.pdf.Error(); err != nil {
		return fmt.Errorf("failed to place image: %w", err)
	}
	d.pages++
	return nil
}

// Close serializes the document to its file and closes the file. Only the
// first call has an effect.
//
// A document without pages is written with a single blank page.
func (d *Document) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	w := bufio.NewWriter(d.file)
	err := d.pdf.Output(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", d.path, err)
	}
	return nil
}
