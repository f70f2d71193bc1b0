package cbz

import (
	"archive/zip"
	"cmp"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"time"
)

// ErrStaleEntry is returned when an entry is read after its cursor moved on.
var ErrStaleEntry = errors.New("entry is no longer current")

// IOError reports a failure while reading an entry's bytes.
type IOError struct {
	Name string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read entry %s: %v", e.Name, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Reader owns one open comic archive. Files are exposed in storage order
// through a forward-only Cursor.
type Reader struct {
	path   string
	zr     *zip.ReadCloser
	files  []*zip.File
	logger *slog.Logger
}

// Open opens the archive at path.
func Open(path string, logger *slog.Logger) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, f)
	}
	slices.SortStableFunc(files, func(a, b *zip.File) int {
		return cmp.Compare(dataOffset(a), dataOffset(b))
	})

	return &Reader{
		path:   path,
		zr:     zr,
		files:  files,
		logger: logger,
	}, nil
}

// dataOffset returns the position of f's data in the archive, or -1 when the
// local header cannot be located. Unknown offsets keep directory order.
func dataOffset(f *zip.File) int64 {
	off, err := f.DataOffset()
	if err != nil {
		return -1
	}
	return off
}

// Len returns the number of file entries in the archive.
func (r *Reader) Len() int {
	return len(r.files)
}

// Close closes the archive.
func (r *Reader) Close() error {
	return r.zr.Close()
}

// Cursor returns a new forward-only cursor over the entries accepted by f.
func (r *Reader) Cursor(f Filter) *Cursor {
	if f == nil {
		f = AcceptAll
	}
	return &Cursor{r: r, filter: f, next: 0}
}

// Entries returns the accepted entries as a lazy sequence. The consumer must
// read each entry before pulling the next one; an entry that was not read is
// reported again rather than skipped, so a consumer that never reads would
// see the same entry forever and must stop itself.
func (r *Reader) Entries(f Filter) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		c := r.Cursor(f)
		defer c.release()
		for {
			pos := c.Advance()
			if pos.State == Exhausted {
				return
			}
			if !yield(pos.Entry, nil) {
				return
			}
		}
	}
}

// Entry is one file stored in the archive. Its bytes can be read until the
// owning cursor advances.
type Entry struct {
	Name     string
	Size     uint64
	Modified time.Time

	rc       io.ReadCloser
	consumed bool
	stale    bool
}

// ReadAll reads the entry's bytes into memory.
func (e *Entry) ReadAll() ([]byte, error) {
	if e.stale {
		return nil, &IOError{Name: e.Name, Err: ErrStaleEntry}
	}
	e.consumed = true
	data, err := io.ReadAll(e.rc)
	if err != nil {
		return nil, &IOError{Name: e.Name, Err: err}
	}
	return data, nil
}

// WriteTo copies the entry's bytes to w. Only failures reading the archive
// are returned as *IOError.
func (e *Entry) WriteTo(w io.Writer) (int64, error) {
	if e.stale {
		return 0, &IOError{Name: e.Name, Err: ErrStaleEntry}
	}
	e.consumed = true
	src := &sourceReader{r: e.rc}
	n, err := io.Copy(w, src)
	if err != nil {
		if src.err != nil {
			return n, &IOError{Name: e.Name, Err: err}
		}
		return n, err
	}
	return n, nil
}

// sourceReader remembers a failure of the archive side of a copy, so write
// failures on the destination are not reported as IOError.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

// Consumed reports whether the entry's bytes have been read.
func (e *Entry) Consumed() bool {
	return e.consumed
}

func (e *Entry) release() {
	e.stale = true
	if e.rc != nil {
		e.rc.Close()
		e.rc = nil
	}
}
