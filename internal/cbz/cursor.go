package cbz

// State is the position of a Cursor.
type State uint8

const (
	// Exhausted means there are no further accepted entries.
	Exhausted State = iota
	// Ready means Position.Entry is the current entry.
	Ready
)

// Position is the result of Cursor.Advance: either Ready with an entry or
// Exhausted.
type Position struct {
	State State
	Entry *Entry
}

// Cursor walks the archive forward only. At most one entry is current and
// advancing releases the previous entry's stream.
//
// Advance skips entries the filter rejects. If the current entry has not been
// read yet, Advance returns it again instead of moving on, so no entry is
// ever skipped by calling Advance twice.
type Cursor struct {
	r       *Reader
	filter  Filter
	next    int
	current *Entry
	done    bool
	err     error
}

// Advance moves to the next accepted entry.
//
// A failure to open an entry's stream ends the iteration: Advance reports
// Exhausted and the failure is kept in Err.
func (c *Cursor) Advance() Position {
	if c.done {
		return Position{State: Exhausted}
	}
	if c.current != nil {
		if !c.current.consumed {
			return Position{State: Ready, Entry: c.current}
		}
		c.current.release()
		c.current = nil
	}

	for c.next < len(c.r.files) {
		f := c.r.files[c.next]
		c.next++
		if !c.filter.Accept(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			c.err = &IOError{Name: f.Name, Err: err}
			c.done = true
			c.r.logger.Warn("stopping archive iteration", "archive", c.r.path, "entry", f.Name, "error", err)
			return Position{State: Exhausted}
		}
		c.current = &Entry{
			Name:     f.Name,
			Size:     f.UncompressedSize64,
			Modified: f.Modified,
			rc:       rc,
		}
		return Position{State: Ready, Entry: c.current}
	}

	c.done = true
	return Position{State: Exhausted}
}

// Current returns the current entry, or nil before the first Advance and
// after exhaustion.
func (c *Cursor) Current() *Entry {
	return c.current
}

// Err returns the failure that ended iteration early, if any.
func (c *Cursor) Err() error {
	return c.err
}

func (c *Cursor) release() {
	if c.current != nil {
		c.current.release()
		c.current = nil
	}
	c.done = true
}
