package task

import (
	"errors"
	"fmt"
)

// InitializationError reports a failure while preparing a task, before any
// unit was processed.
type InitializationError struct {
	Op   string // what was being prepared, e.g. "open archive"
	Path string
	Err  error
}

func (e *InitializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// Kind classifies a ProcessError.
type Kind int

const (
	KindBadImage Kind = iota + 1
	KindRead
	KindEncode
	KindWrite
	KindUnsafePath
)

func (k Kind) String() string {
	switch k {
	case KindBadImage:
		return "bad image"
	case KindRead:
		return "read"
	case KindEncode:
		return "encode"
	case KindWrite:
		return "write"
	case KindUnsafePath:
		return "unsafe path"
	default:
		return "unknown"
	}
}

// ProcessError reports that a single unit could not be processed.
type ProcessError struct {
	Kind Kind
	Unit string // entry name or file path of the failing unit
	Err  error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process %s: %s: %v", e.Unit, e.Kind, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ErrNotDirectory is wrapped by ConfigError when an output location exists
// but is not a directory.
var ErrNotDirectory = errors.New("extract directory can't be a file")

// ConfigError reports an invalid output location.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("output config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsKind reports whether err carries a ProcessError of kind k.
func IsKind(err error, k Kind) bool {
	var pe *ProcessError
	return errors.As(err, &pe) && pe.Kind == k
}
