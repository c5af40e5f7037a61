package xtal

import (
	"errors"
	"fmt"
)

// ErrCorruptFormat matches every CorruptFormatError via errors.Is.
var ErrCorruptFormat = errors.New("corrupt xtal file")

// CorruptFormatError reports a file that exists but cannot be decoded.
type CorruptFormatError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptFormatError) Error() string {
	msg := "corrupt xtal"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptFormatError) Unwrap() error { return e.Err }

func (e *CorruptFormatError) Is(target error) bool { return target == ErrCorruptFormat }

func corrupt(reason string, err error) *CorruptFormatError {
	return &CorruptFormatError{Reason: reason, Err: err}
}

// IOError reports a file system failure while reading or writing an xtal.
// A missing file unwraps to fs.ErrNotExist.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("xtal %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
