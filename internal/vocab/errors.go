package vocab

import (
	"errors"
	"fmt"
)

var (
	ErrMissing = errors.New("vocabulary missing")
	ErrEmpty   = errors.New("vocabulary empty")
	ErrInvalid = errors.New("vocabulary invalid")
)

// Error records the loader step and file that failed.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("vocab %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vocab %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
