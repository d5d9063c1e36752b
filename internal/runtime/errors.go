package runtime

import (
	"errors"
	"fmt"
)

var (
	ErrRuntime        = errors.New("runtime error")
	ErrEmptyIndex     = errors.New("empty image index")
	ErrEmptyArchive   = errors.New("archive contains no image")
	ErrMultipleImages = errors.New("archive contains multiple images")
)

// Wraps an error with the runtime sentinel.
func wrapRuntime(err error) error {
	return fmt.Errorf("%w: %w", ErrRuntime, err)
}
