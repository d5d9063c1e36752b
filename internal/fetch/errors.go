package fetch

import "errors"

var (
	ErrFetch  = errors.New("fetch failed")
	ErrSubdir = errors.New("subdirectory not found in repository")
)
