package pipeline

import "errors"

var (
	ErrManifest = errors.New("manifest unreadable")
	ErrInvalid  = errors.New("invalid pipeline")
)
