package build

import "errors"

var (
	ErrBuild               = errors.New("build failed")
	ErrProvision           = errors.New("provisioning failed")
	ErrCompile             = errors.New("compilation failed")
	ErrCopy                = errors.New("copy failed")
	ErrFileSystemOperation = errors.New("file system operation failed")
)
