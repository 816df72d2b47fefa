package validation

import "errors"

var (
	ErrEmptyFile         = errors.New("file is empty")
	ErrFileTooLarge      = errors.New("file exceeds size limit")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)
