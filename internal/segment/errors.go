package segment

import "errors"

var (
	ErrNilFile       = errors.New("segment: nil file")
	ErrClosed        = errors.New("segment: already closed")
	ErrNotFound      = errors.New("segment: not found")
	ErrMalformedName = errors.New("segment: malformed segment filename")
)
