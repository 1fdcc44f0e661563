package metastore

import "errors"

var (
	// errClosed is returned if an operation attempts to read from or write
	// to the table after it has already been closed.
	errClosed = errors.New("metastore: closed")

	// errOutOfBounds is returned if the entry requested is not contained
	// within the table.
	errOutOfBounds = errors.New("metastore: out of bounds")

	// errCorruptRecord is returned when a decoded record does not have the
	// expected fixed width.
	errCorruptRecord = errors.New("metastore: corrupt record")
)
