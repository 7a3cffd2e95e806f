package gigatile

import (
	"errors"

	"github.com/gigatile/gigatile/geom"
)

// The error taxonomy of the engine. All failures returned from the public
// surface wrap one of these values, so callers dispatch with errors.Is.
var (
	// ErrUnsupportedFormat reports that no registered backend accepted
	// the path.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrCorruptFile reports malformed container structure detected while
	// opening a source.
	ErrCorruptFile = errors.New("corrupt file")

	// ErrDecodeFailed reports a tile whose payload could not be decoded.
	ErrDecodeFailed = errors.New("decode failed")

	// ErrTooLarge reports a flat image exceeding the configured maximum
	// size.
	ErrTooLarge = errors.New("image too large")

	// ErrCancelled reports caller-initiated cancellation.
	ErrCancelled = errors.New("cancelled")

	// ErrIO reports an underlying filesystem failure.
	ErrIO = errors.New("io error")

	// Geometry-layer errors, re-exported so callers need only this
	// package.
	ErrOutOfRange         = geom.ErrOutOfRange
	ErrInvalidOption      = geom.ErrInvalidOption
	ErrNoMatchingLevel    = geom.ErrNoMatchingLevel
	ErrMissingCalibration = geom.ErrMissingCalibration
)

// cancelErr maps a context error into the engine taxonomy.
func cancelErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrCancelled, err)
}
