package upload

import (
	"errors"

	"github.com/ssebide/music-platform/core/audio"
)

// ErrValidation is the class of client errors rejected before any I/O.
var ErrValidation = errors.New("invalid upload request")

var (
	ErrEmptyFileName         = validationError("file name is empty after sanitization")
	ErrEmptyChunk            = validationError("chunk payload is empty")
	ErrInvalidChunkIndex     = validationError("chunk index must be in [0, 1000000)")
	ErrInvalidTotalChunks    = validationError("total chunks must be in [1, 1000000]")
	ErrMissingTrackReference = validationError("trackId is required for chunks after the first")
	ErrTrackFinished         = validationError("track no longer accepts chunks")
)

var (
	ErrTrackNotFound  = errors.New("track not found")
	ErrTrackForbidden = errors.New("track belongs to another user")
	ErrPersistence    = errors.New("upload ledger failure")
	ErrAssemblyIO     = errors.New("assembly I/O failure")
	ErrNotAssembled   = validationError("track is not waiting for a duration probe")

	ErrUnprobeableMedia = audio.ErrUnprobeableMedia
)

type classifiedError struct {
	msg   string
	class error
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Unwrap() error { return e.class }

func validationError(msg string) error {
	return &classifiedError{msg: msg, class: ErrValidation}
}
