package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted is returned by Controller.Step in REPLAY mode once every
	// recorded step has been applied. It marks the end of a replay, not a
	// failure; callers should stop stepping.
	ErrExhausted = errors.New("replay cache exhausted")

	// ErrFinished is returned by Controller.Step in RECORD mode after the
	// recording has been finalized.
	ErrFinished = errors.New("recording already finished")

	// ErrDeserialize is wrapped by every DecodeError.
	ErrDeserialize = errors.New("cannot deserialize snapshot")

	// ErrNotCache means a file exists at the cache path but is not a cache
	// written by any known backend.
	ErrNotCache = errors.New("not a replay cache file")

	// ErrCorruptCache means a cache file has a valid signature but its
	// contents fail integrity checks.
	ErrCorruptCache = errors.New("corrupt replay cache")

	// ErrNoSteps means a cache file was cut short before its header was
	// complete, as by a crash during creation. It holds nothing to replay.
	ErrNoSteps = errors.New("cache file holds no recorded steps")

	// ErrNonContiguous means Append was called with a step index other than
	// the number of entries already stored.
	ErrNonContiguous = errors.New("non-contiguous step index")

	// ErrStoreClosed is returned by operations on a closed or failed store.
	ErrStoreClosed = errors.New("cache store closed")
)

// DecodeError reports a snapshot that could not be applied to the model.
type DecodeError struct {
	Step  int    // cursor position of the failing entry, -1 if unknown
	Field string // snapshot field being restored
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Step >= 0 {
		return fmt.Sprintf("decode step %d: %s: %v", e.Step, e.Field, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDeserialize, e.Err}
}
