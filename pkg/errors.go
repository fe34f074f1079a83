package persistent

// errors.go collects the package's error kinds. Simple conditions are plain
// errors.New sentinels; the kinds that need to carry context are small
// typed errors compared via errors.Is/errors.As.

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap these with fmt.Errorf("...: %w", ErrX) or
// compare with errors.Is.
var (
	// ErrOutOfRange reports a negative size estimate passed to
	// SetEstimatedSize.
	ErrOutOfRange = errors.New("persistent: value out of range")

	// ErrInvalidKey reports a PickleCache key that does not match the
	// value's OID, that is already registered (NewGhost, SetPinned), or
	// that is not registered (Delete, UpdateObjectSizeEstimation).
	ErrInvalidKey = errors.New("persistent: invalid cache key")

	// ErrInvalidValue reports a nil PickleCache value, an object with no
	// jar, or an object already owned by a cache.
	ErrInvalidValue = errors.New("persistent: invalid cache value")

	// ErrImmutableField reports an attempt to change _p_jar/_p_oid while
	// the object belongs to a cache.
	ErrImmutableField = errors.New("persistent: field is immutable while cached")

	// ErrStaleState reports a state-machine violation, e.g. making a ghost
	// sticky.
	ErrStaleState = errors.New("persistent: invalid state transition")
)

// JarError wraps an error returned by the external Jar during Setstate or
// Register. The object has already been ghostified by the time this error
// reaches the caller.
type JarError struct {
	Op  string
	Err error
}

func (e *JarError) Error() string {
	return fmt.Sprintf("persistent: jar.%s failed: %v", e.Op, e.Err)
}

func (e *JarError) Unwrap() error { return e.Err }

// InternalInvariantError reports a ring/cache consistency violation,
// e.g. a live object found unlinked from the ring. Activate, Deactivate,
// Invalidate and the attribute hooks return it to their caller, who decides
// policy; the eviction scan (IncrGC, FullSweep) logs it as a warning and
// moves on to the next object.
type InternalInvariantError struct {
	Msg string
}

func (e *InternalInvariantError) Error() string {
	return "persistent: internal invariant violated: " + e.Msg
}
