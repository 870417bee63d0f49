package manager

import "github.com/juju/errors"

// Lock manager errors
var (
	ErrLockTimeout      = errors.New("lock wait timeout exceeded")
	ErrDeadlockDetected = errors.New("deadlock detected")
	ErrLockUpgrade      = errors.New("cannot upgrade lock: other transactions hold shared lock")
	ErrTooManyLocks     = errors.New("too many locks held by transaction")
)

// MDL manager errors
var (
	ErrMDLTimeout      = errors.New("metadata lock wait timeout")
	ErrMDLNotHeld      = errors.New("metadata lock not held by session")
	ErrMDLSessionEnded = errors.New("metadata lock session already released")
)

// Compression manager errors
var (
	ErrUnsupportedCompression = errors.New("unsupported compression method")
	ErrCorruptCompressedPage  = errors.New("corrupt compressed page")
)

// Dictionary manager errors
var (
	ErrManagerClosed = errors.New("dictionary manager closed")
)
