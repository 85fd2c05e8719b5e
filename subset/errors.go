package subset

import "fmt"

type errorType string

func (e errorType) Error() string { return string(e) }

const (
	// ErrNotLoaded is returned by any operation attempted before Load
	// has succeeded, or after Close.
	ErrNotLoaded = errorType("subset: not loaded")

	// ErrClosed is declared for callers but not returned by Subset:
	// operations attempted after Close report ErrNotLoaded.
	ErrClosed = errorType("subset: closed")

	// ErrIndexCorrupt is returned when the on-disk index file's length
	// is not a whole multiple of the stream-offset width.
	ErrIndexCorrupt = errorType("subset: index file length is not a multiple of stream size")

	// ErrRemoveOffsetMissing is returned internally when a tombstoned,
	// non-new record's data offset cannot be located during the index
	// rebuild phase of Save; it is fatal to that Save call.
	ErrRemoveOffsetMissing = errorType("subset: tombstoned record's data offset not found in index")

	// ErrNotImplemented is returned by Defragment, which this module
	// declares on the Subset interface but does not implement.
	ErrNotImplemented = errorType("subset: not implemented")
)

// ErrWrongHashSize reports that a caller passed a hash.Hash whose size
// does not match the subset's configured hash size.
type ErrWrongHashSize struct {
	Got, Want int
}

func (e ErrWrongHashSize) Error() string {
	return fmt.Sprintf("subset: hash size is %d, expected %d", e.Got, e.Want)
}
