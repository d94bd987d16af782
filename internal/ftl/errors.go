package ftl

import "errors"

// Fatal invariant breaches. Callers map anything wrapping ErrInvariant to a
// process abort with exit code 1.
var (
	// ErrInvariant marks a corrupted-state condition the FTL cannot recover
	// from.
	ErrInvariant = errors.New("ftl: invariant breach")

	// ErrNoFreeBlocks is returned when the free list is empty. During a
	// partial-GC copy this is fatal: overprovisioning must guarantee space.
	ErrNoFreeBlocks = errors.New("ftl: no free blocks")

	// ErrBlockSealed is returned when writing to a block whose write pointer
	// has reached the page count.
	ErrBlockSealed = errors.New("ftl: block sealed")

	// ErrEraseValidPages is returned when erasing a block that still holds
	// valid pages.
	ErrEraseValidPages = errors.New("ftl: erase of block with valid pages")

	// ErrCorruptMapping is returned when a mapping entry points at an
	// invalid physical location.
	ErrCorruptMapping = errors.New("ftl: corrupt mapping")
)
