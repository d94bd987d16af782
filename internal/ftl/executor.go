package ftl

import "fmt"

// CopyResult reports the effects of one partial-GC step.
type CopyResult struct {
	// PagesCopied is the number of physical pages relocated.
	PagesCopied uint32

	// Erased reports whether the victim was drained and erased.
	Erased bool
}

// Executor performs budget-bounded partial garbage collection: it relocates
// up to a budget of valid pages from a victim block and erases the victim
// once no valid pages remain.
type Executor struct {
	store *Store
	table *MappingTable
}

// NewExecutor creates a partial-GC executor over store and table.
func NewExecutor(store *Store, table *MappingTable) *Executor {
	return &Executor{store: store, table: table}
}

// CollectPartial copies up to budget valid pages out of victim, updating the
// mapping for every relocated LPN and invalidating the source io-units. When
// the victim ends the step with no valid pages it is erased and returned to
// the free list. Free-list exhaustion mid-copy is fatal: the caller's
// overprovisioning contract must guarantee destination space.
func (e *Executor) CollectPartial(victim uint32, budget uint32, tick uint64) (CopyResult, error) {
	var res CopyResult

	if !e.store.IsLive(victim) {
		return res, fmt.Errorf("%w: partial GC of non-live block %d", ErrInvariant, victim)
	}

	blk := e.store.Block(victim)
	pageCount := blk.PageCount()

	for pageIdx := uint32(0); pageIdx < pageCount && res.PagesCopied < budget; pageIdx++ {
		if blk.ValidCount() == 0 {
			break
		}

		lpns, valid, err := blk.ReadPage(pageIdx, tick)
		if err != nil {
			return res, err
		}
		if valid == 0 {
			continue
		}

		loc, err := e.store.writePageUnits(lpns, valid, tick)
		if err != nil {
			return res, fmt.Errorf("partial GC of block %d: %w", victim, err)
		}

		// Point every relocated LPN at its new home. A page may carry more
		// than one LPN across its io-units.
		var done IOMask
		for unit := uint32(0); unit < e.store.IOUnits(); unit++ {
			if !valid.Test(unit) || done.Test(unit) {
				continue
			}
			lpn := lpns[unit]
			var mask IOMask
			for u := unit; u < e.store.IOUnits(); u++ {
				if valid.Test(u) && lpns[u] == lpn {
					mask |= 1 << u
				}
			}
			done |= mask
			e.table.Relocate(lpn, mask, loc)
		}

		for unit := uint32(0); unit < e.store.IOUnits(); unit++ {
			if valid.Test(unit) {
				if err := blk.Invalidate(pageIdx, unit); err != nil {
					return res, err
				}
			}
		}

		res.PagesCopied++
	}

	if blk.ValidCount() == 0 {
		if err := e.store.EraseBlock(victim); err != nil {
			return res, err
		}
		res.Erased = true
	}

	return res, nil
}
