package ftl

import "fmt"

// Entry locates the physical page backing a logical page, together with the
// io-units of that page it occupies.
type Entry struct {
	Block uint32
	Page  uint32
	Mask  IOMask
}

// Invalidator is the subset of the store the mapping table needs to retire
// superseded physical pages.
type Invalidator interface {
	Block(idx uint32) *Block
}

// MappingTable is the partial function from logical page numbers to physical
// locations. Entries are created on first write, rewritten on overwrite and
// GC copy, and removed on trim.
type MappingTable struct {
	entries map[uint64]Entry
}

// NewMappingTable returns an empty table sized for capacity logical pages.
func NewMappingTable(capacity uint64) *MappingTable {
	return &MappingTable{
		entries: make(map[uint64]Entry, capacity),
	}
}

// Len returns the number of mapped logical pages.
func (t *MappingTable) Len() int { return len(t.entries) }

// Lookup returns the entry for lpn. Unknown LPNs report ok == false, not an
// error.
func (t *MappingTable) Lookup(lpn uint64) (Entry, bool) {
	e, ok := t.entries[lpn]
	return e, ok
}

// Upsert installs a new physical location for lpn. For every io-unit set in
// the incoming entry's mask the previously mapped io-unit is invalidated
// first, so overwrite and mapping update are one atomic step.
func (t *MappingTable) Upsert(store Invalidator, lpn uint64, e Entry) error {
	if prev, ok := t.entries[lpn]; ok {
		if remaining := prev.Mask &^ e.Mask; remaining != 0 {
			// The single-entry model cannot split an LPN across two physical
			// pages. The write path widens partial writes with a
			// read-modify-write before calling Upsert.
			return fmt.Errorf("%w: partial overwrite of lpn %d leaves units %#x behind",
				ErrCorruptMapping, lpn, remaining)
		}
		blk := store.Block(prev.Block)
		for i := uint32(0); i < 32; i++ {
			if prev.Mask.Test(i) && e.Mask.Test(i) {
				if err := blk.Invalidate(prev.Page, i); err != nil {
					return fmt.Errorf("upsert lpn %d: %w", lpn, err)
				}
			}
		}
	}
	t.entries[lpn] = e
	return nil
}

// Relocate points lpn's mapped io-units in mask at a new physical location
// without invalidating, used by the GC copy path where the source page is
// invalidated by the executor.
func (t *MappingTable) Relocate(lpn uint64, mask IOMask, loc PageLoc) {
	e, ok := t.entries[lpn]
	if !ok {
		return
	}
	e.Block = loc.Block
	e.Page = loc.Page
	e.Mask = mask
	t.entries[lpn] = e
}

// Remove deletes lpn's entry, invalidating the mapped io-units. Trimming an
// unmapped LPN is a no-op.
func (t *MappingTable) Remove(store Invalidator, lpn uint64) error {
	e, ok := t.entries[lpn]
	if !ok {
		return nil
	}

	blk := store.Block(e.Block)
	for i := uint32(0); i < 32; i++ {
		if e.Mask.Test(i) {
			if err := blk.Invalidate(e.Page, i); err != nil {
				return fmt.Errorf("trim lpn %d: %w", lpn, err)
			}
		}
	}

	delete(t.entries, lpn)
	return nil
}

// Range calls fn for every mapped LPN until fn returns false.
func (t *MappingTable) Range(fn func(lpn uint64, e Entry) bool) {
	for lpn, e := range t.entries {
		if !fn(lpn, e) {
			return
		}
	}
}

// CheckAgainst validates that every mapping entry points at a page whose
// mapped io-units are valid in the store.
func (t *MappingTable) CheckAgainst(store *Store) error {
	for lpn, e := range t.entries {
		if e.Block >= store.TotalBlocks() || e.Page >= store.PagesPerBlock() {
			return fmt.Errorf("%w: lpn %d maps to block %d page %d", ErrCorruptMapping, lpn, e.Block, e.Page)
		}
		blk := store.Block(e.Block)
		p := &blk.pages[e.Page]
		if p.valid&e.Mask != e.Mask {
			return fmt.Errorf("%w: lpn %d maps to invalid units at block %d page %d",
				ErrCorruptMapping, lpn, e.Block, e.Page)
		}
		for i := uint32(0); i < store.IOUnits(); i++ {
			if e.Mask.Test(i) && p.lpns[i] != lpn {
				return fmt.Errorf("%w: block %d page %d unit %d holds lpn %d, mapped from %d",
					ErrCorruptMapping, e.Block, e.Page, i, p.lpns[i], lpn)
			}
		}
	}
	return nil
}
