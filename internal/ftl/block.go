// Package ftl implements the page-mapping FTL core: the block/page store,
// the logical-to-physical mapping table, the free-block allocator, victim
// selection and the partial-GC executor.
package ftl

import "fmt"

// IOMask is a bitmask over the io-units of a physical page. Bit i covers
// io-unit i.
type IOMask uint32

// MaskAll returns a mask with the low n bits set.
func MaskAll(n uint32) IOMask {
	return IOMask(1<<n) - 1
}

// Count returns the number of set bits.
func (m IOMask) Count() uint32 {
	var c uint32
	for ; m != 0; m &= m - 1 {
		c++
	}
	return c
}

// Test reports whether bit i is set.
func (m IOMask) Test(i uint32) bool {
	return m&(1<<i) != 0
}

// page is the per-page state of a physical block. A page transitions
// unwritten -> written(valid) -> invalid, and is reset on block erase.
type page struct {
	lpns    []uint64
	valid   IOMask
	written IOMask
}

// Block is one physical erase block in the arena.
type Block struct {
	index        uint32
	pages        []page
	nextWrite    uint32
	eraseCount   uint32
	lastAccessed uint64
	validCount   uint32
	dirtyCount   uint32
	ioUnits      uint32
}

func newBlock(index, pagesPerBlock, ioUnits uint32) Block {
	b := Block{
		index:   index,
		pages:   make([]page, pagesPerBlock),
		ioUnits: ioUnits,
	}
	for i := range b.pages {
		b.pages[i].lpns = make([]uint64, ioUnits)
	}
	return b
}

// Index returns the block's arena index.
func (b *Block) Index() uint32 { return b.index }

// PageCount returns the number of pages in the block.
func (b *Block) PageCount() uint32 { return uint32(len(b.pages)) }

// NextWriteIndex returns the block's write pointer. A value equal to the
// page count means the block is sealed.
func (b *Block) NextWriteIndex() uint32 { return b.nextWrite }

// Sealed reports whether the block accepts no further writes.
func (b *Block) Sealed() bool { return b.nextWrite == uint32(len(b.pages)) }

// EraseCount returns how many times the block has been erased.
func (b *Block) EraseCount() uint32 { return b.eraseCount }

// LastAccessed returns the tick of the last read or write to the block.
func (b *Block) LastAccessed() uint64 { return b.lastAccessed }

// ValidCount returns the number of pages with at least one valid io-unit.
func (b *Block) ValidCount() uint32 { return b.validCount }

// DirtyCount returns the number of written pages with no valid io-unit.
func (b *Block) DirtyCount() uint32 { return b.dirtyCount }

// InvalidRatio returns the fraction of the block's pages that are written
// but no longer valid.
func (b *Block) InvalidRatio() float64 {
	if len(b.pages) == 0 {
		return 0
	}
	return float64(b.dirtyCount) / float64(len(b.pages))
}

// Write appends a page holding lpn on the io-units in mask and returns the
// page index. Fails with ErrBlockSealed once the write pointer reaches the
// page count.
func (b *Block) Write(lpn uint64, mask IOMask, tick uint64) (uint32, error) {
	if b.Sealed() {
		return 0, fmt.Errorf("%w: block %d", ErrBlockSealed, b.index)
	}
	if mask == 0 || mask >= 1<<b.ioUnits {
		return 0, fmt.Errorf("ftl: block %d: io mask %#x out of range", b.index, mask)
	}

	idx := b.nextWrite
	p := &b.pages[idx]
	for i := uint32(0); i < b.ioUnits; i++ {
		if mask.Test(i) {
			p.lpns[i] = lpn
		}
	}
	p.valid = mask
	p.written = mask

	b.nextWrite++
	b.validCount++
	b.lastAccessed = tick

	return idx, nil
}

// writeUnits appends a page carrying per-unit logical pages, used by the
// GC copy path where a page may hold more than one LPN.
func (b *Block) writeUnits(lpns []uint64, mask IOMask, tick uint64) (uint32, error) {
	if b.Sealed() {
		return 0, fmt.Errorf("%w: block %d", ErrBlockSealed, b.index)
	}

	idx := b.nextWrite
	p := &b.pages[idx]
	copy(p.lpns, lpns)
	p.valid = mask
	p.written = mask

	b.nextWrite++
	b.validCount++
	b.lastAccessed = tick

	return idx, nil
}

// Invalidate clears the valid bit of one io-unit. It is idempotent on
// already-invalid io-units.
func (b *Block) Invalidate(pageIdx, unit uint32) error {
	if pageIdx >= uint32(len(b.pages)) || unit >= b.ioUnits {
		return fmt.Errorf("%w: invalidate block %d page %d unit %d", ErrInvariant, b.index, pageIdx, unit)
	}

	p := &b.pages[pageIdx]
	bit := IOMask(1) << unit
	if p.valid&bit == 0 {
		return nil
	}

	p.valid &^= bit
	if p.valid == 0 {
		b.validCount--
		if p.written != 0 {
			b.dirtyCount++
		}
	}
	return nil
}

// ReadPage returns the per-unit logical pages and the valid mask of a page,
// updating the block's access time.
func (b *Block) ReadPage(pageIdx uint32, tick uint64) ([]uint64, IOMask, error) {
	if pageIdx >= uint32(len(b.pages)) {
		return nil, 0, fmt.Errorf("%w: read block %d page %d", ErrInvariant, b.index, pageIdx)
	}
	b.lastAccessed = tick
	p := &b.pages[pageIdx]
	lpns := make([]uint64, len(p.lpns))
	copy(lpns, p.lpns)
	return lpns, p.valid, nil
}

// erase resets all per-page state, rewinds the write pointer and increments
// the erase count. Callers must have checked ValidCount first.
func (b *Block) erase() {
	for i := range b.pages {
		p := &b.pages[i]
		p.valid = 0
		p.written = 0
		for j := range p.lpns {
			p.lpns[j] = 0
		}
	}
	b.nextWrite = 0
	b.validCount = 0
	b.dirtyCount = 0
	b.eraseCount++
}
