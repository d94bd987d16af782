package ftl

import "fmt"

// Store owns the fixed population of physical blocks as an arena indexed by
// block number. The live set and the free list are two disjoint index
// collections over the same arena; no block is ever in both.
type Store struct {
	arena []Block
	live  map[uint32]struct{}

	// free is kept sorted ascending by erase count, ties in insertion order.
	free []uint32

	// fronts holds the open block of each parallel write front.
	fronts    []uint32
	nextFront uint32

	// reclaimHint is set when a write front seals its block and pulls a
	// replacement; victim selection widens its reclaim count in response.
	reclaimHint bool

	pagesPerBlock uint32
	ioUnits       uint32
}

// NewStore creates a store with every block on the free list, then opens one
// block per write front.
func NewStore(totalBlocks, pagesPerBlock, ioUnits, writeFronts uint32) (*Store, error) {
	if writeFronts == 0 || writeFronts >= totalBlocks {
		return nil, fmt.Errorf("ftl: write fronts %d out of range for %d blocks", writeFronts, totalBlocks)
	}

	s := &Store{
		arena:         make([]Block, totalBlocks),
		live:          make(map[uint32]struct{}, totalBlocks),
		free:          make([]uint32, 0, totalBlocks),
		fronts:        make([]uint32, writeFronts),
		pagesPerBlock: pagesPerBlock,
		ioUnits:       ioUnits,
	}
	for i := uint32(0); i < totalBlocks; i++ {
		s.arena[i] = newBlock(i, pagesPerBlock, ioUnits)
		s.free = append(s.free, i)
	}

	for i := uint32(0); i < writeFronts; i++ {
		idx, err := s.GetFree(i)
		if err != nil {
			return nil, err
		}
		s.fronts[i] = idx
	}

	return s, nil
}

// Block returns the arena block at idx.
func (s *Store) Block(idx uint32) *Block {
	return &s.arena[idx]
}

// TotalBlocks returns the size of the block population.
func (s *Store) TotalBlocks() uint32 { return uint32(len(s.arena)) }

// PagesPerBlock returns the per-block page count.
func (s *Store) PagesPerBlock() uint32 { return s.pagesPerBlock }

// IOUnits returns the number of io-units per page.
func (s *Store) IOUnits() uint32 { return s.ioUnits }

// FreeCount returns the length of the free list.
func (s *Store) FreeCount() uint32 { return uint32(len(s.free)) }

// LiveBlocks calls fn for each block in the live set.
func (s *Store) LiveBlocks(fn func(*Block)) {
	for idx := range s.live {
		fn(&s.arena[idx])
	}
}

// IsLive reports whether idx is in the live set.
func (s *Store) IsLive(idx uint32) bool {
	_, ok := s.live[idx]
	return ok
}

// GetFree removes and returns the first free block whose index modulo the
// write-front count equals slotHint, falling back to the list head. The
// block moves to the live set.
func (s *Store) GetFree(slotHint uint32) (uint32, error) {
	if len(s.free) == 0 {
		return 0, ErrNoFreeBlocks
	}

	k := uint32(len(s.fronts))
	if k == 0 {
		k = 1
	}

	pos := 0
	found := false
	for i, idx := range s.free {
		if idx%k == slotHint%k {
			pos = i
			found = true
			break
		}
	}
	if !found {
		pos = 0
	}

	idx := s.free[pos]
	s.free = append(s.free[:pos], s.free[pos+1:]...)

	if _, ok := s.live[idx]; ok {
		return 0, fmt.Errorf("%w: block %d already live", ErrInvariant, idx)
	}
	s.live[idx] = struct{}{}

	return idx, nil
}

// reinsert places an erased block back on the free list, keeping it sorted
// ascending by erase count. The scan runs from the tail because erase counts
// grow monotonically.
func (s *Store) reinsert(idx uint32) {
	ec := s.arena[idx].eraseCount

	pos := len(s.free)
	for pos > 0 && s.arena[s.free[pos-1]].eraseCount > ec {
		pos--
	}

	s.free = append(s.free, 0)
	copy(s.free[pos+1:], s.free[pos:])
	s.free[pos] = idx
}

// EraseBlock erases a live block with no valid pages and returns it to the
// free list.
func (s *Store) EraseBlock(idx uint32) error {
	if _, ok := s.live[idx]; !ok {
		return fmt.Errorf("%w: erase of non-live block %d", ErrInvariant, idx)
	}

	b := &s.arena[idx]
	if b.validCount != 0 {
		return fmt.Errorf("%w: block %d has %d valid pages", ErrEraseValidPages, idx, b.validCount)
	}

	b.erase()
	delete(s.live, idx)
	s.reinsert(idx)

	return nil
}

// PageLoc identifies a physical page.
type PageLoc struct {
	Block uint32
	Page  uint32
}

// WritePage appends lpn to the current write front's open block, rotating
// fronts per call and pulling a replacement free block when a front seals.
func (s *Store) WritePage(lpn uint64, mask IOMask, tick uint64) (PageLoc, error) {
	return s.writePage(func(b *Block) (uint32, error) {
		return b.Write(lpn, mask, tick)
	})
}

// writePageUnits is the GC copy variant carrying per-unit logical pages.
func (s *Store) writePageUnits(lpns []uint64, mask IOMask, tick uint64) (PageLoc, error) {
	return s.writePage(func(b *Block) (uint32, error) {
		return b.writeUnits(lpns, mask, tick)
	})
}

func (s *Store) writePage(write func(*Block) (uint32, error)) (PageLoc, error) {
	front := s.nextFront
	s.nextFront = (s.nextFront + 1) % uint32(len(s.fronts))

	idx := s.fronts[front]
	if s.arena[idx].Sealed() {
		repl, err := s.GetFree(front)
		if err != nil {
			return PageLoc{}, err
		}
		s.fronts[front] = repl
		s.reclaimHint = true
		idx = repl
	}

	pageIdx, err := write(&s.arena[idx])
	if err != nil {
		return PageLoc{}, err
	}
	return PageLoc{Block: idx, Page: pageIdx}, nil
}

// TakeReclaimHint returns and clears the reclaim-more hint.
func (s *Store) TakeReclaimHint() bool {
	h := s.reclaimHint
	s.reclaimHint = false
	return h
}

// WriteFronts returns the number of parallel write fronts.
func (s *Store) WriteFronts() uint32 { return uint32(len(s.fronts)) }

// isFront reports whether idx is currently an open write-front block.
func (s *Store) isFront(idx uint32) bool {
	for _, f := range s.fronts {
		if f == idx {
			return true
		}
	}
	return false
}

// CheckInvariants validates the structural invariants of the block
// population: count bounds per block, live/free disjointness and population
// conservation, and free-list erase-count ordering.
func (s *Store) CheckInvariants() error {
	for i := range s.arena {
		b := &s.arena[i]
		if b.validCount+b.dirtyCount > b.nextWrite {
			return fmt.Errorf("%w: block %d counts %d+%d exceed write pointer %d",
				ErrInvariant, b.index, b.validCount, b.dirtyCount, b.nextWrite)
		}
		if b.nextWrite > uint32(len(b.pages)) {
			return fmt.Errorf("%w: block %d write pointer %d beyond %d pages",
				ErrInvariant, b.index, b.nextWrite, len(b.pages))
		}
		for p := b.nextWrite; p < uint32(len(b.pages)); p++ {
			if b.pages[p].written != 0 {
				return fmt.Errorf("%w: block %d page %d written beyond write pointer",
					ErrInvariant, b.index, p)
			}
		}
	}

	for _, idx := range s.free {
		if _, ok := s.live[idx]; ok {
			return fmt.Errorf("%w: block %d on free list and live", ErrInvariant, idx)
		}
	}
	if len(s.free)+len(s.live) != len(s.arena) {
		return fmt.Errorf("%w: %d free + %d live != %d total",
			ErrInvariant, len(s.free), len(s.live), len(s.arena))
	}

	for i := 1; i < len(s.free); i++ {
		if s.arena[s.free[i-1]].eraseCount > s.arena[s.free[i]].eraseCount {
			return fmt.Errorf("%w: free list not sorted by erase count at %d", ErrInvariant, i)
		}
	}

	return nil
}

// TotalValidPages sums valid page counts over the live set.
func (s *Store) TotalValidPages() uint64 {
	var n uint64
	for idx := range s.live {
		n += uint64(s.arena[idx].validCount)
	}
	return n
}

// WearLeveling returns the (sum e)^2 / (N * sum e^2) wear-leveling factor
// over all erase counts, or -1 when no block has been erased.
func (s *Store) WearLeveling() float64 {
	var total, squares uint64
	for i := range s.arena {
		ec := uint64(s.arena[i].eraseCount)
		total += ec
		squares += ec * ec
	}
	if squares == 0 {
		return -1
	}
	return float64(total*total) / (float64(len(s.arena)) * float64(squares))
}
