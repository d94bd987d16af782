package ftl

import (
	"fmt"
	"math/rand"
)

// LatencyModel prices flash operations with constant per-operation costs in
// simulated nanoseconds.
type LatencyModel struct {
	PageRead   uint64
	PageWrite  uint64
	BlockErase uint64
}

// Stall returns the device time consumed by one partial-GC step: a
// read-then-write per copied page plus at most one erase.
func (m LatencyModel) Stall(res CopyResult) uint64 {
	stall := uint64(res.PagesCopied) * (m.PageRead + m.PageWrite)
	if res.Erased {
		stall += m.BlockErase
	}
	return stall
}

// Params configures an FTL instance.
type Params struct {
	TotalBlocks    uint32
	PagesPerBlock  uint32
	IOUnitsPerPage uint32
	WriteFronts    uint32
	LogicalPages   uint64
	Latency        LatencyModel
}

// Result reports the outcome of one host request.
type Result struct {
	// Completion is the tick at which the host sees the request finish. For
	// writes it includes the GC stall of any triggered step.
	Completion uint64

	// BusyUntil is the tick until which the device stays busy. For reads
	// with read-triggered GC it extends past Completion.
	BusyUntil uint64

	// Plan is the executed partial-GC step, if any.
	Plan *PartialGcPlan

	// GC reports the pages copied and erase of the executed step.
	GC CopyResult
}

// FTL is the page-mapping flash translation layer core. All methods run on
// the simulator's single event-handler thread; nothing here locks.
type FTL struct {
	store      *Store
	table      *MappingTable
	dispatcher *Dispatcher
	lat        LatencyModel

	logicalPages uint64
}

// New builds the FTL core around a dispatcher-driven GC policy.
func New(p Params, policy GCPolicy, evict EvictPolicy, dChoiceParam uint32, rec Recorder, rng *rand.Rand) (*FTL, error) {
	store, err := NewStore(p.TotalBlocks, p.PagesPerBlock, p.IOUnitsPerPage, p.WriteFronts)
	if err != nil {
		return nil, err
	}

	table := NewMappingTable(p.LogicalPages)
	selector := NewSelector(store, evict, dChoiceParam, rng)
	exec := NewExecutor(store, table)
	wholeBlock := policy.Name() == "default"
	disp := NewDispatcher(store, selector, exec, policy, rec, wholeBlock)

	return &FTL{
		store:        store,
		table:        table,
		dispatcher:   disp,
		lat:          p.Latency,
		logicalPages: p.LogicalPages,
	}, nil
}

// Store exposes the block population, mainly to tests and reports.
func (f *FTL) Store() *Store { return f.store }

// Table exposes the mapping table, mainly to tests and reports.
func (f *FTL) Table() *MappingTable { return f.table }

// Dispatcher exposes the GC dispatcher.
func (f *FTL) Dispatcher() *Dispatcher { return f.dispatcher }

// FreeBlocks returns the current free-block count.
func (f *FTL) FreeBlocks() uint32 { return f.store.FreeCount() }

// Write services a host write of lpn. The submission tick is when the host
// issued the request; start is when the device began serving it. Any GC the
// policy triggers runs before the returned completion.
func (f *FTL) Write(lpn uint64, mask IOMask, submission, start uint64) (Result, error) {
	if lpn >= f.logicalPages {
		return Result{}, fmt.Errorf("ftl: lpn %d beyond logical space %d", lpn, f.logicalPages)
	}

	if err := f.writePage(lpn, mask, start); err != nil {
		return Result{}, err
	}

	serviceEnd := start + f.lat.PageWrite

	plan, gc, err := f.dispatcher.OnWrite(submission, serviceEnd)
	if err != nil {
		return Result{}, err
	}

	completion := serviceEnd + f.lat.Stall(gc)
	return Result{
		Completion: completion,
		BusyUntil:  completion,
		Plan:       plan,
		GC:         gc,
	}, nil
}

// writePage widens partial writes to cover the previously mapped io-units
// (read-modify-write), appends the page and installs the new mapping.
func (f *FTL) writePage(lpn uint64, mask IOMask, tick uint64) error {
	if prev, ok := f.table.Lookup(lpn); ok {
		mask |= prev.Mask
	}

	loc, err := f.store.WritePage(lpn, mask, tick)
	if err != nil {
		return err
	}
	return f.table.Upsert(f.store, lpn, Entry{Block: loc.Block, Page: loc.Page, Mask: mask})
}

// Read services a host read of lpn. Unmapped LPNs are served without a
// flash access. Read-triggered GC, when the policy allows it, runs after
// completion and only extends BusyUntil.
func (f *FTL) Read(lpn uint64, submission, start uint64) (Result, error) {
	serviceEnd := start + f.lat.PageRead

	if e, ok := f.table.Lookup(lpn); ok {
		blk := f.store.Block(e.Block)
		lpns, valid, err := blk.ReadPage(e.Page, start)
		if err != nil {
			return Result{}, err
		}
		if valid&e.Mask != e.Mask {
			return Result{}, fmt.Errorf("%w: lpn %d read through stale mapping", ErrCorruptMapping, lpn)
		}
		for i := uint32(0); i < f.store.IOUnits(); i++ {
			if e.Mask.Test(i) && lpns[i] != lpn {
				return Result{}, fmt.Errorf("%w: lpn %d read returned lpn %d", ErrCorruptMapping, lpn, lpns[i])
			}
		}
	}

	plan, gc, err := f.dispatcher.OnRead(submission, serviceEnd)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Completion: serviceEnd,
		BusyUntil:  serviceEnd + f.lat.Stall(gc),
		Plan:       plan,
		GC:         gc,
	}, nil
}

// Trim removes lpn's mapping and invalidates its physical io-units. Trimming
// twice leaves the same state as trimming once.
func (f *FTL) Trim(lpn uint64, tick uint64) error {
	_ = tick
	return f.table.Remove(f.store, lpn)
}

// TrimRange trims count LPNs starting at slpn, then erases any touched
// sealed block left with no valid pages, except a block still held open by
// a write front.
func (f *FTL) TrimRange(slpn, count uint64, tick uint64) error {
	touched := make(map[uint32]struct{})

	for lpn := slpn; lpn < slpn+count; lpn++ {
		if e, ok := f.table.Lookup(lpn); ok {
			touched[e.Block] = struct{}{}
		}
		if err := f.table.Remove(f.store, lpn); err != nil {
			return err
		}
	}

	for idx := range touched {
		blk := f.store.Block(idx)
		if blk.Sealed() && blk.ValidCount() == 0 && f.store.IsLive(idx) && !f.store.isFront(idx) {
			if err := f.store.EraseBlock(idx); err != nil {
				return err
			}
		}
	}
	return nil
}

// WarmupWrite installs lpn without involving the GC policy or the clock,
// used to pre-fill the device before a run. It fails if the free list runs
// dry, which the warmup planner must prevent.
func (f *FTL) WarmupWrite(lpn uint64) error {
	if lpn >= f.logicalPages {
		return fmt.Errorf("ftl: warmup lpn %d beyond logical space %d", lpn, f.logicalPages)
	}
	return f.writePage(lpn, MaskAll(f.store.IOUnits()), 0)
}

// CheckInvariants validates the store and the mapping table against each
// other. It is O(population) and meant for tests and debugging.
func (f *FTL) CheckInvariants() error {
	if err := f.store.CheckInvariants(); err != nil {
		return err
	}
	return f.table.CheckAgainst(f.store)
}

// WearLeveling reports the erase-count wear-leveling factor.
func (f *FTL) WearLeveling() float64 { return f.store.WearLeveling() }
