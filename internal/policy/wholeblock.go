package policy

// WholeBlock is the default collection policy: once the free-block ratio
// falls under the configured threshold it reclaims entire victim blocks in
// one step, with no budget bound and no learning.
type WholeBlock struct {
	thresholdBlocks uint32
	pagesPerBlock   uint32
}

// NewWholeBlock derives the trigger count from the threshold ratio over the
// block population.
func NewWholeBlock(totalBlocks uint32, thresholdRatio float64, pagesPerBlock uint32) *WholeBlock {
	return &WholeBlock{
		thresholdBlocks: uint32(thresholdRatio * float64(totalBlocks)),
		pagesPerBlock:   pagesPerBlock,
	}
}

// Name returns "default".
func (w *WholeBlock) Name() string { return "default" }

// Observe is a no-op.
func (w *WholeBlock) Observe(uint64) {}

// ResolvePending is a no-op.
func (w *WholeBlock) ResolvePending(uint64) {}

// ShouldTrigger fires when the free ratio drops under the threshold. Reads
// never trigger.
func (w *WholeBlock) ShouldTrigger(freeBlocks uint32, _ uint64, read bool) bool {
	if read {
		return false
	}
	return freeBlocks < w.thresholdBlocks
}

// Action budgets a full block, which drains any victim in one step.
func (w *WholeBlock) Action(uint32) uint32 { return w.pagesPerBlock }

// SchedulePending is a no-op.
func (w *WholeBlock) SchedulePending() {}

// MinVictimInvalidRatio admits every sealed block.
func (w *WholeBlock) MinVictimInvalidRatio(uint32) float64 { return 0 }
