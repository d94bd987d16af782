package policy

import "math/rand"

// AggressiveConfig extends the scheduler with the early-trigger and
// read-trigger knobs.
type AggressiveConfig struct {
	SchedulerConfig

	// TAGC is the free-block count at or below which early GC triggers.
	TAGC uint32

	// MaxEarlyOps caps the page-copy budget in the early zone
	// (TGC < free <= TAGC).
	MaxEarlyOps uint32

	// ReadTriggered enables GC on read completions during idle periods.
	ReadTriggered bool

	// EarlyInvalidRatio is the minimum invalid-page fraction a victim must
	// exceed for early GC to touch it.
	EarlyInvalidRatio float64
}

func (c *AggressiveConfig) withDefaults() {
	// Set before the scheduler defaults, which would otherwise fill in the
	// baseline's -1.0.
	if c.TailPenalty == 0 {
		c.TailPenalty = -0.5
	}
	c.SchedulerConfig.withDefaults()
	if c.TAGC == 0 {
		c.TAGC = 100
	}
	if c.MaxEarlyOps == 0 {
		c.MaxEarlyOps = 2
	}
	if c.EarlyInvalidRatio == 0 {
		c.EarlyInvalidRatio = 0.6
	}
}

// Aggressive layers early triggering, max-limited early budgets and
// read-triggered collection over the RL scheduler. Intensive mode always
// returns the full budget and exits only two blocks above TIGC.
type Aggressive struct {
	*Scheduler
	agg AggressiveConfig

	earlyCount         uint64
	readTriggeredCount uint64
}

// NewAggressive creates the aggressive RL policy.
func NewAggressive(cfg AggressiveConfig, rng *rand.Rand) *Aggressive {
	cfg.withDefaults()
	base := NewScheduler("rl_aggressive", cfg.SchedulerConfig, rng)
	// withDefaults ran on the copy inside NewScheduler too; keep the view
	// the overlay reads consistent with the base.
	cfg.SchedulerConfig = base.cfg
	return &Aggressive{
		Scheduler: base,
		agg:       cfg,
	}
}

// ShouldTrigger widens the baseline predicate: intensive below TIGC, early
// GC below TAGC, standard RL below TGC. Reads pass through the idle gate.
func (a *Aggressive) ShouldTrigger(freeBlocks uint32, tick uint64, read bool) bool {
	if read {
		return a.readTrigger(freeBlocks, tick)
	}

	a.updateGaps(tick)

	if a.currGap == 0 {
		return false
	}

	if a.intensive && freeBlocks > a.cfg.TIGC+2 {
		// Aggressive hysteresis: hold intensive mode until free blocks
		// clear TIGC by two.
		a.intensive = false
	}

	if freeBlocks <= a.cfg.TIGC {
		a.enterIntensive()
		return true
	}

	if freeBlocks <= a.agg.TAGC {
		if freeBlocks > a.cfg.TGC {
			a.earlyCount++
		}
		a.refreshState()
		return true
	}

	if freeBlocks <= a.cfg.TGC {
		a.refreshState()
		return true
	}

	return false
}

// readTrigger admits read-triggered GC only during an idle period (current
// gap bin above 2) and while free blocks sit at or below 1.5x TGC.
func (a *Aggressive) readTrigger(freeBlocks uint32, tick uint64) bool {
	if !a.agg.ReadTriggered {
		return false
	}

	var gap uint64
	if a.lastRequestTime > 0 {
		gap = tick - a.lastRequestTime
	}
	if gap == 0 || binCurrInterval(gap) <= 2 {
		return false
	}

	if float64(freeBlocks) > 1.5*float64(a.cfg.TGC) {
		return false
	}

	a.readTriggeredCount++
	return true
}

// Action biases toward larger budgets: the full budget in intensive and
// critical-near zones, the early cap in the early zone, and at least half
// the ceiling otherwise.
func (a *Aggressive) Action(freeBlocks uint32) uint32 {
	if a.intensive {
		return a.choose(a.cfg.MaxPageCopies)
	}
	if freeBlocks <= a.cfg.TIGC+2 {
		return a.choose(a.cfg.MaxPageCopies)
	}

	if freeBlocks > a.cfg.TGC && freeBlocks <= a.agg.TAGC {
		act := a.q.SelectAction(a.state)
		if act > a.agg.MaxEarlyOps {
			act = a.agg.MaxEarlyOps
		}
		return a.choose(act)
	}

	act := a.q.SelectAction(a.state)
	if act < a.cfg.MaxPageCopies/2 {
		act = a.cfg.MaxPageCopies / 2
	}
	if act > a.cfg.MaxPageCopies {
		act = a.cfg.MaxPageCopies
	}
	return a.choose(act)
}

// MinVictimInvalidRatio applies the early-GC victim filter inside the early
// zone so cheap erases are not wasted on mostly-valid blocks.
func (a *Aggressive) MinVictimInvalidRatio(freeBlocks uint32) float64 {
	if freeBlocks > a.cfg.TGC && freeBlocks <= a.agg.TAGC {
		return a.agg.EarlyInvalidRatio
	}
	return 0
}

// EarlyCount counts early-zone triggers.
func (a *Aggressive) EarlyCount() uint64 { return a.earlyCount }

// ReadTriggeredCount counts read-triggered GC admissions.
func (a *Aggressive) ReadTriggeredCount() uint64 { return a.readTriggeredCount }
