package policy

import "math/rand"

// SchedulerConfig parameterizes the RL scheduler.
type SchedulerConfig struct {
	// TGC is the free-block count at or below which normal GC triggers.
	TGC uint32

	// TIGC is the free-block count at or below which intensive mode latches.
	TIGC uint32

	// MaxPageCopies is the ceiling on the page-copy budget.
	MaxPageCopies uint32

	// IntensivePageCopies is the fixed budget while intensive mode holds.
	IntensivePageCopies uint32

	// NumActions is the Q-table action-space size.
	NumActions uint32

	// LearningRate, DiscountFactor and InitEpsilon are the Q-learning
	// parameters.
	LearningRate   float64
	DiscountFactor float64
	InitEpsilon    float64

	// TailPenalty is the reward for response times beyond the t3 threshold:
	// -1.0 for the baseline variant, -0.5 for the intensive variant.
	TailPenalty float64
}

func (c *SchedulerConfig) withDefaults() {
	if c.TGC == 0 {
		c.TGC = 10
	}
	if c.TIGC == 0 {
		c.TIGC = 3
	}
	if c.MaxPageCopies == 0 {
		c.MaxPageCopies = 7
	}
	if c.IntensivePageCopies == 0 {
		c.IntensivePageCopies = 7
	}
	if c.NumActions == 0 {
		c.NumActions = 7
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.3
	}
	if c.DiscountFactor == 0 {
		c.DiscountFactor = 0.8
	}
	if c.InitEpsilon == 0 {
		c.InitEpsilon = 0.8
	}
	if c.TailPenalty == 0 {
		c.TailPenalty = -1.0
	}
}

type pendingUpdate struct {
	state  State
	action uint32
	valid  bool
}

// Scheduler is the Q-learning GC scheduler: it bins inter-request
// intervals into a discrete state, picks page-copy budgets through the
// Q-table, and resolves each choice against the next observed response time.
type Scheduler struct {
	name string
	cfg  SchedulerConfig

	q      *QTable
	window *Window

	lastRequestTime uint64
	prevGap         uint64
	currGap         uint64

	state      State
	lastAction uint32

	// chosen holds the state/action of the step in flight between Action
	// and SchedulePending; pending awaits the next response time.
	chosen  pendingUpdate
	pending pendingUpdate

	intensive        bool
	intensiveEntries uint64

	rewardSum   float64
	rewardCount uint64
}

// NewScheduler creates the baseline RL scheduler. The name distinguishes
// the rl_baseline and rl_intensive variants in logs and reports; their only
// behavioral difference is the tail penalty.
func NewScheduler(name string, cfg SchedulerConfig, rng *rand.Rand) *Scheduler {
	cfg.withDefaults()
	return &Scheduler{
		name:   name,
		cfg:    cfg,
		q:      NewQTable(cfg.LearningRate, cfg.DiscountFactor, cfg.InitEpsilon, cfg.NumActions, rng),
		window: NewWindow(),
	}
}

// Name returns the policy name.
func (s *Scheduler) Name() string { return s.name }

// Observe records a response time into the sliding window, keeping the
// percentile thresholds current.
func (s *Scheduler) Observe(responseTime uint64) {
	s.window.Push(responseTime)
}

// ResolvePending commits the outstanding state/action pair against the
// reward derived from responseTime, then decays epsilon.
func (s *Scheduler) ResolvePending(responseTime uint64) {
	if !s.pending.valid {
		return
	}

	r := s.reward(responseTime)
	next := State{
		PrevInterval: binPrevInterval(s.prevGap),
		CurrInterval: binCurrInterval(s.currGap),
		PrevAction:   binAction(s.pending.action, s.cfg.MaxPageCopies),
	}

	s.q.Update(s.pending.state, s.pending.action, r, next)
	s.pending.valid = false

	s.rewardSum += r
	s.rewardCount++

	s.q.DecayEpsilon()
}

// ShouldTrigger implements the baseline trigger predicate: below TGC, with
// a nonzero idle gap, always trigger; below TIGC latch intensive mode.
// Reads never trigger.
func (s *Scheduler) ShouldTrigger(freeBlocks uint32, tick uint64, read bool) bool {
	if read {
		return false
	}

	if freeBlocks > s.cfg.TGC {
		if s.intensive && freeBlocks > s.cfg.TIGC {
			s.intensive = false
		}
		return false
	}

	s.updateGaps(tick)

	if s.currGap == 0 {
		return false
	}

	if freeBlocks <= s.cfg.TIGC {
		s.enterIntensive()
		return true
	}

	if s.intensive {
		// Hysteresis: free recovered above TIGC.
		s.intensive = false
	}

	s.refreshState()
	return true
}

// Action returns the page-copy budget: the intensive budget while the mode
// holds, the maximum when free blocks are within two of TIGC, otherwise the
// clamped Q-table choice.
func (s *Scheduler) Action(freeBlocks uint32) uint32 {
	if s.intensive {
		return s.choose(s.cfg.IntensivePageCopies)
	}
	if freeBlocks <= s.cfg.TIGC+2 {
		return s.choose(s.cfg.MaxPageCopies)
	}

	a := s.q.SelectAction(s.state)
	if a > s.cfg.MaxPageCopies {
		a = s.cfg.MaxPageCopies
	}
	return s.choose(a)
}

// SchedulePending promotes the last chosen state/action to the pending
// slot. At most one pending record exists; an unresolved one is replaced.
func (s *Scheduler) SchedulePending() {
	if !s.chosen.valid {
		return
	}
	s.pending = s.chosen
	s.chosen.valid = false
}

// MinVictimInvalidRatio admits every sealed block for the baseline policy.
func (s *Scheduler) MinVictimInvalidRatio(uint32) float64 { return 0 }

func (s *Scheduler) choose(a uint32) uint32 {
	s.lastAction = a
	s.chosen = pendingUpdate{state: s.state, action: a, valid: true}
	return a
}

func (s *Scheduler) enterIntensive() {
	if !s.intensive {
		s.intensive = true
		s.intensiveEntries++
	}
}

func (s *Scheduler) updateGaps(tick uint64) {
	if s.lastRequestTime > 0 {
		s.prevGap = s.currGap
		s.currGap = tick - s.lastRequestTime
	} else {
		s.prevGap = 0
		s.currGap = 0
	}
	s.lastRequestTime = tick
}

func (s *Scheduler) refreshState() {
	s.state = State{
		PrevInterval: binPrevInterval(s.prevGap),
		CurrInterval: binCurrInterval(s.currGap),
		PrevAction:   binAction(s.lastAction, s.cfg.MaxPageCopies),
	}
}

// reward maps a response time to a reward. Under the percentile warmup a
// fixed scale applies; afterwards the t1/t2/t3 thresholds decide, with the
// configured penalty beyond t3.
func (s *Scheduler) reward(rt uint64) float64 {
	if !s.window.Ready() {
		switch {
		case rt < 100_000:
			return 1.0
		case rt < 1_000_000:
			return 0.5
		case rt < 10_000_000:
			return 0.0
		default:
			return -0.5
		}
	}

	t1, t2, t3 := s.window.Thresholds()
	switch {
	case rt <= t1:
		return 1.0
	case rt <= t2:
		return 0.5
	case rt <= t3:
		return -0.5
	default:
		return s.cfg.TailPenalty
	}
}

// Intensive reports whether intensive mode currently holds.
func (s *Scheduler) Intensive() bool { return s.intensive }

// IntensiveEntries counts transitions into intensive mode.
func (s *Scheduler) IntensiveEntries() uint64 { return s.intensiveEntries }

// AvgReward returns the mean of all resolved rewards.
func (s *Scheduler) AvgReward() float64 {
	if s.rewardCount == 0 {
		return 0
	}
	return s.rewardSum / float64(s.rewardCount)
}

// HasPending reports whether an unresolved state/action pair exists.
func (s *Scheduler) HasPending() bool { return s.pending.valid }

// Window exposes the sliding response-time window.
func (s *Scheduler) Window() *Window { return s.window }

// Table exposes the Q-table.
func (s *Scheduler) Table() *QTable { return s.q }

// CurrentState returns the scheduler's current discretized state.
func (s *Scheduler) CurrentState() State { return s.state }
