package policy

// currIntervalThresholds are the upper bounds, in nanoseconds, of the
// current-interval bins 1..16. Bin 0 is a zero gap; gaps of one second or
// more land in bin 17.
var currIntervalThresholds = [...]uint64{
	10_000,        // 10us
	20_000,        // 20us
	50_000,        // 50us
	100_000,       // 100us
	200_000,       // 200us
	500_000,       // 500us
	1_000_000,     // 1ms
	2_000_000,     // 2ms
	5_000_000,     // 5ms
	10_000_000,    // 10ms
	20_000_000,    // 20ms
	50_000_000,    // 50ms
	100_000_000,   // 100ms
	200_000_000,   // 200ms
	500_000_000,   // 500ms
	1_000_000_000, // 1s
}

// binPrevInterval is the two-way short/long split at 100us.
func binPrevInterval(gap uint64) uint32 {
	if gap < 100_000 {
		return 0
	}
	return 1
}

// binCurrInterval maps a gap to one of 18 bins: 0 for a zero gap, then the
// index of the first threshold exceeding it, 17 for one second or more.
func binCurrInterval(gap uint64) uint32 {
	if gap == 0 {
		return 0
	}
	for i, t := range currIntervalThresholds {
		if gap < t {
			return uint32(i + 1)
		}
	}
	return 17
}

// binAction splits actions at half the copy budget ceiling.
func binAction(action, maxCopies uint32) uint32 {
	if action <= maxCopies/2 {
		return 0
	}
	return 1
}
