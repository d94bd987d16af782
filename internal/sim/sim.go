// Package sim drives the FTL core with a single-threaded deterministic
// event loop: warmup pre-fill, synthetic or replayed workloads, a constant
// cost latency model, and the metrics finalization at shutdown.
package sim

import (
	"errors"
	"fmt"
	"io"
	"math/rand"

	"github.com/dray-io/rlftl/internal/config"
	"github.com/dray-io/rlftl/internal/ftl"
	"github.com/dray-io/rlftl/internal/logging"
	"github.com/dray-io/rlftl/internal/metrics"
	"github.com/dray-io/rlftl/internal/policy"
)

// Simulator owns one run: the FTL core, the active policy and the metrics
// plumbing. Everything executes on the caller's goroutine; virtual time
// advances deterministically.
type Simulator struct {
	cfg  *config.Config
	core *ftl.FTL
	pol  ftl.GCPolicy
	sink *metrics.Sink
	dump *metrics.LatencyDump
	log  *logging.Logger
	rng  *rand.Rand

	deviceFreeAt uint64

	reads  uint64
	writes uint64
	trims  uint64
}

// Core exposes the FTL, mainly to tests.
func (s *Simulator) Core() *ftl.FTL { return s.core }

// Run executes warmup and the configured workload, then finalizes metrics.
// A returned error wrapping ftl.ErrInvariant means the run aborted on a
// fatal invariant breach.
func (s *Simulator) Run() error {
	if err := s.warmup(); err != nil {
		return err
	}

	var err error
	if s.cfg.Workload.Mode == "trace" {
		err = s.replayTrace()
	} else {
		err = s.runSynthetic()
	}

	s.finalize()
	return err
}

// warmup pre-fills the device per the filling mode, clamping the target so
// the fill never exhausts the GC headroom.
func (s *Simulator) warmup() error {
	logical := s.cfg.LogicalPages()
	nFill := uint64(s.cfg.Workload.FillRatio * float64(logical))
	nInvalid := uint64(s.cfg.Workload.InvalidPageRatio * float64(logical))

	// Keep enough free blocks that the first triggered GC still has room to
	// run: the trigger threshold plus the open write fronts plus slack.
	floor := uint64(s.warmupFreeFloor())
	total := uint64(s.cfg.Device.TotalBlocks)
	if floor+1 >= total {
		return fmt.Errorf("sim: free floor %d leaves no warmup capacity", floor)
	}
	capacity := (total - floor) * uint64(s.cfg.Device.PagesPerBlock)

	if nFill+nInvalid > capacity {
		s.log.Warn("sim: filling ratio too high, clamping invalid page target")
		if nFill > capacity {
			nFill = capacity
			nInvalid = 0
		} else {
			nInvalid = capacity - nFill
		}
	}

	for i := uint64(0); i < nFill; i++ {
		if err := s.core.WarmupWrite(i); err != nil {
			return fmt.Errorf("sim: warmup fill: %w", err)
		}
	}

	for i := uint64(0); i < nInvalid; i++ {
		var lpn uint64
		switch s.cfg.Workload.FillingMode {
		case 0:
			lpn = i % max(nFill, 1)
		case 1:
			lpn = uint64(s.rng.Int63n(int64(max(nFill, 1))))
		default:
			lpn = uint64(s.rng.Int63n(int64(logical)))
		}
		if err := s.core.WarmupWrite(lpn); err != nil {
			return fmt.Errorf("sim: warmup invalidate: %w", err)
		}
	}

	s.log.Infof("warmup complete", map[string]any{
		"filledPages":  nFill,
		"invalidPages": nInvalid,
		"freeBlocks":   s.core.FreeBlocks(),
	})
	return nil
}

func (s *Simulator) warmupFreeFloor() uint32 {
	floor := s.cfg.GC.TGC
	if s.cfg.GC.Policy == config.PolicyDefault {
		byRatio := uint32(s.cfg.GC.ThresholdRatio * float64(s.cfg.Device.TotalBlocks))
		if byRatio > floor {
			floor = byRatio
		}
	}
	if s.cfg.GC.Policy == config.PolicyLazyRTGC && s.cfg.GC.LazyThreshold > floor {
		floor = s.cfg.GC.LazyThreshold
	}
	return floor + s.cfg.Device.WriteFronts + 2
}

func (s *Simulator) runSynthetic() error {
	logical := s.cfg.LogicalPages()
	mean := s.cfg.Workload.MeanIdleGapNs
	if mean == 0 {
		mean = 200_000
	}

	var tick uint64
	var seqLPN uint64

	for i := uint64(0); i < s.cfg.Workload.Requests; i++ {
		tick += s.nextGap(mean, i)

		var lpn uint64
		switch s.cfg.Workload.Mode {
		case "sequential":
			lpn = seqLPN
			seqLPN = (seqLPN + 1) % logical
		default:
			lpn = uint64(s.rng.Int63n(int64(logical)))
		}

		var err error
		if s.rng.Float64() < s.cfg.Workload.WriteRatio {
			err = s.doWrite(lpn, tick)
		} else {
			err = s.doRead(lpn, tick)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// nextGap draws the idle gap before request i. The bursty mode alternates
// dense runs of 64 requests with long pauses.
func (s *Simulator) nextGap(mean, i uint64) uint64 {
	switch s.cfg.Workload.Mode {
	case "sequential":
		return mean
	case "bursty":
		if i%64 == 0 {
			return mean * 20
		}
		return max(mean/20, 1)
	default:
		g := uint64(s.rng.ExpFloat64() * float64(mean))
		return max(g, 1)
	}
}

func (s *Simulator) replayTrace() error {
	tr, err := OpenTrace(s.cfg.Workload.TracePath, s.log)
	if err != nil {
		return err
	}
	defer tr.Close()

	logical := s.cfg.LogicalPages()

	for {
		req, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		switch req.Op {
		case OpWrite:
			for n := uint64(0); n < req.Count; n++ {
				if err := s.doWrite((req.LPN+n)%logical, req.Tick); err != nil {
					return err
				}
			}
		case OpRead:
			for n := uint64(0); n < req.Count; n++ {
				if err := s.doRead((req.LPN+n)%logical, req.Tick); err != nil {
					return err
				}
			}
		case OpTrim:
			s.trims++
			if err := s.core.TrimRange(req.LPN, req.Count, req.Tick); err != nil {
				return err
			}
		}
	}

	if tr.Skipped() > 0 {
		s.log.Warnf("trace replay finished with skipped lines", map[string]any{
			"skipped": tr.Skipped(),
		})
	}
	return nil
}

func (s *Simulator) doWrite(lpn, submission uint64) error {
	start := max(submission, s.deviceFreeAt)

	res, err := s.core.Write(lpn, ftl.MaskAll(s.cfg.Device.IOUnitsPerPage), submission, start)
	if err != nil {
		return fmt.Errorf("sim: write lpn %d: %w", lpn, err)
	}

	s.writes++
	s.deviceFreeAt = res.BusyUntil
	s.afterRequest("write", submission, res)
	return nil
}

func (s *Simulator) doRead(lpn, submission uint64) error {
	start := max(submission, s.deviceFreeAt)

	res, err := s.core.Read(lpn, submission, start)
	if err != nil {
		return fmt.Errorf("sim: read lpn %d: %w", lpn, err)
	}

	s.reads++
	s.deviceFreeAt = res.BusyUntil
	s.afterRequest("read", submission, res)
	return nil
}

func (s *Simulator) afterRequest(op string, submission uint64, res ftl.Result) {
	if s.sink != nil {
		s.sink.SetFreeBlocks(s.core.FreeBlocks())
	}
	if s.dump != nil {
		s.dump.Record(res.Completion, op, res.Completion-submission)
	}
}

func (s *Simulator) finalize() {
	if s.dump != nil {
		if err := s.dump.Close(); err != nil {
			s.log.Warnf("latency dump close", map[string]any{"error": err.Error()})
		}
	}

	if s.sink == nil {
		return
	}

	params := []metrics.KV{
		{Key: "Policy", Value: s.pol.Name()},
		{Key: "Total Blocks", Value: fmt.Sprintf("%d", s.cfg.Device.TotalBlocks)},
		{Key: "Pages per Block", Value: fmt.Sprintf("%d", s.cfg.Device.PagesPerBlock)},
		{Key: "Evict Policy", Value: s.cfg.GC.EvictPolicy},
		{Key: "Requests Served", Value: fmt.Sprintf("%d reads, %d writes, %d trims", s.reads, s.writes, s.trims)},
		{Key: "Free Blocks at Shutdown", Value: fmt.Sprintf("%d", s.core.FreeBlocks())},
		{Key: "Wear-Leveling Factor", Value: fmt.Sprintf("%.4f", s.core.WearLeveling())},
	}

	switch p := s.pol.(type) {
	case *policy.Aggressive:
		params = append(params,
			metrics.KV{Key: "TGC / TIGC / TAGC", Value: fmt.Sprintf("%d / %d / %d", s.cfg.GC.TGC, s.cfg.GC.TIGC, s.cfg.GC.TAGC)},
			metrics.KV{Key: "Final Epsilon", Value: fmt.Sprintf("%.4f", p.Table().Epsilon())},
			metrics.KV{Key: "Average Reward", Value: fmt.Sprintf("%.4f", p.AvgReward())},
			metrics.KV{Key: "Intensive Entries", Value: fmt.Sprintf("%d", p.IntensiveEntries())},
			metrics.KV{Key: "Early GCs", Value: fmt.Sprintf("%d", p.EarlyCount())},
			metrics.KV{Key: "Read-Triggered GCs", Value: fmt.Sprintf("%d", p.ReadTriggeredCount())},
		)
	case *policy.Scheduler:
		params = append(params,
			metrics.KV{Key: "TGC / TIGC", Value: fmt.Sprintf("%d / %d", s.cfg.GC.TGC, s.cfg.GC.TIGC)},
			metrics.KV{Key: "Final Epsilon", Value: fmt.Sprintf("%.4f", p.Table().Epsilon())},
			metrics.KV{Key: "Average Reward", Value: fmt.Sprintf("%.4f", p.AvgReward())},
			metrics.KV{Key: "Intensive Entries", Value: fmt.Sprintf("%d", p.IntensiveEntries())},
		)
	case *policy.LazyRTGC:
		params = append(params,
			metrics.KV{Key: "GC Threshold", Value: fmt.Sprintf("%d free blocks", s.cfg.GC.LazyThreshold)},
			metrics.KV{Key: "Max Page Copies per GC", Value: fmt.Sprintf("%d", s.cfg.GC.LazyMaxCopies)},
		)
	}

	if err := s.sink.Close(params); err != nil {
		s.log.Warnf("metrics finalize", map[string]any{"error": err.Error()})
	}
}
