package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/dray-io/rlftl/internal/logging"
	"github.com/dray-io/rlftl/internal/policy"
)

// flushInterval is the observation count between metrics lines.
const flushInterval = 1000

// KV is one key/value row of the summary report.
type KV struct {
	Key   string
	Value string
}

// Sink owns the plain-text metrics stream and the shutdown summary for one
// run. Lines follow the fixed space-separated schema
//
//	<tick> <gc_invocations> <page_copies> <valid_copies> <erases>
//	<avg_response_time> <p99> <p99.9> <p99.99>
//
// File I/O is best-effort: an open or write failure logs one warning and
// disables the stream without affecting the run.
type Sink struct {
	dir        string
	policyName string
	runID      uuid.UUID
	log        *logging.Logger
	prom       *GCMetrics

	file     *os.File
	opened   bool
	disabled bool

	window       *policy.Window
	observations uint64
	lastTick     uint64

	invocations uint64
	pageCopies  uint64
	validCopies uint64
	erases      uint64
}

// NewSink creates a sink writing under dir. The Prometheus collectors are
// optional; pass nil to skip them.
func NewSink(dir, policyName string, log *logging.Logger, prom *GCMetrics) *Sink {
	if log == nil {
		log = logging.Global()
	}
	return &Sink{
		dir:        dir,
		policyName: policyName,
		runID:      uuid.New(),
		log:        log,
		prom:       prom,
		window:     policy.NewWindow(),
	}
}

// RunID identifies this run in the summary report.
func (s *Sink) RunID() uuid.UUID { return s.runID }

// ObserveResponse records one response time at tick, flushing a metrics
// line every flushInterval observations.
func (s *Sink) ObserveResponse(responseTime, tick uint64) {
	s.window.Push(responseTime)
	s.observations++
	s.lastTick = tick

	if s.prom != nil {
		s.prom.ResponseTime.Observe(float64(responseTime) / 1e9)
	}

	if s.observations%flushInterval == 0 {
		s.writeLine()
	}
}

// RecordGC records one executed partial-GC step.
func (s *Sink) RecordGC(budget, copied uint32, erased bool) {
	s.invocations++
	s.pageCopies += uint64(budget)
	s.validCopies += uint64(copied)
	if erased {
		s.erases++
	}

	if s.prom != nil {
		s.prom.Invocations.Inc()
		s.prom.PageCopies.Add(float64(budget))
		s.prom.ValidPageCopies.Add(float64(copied))
		if erased {
			s.prom.BlockErases.Inc()
		}
	}
}

// SetFreeBlocks mirrors the free-block count into the gauge.
func (s *Sink) SetFreeBlocks(n uint32) {
	if s.prom != nil {
		s.prom.FreeBlocks.Set(float64(n))
	}
}

// Invocations returns the recorded GC step count.
func (s *Sink) Invocations() uint64 { return s.invocations }

// Erases returns the recorded erase count.
func (s *Sink) Erases() uint64 { return s.erases }

// ValidCopies returns the recorded relocated-page count.
func (s *Sink) ValidCopies() uint64 { return s.validCopies }

func (s *Sink) metricsPath() string {
	return filepath.Join(s.dir, s.policyName+"_metrics.txt")
}

func (s *Sink) summaryPath() string {
	return filepath.Join(s.dir, s.policyName+"_summary.txt")
}

// ensureOpen lazily opens the metrics file. The first failure warns and
// disables the stream for the rest of the run.
func (s *Sink) ensureOpen() bool {
	if s.disabled {
		return false
	}
	if s.opened {
		return true
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.disable("create output directory", err)
		return false
	}

	f, err := os.OpenFile(s.metricsPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		s.disable("open metrics file", err)
		return false
	}

	fmt.Fprintf(f, "# rlftl %s metrics, run %s\n", s.policyName, s.runID)
	fmt.Fprintln(f, "# Format: <tick> <gc_invocations> <page_copies> <valid_copies> <erases> <avg_response_time> <p99> <p99.9> <p99.99>")

	s.file = f
	s.opened = true
	return true
}

func (s *Sink) disable(what string, err error) {
	s.disabled = true
	s.log.Warnf("metrics stream disabled", map[string]any{
		"what":  what,
		"error": err.Error(),
		"path":  s.metricsPath(),
	})
}

func (s *Sink) writeLine() {
	if !s.ensureOpen() {
		return
	}

	_, err := fmt.Fprintf(s.file, "%d %d %d %d %d %.2f %d %d %d\n",
		s.lastTick,
		s.invocations,
		s.pageCopies,
		s.validCopies,
		s.erases,
		s.window.Avg(),
		s.window.Percentile(0.99),
		s.window.Percentile(0.999),
		s.window.Percentile(0.9999),
	)
	if err != nil {
		s.disable("write metrics line", err)
		if s.file != nil {
			s.file.Close()
			s.file = nil
		}
	}
}

// Close flushes a final metrics line, writes the free-form summary report
// and releases the file handles. The params rows land in the report's
// parameters section.
func (s *Sink) Close(params []KV) error {
	s.writeLine()

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.log.Warnf("close metrics file", map[string]any{"error": err.Error()})
		}
		s.file = nil
		s.opened = false
	}

	if s.disabled {
		return nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.log.Warnf("summary skipped", map[string]any{"error": err.Error()})
		return nil
	}

	f, err := os.Create(s.summaryPath())
	if err != nil {
		s.log.Warnf("summary skipped", map[string]any{"error": err.Error()})
		return nil
	}
	defer f.Close()

	fmt.Fprintf(f, "%s policy summary report\n", s.policyName)
	fmt.Fprintln(f, "===============================")
	fmt.Fprintf(f, "Run ID: %s\n\n", s.runID)

	if len(params) > 0 {
		fmt.Fprintln(f, "Simulation Parameters:")
		fmt.Fprintln(f, "---------------------")
		for _, kv := range params {
			fmt.Fprintf(f, "%s: %s\n", kv.Key, kv.Value)
		}
		fmt.Fprintln(f)
	}

	fmt.Fprintln(f, "GC Statistics:")
	fmt.Fprintln(f, "-------------")
	fmt.Fprintf(f, "Total GC Invocations: %d\n", s.invocations)
	fmt.Fprintf(f, "Total Pages Copied: %d\n", s.pageCopies)
	fmt.Fprintf(f, "Valid Pages Copied: %d\n", s.validCopies)
	fmt.Fprintf(f, "Block Erasures: %d\n\n", s.erases)

	fmt.Fprintln(f, "Performance Metrics:")
	fmt.Fprintln(f, "-------------------")
	fmt.Fprintf(f, "Observed Requests: %d\n", s.observations)
	fmt.Fprintf(f, "Average Response Time: %.2f ns\n", s.window.Avg())
	fmt.Fprintf(f, "P99 Latency: %d ns\n", s.window.Percentile(0.99))
	fmt.Fprintf(f, "P99.9 Latency: %d ns\n", s.window.Percentile(0.999))
	fmt.Fprintf(f, "P99.99 Latency: %d ns\n\n", s.window.Percentile(0.9999))

	fmt.Fprintln(f, "Efficiency Metrics:")
	fmt.Fprintln(f, "------------------")
	avgPages := 0.0
	if s.invocations > 0 {
		avgPages = float64(s.validCopies) / float64(s.invocations)
	}
	fmt.Fprintf(f, "Average Pages Copied per GC: %.2f\n", avgPages)

	return nil
}
