package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/rlftl/internal/config"
)

// smallConfig returns a device small enough for fast end-to-end runs that
// still cycles through garbage collection.
func smallConfig(t *testing.T, policyName string) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Device.TotalBlocks = 64
	cfg.Device.PagesPerBlock = 16
	cfg.Device.WriteFronts = 2
	cfg.Device.OverprovisionRatio = 0.3
	cfg.GC.Policy = policyName
	cfg.GC.ThresholdRatio = 0.12
	cfg.GC.TGC = 10
	cfg.GC.TIGC = 4
	cfg.GC.TAGC = 20
	cfg.Workload.Requests = 3000
	cfg.Workload.FillRatio = 0.7
	cfg.Workload.InvalidPageRatio = 0.1
	cfg.Workload.Seed = 42
	cfg.Observability.OutputDir = t.TempDir()
	cfg.Observability.MetricsEnable = false
	cfg.Observability.LogLevel = "error"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestSimulatorRunAllPolicies(t *testing.T) {
	for _, name := range []string{
		config.PolicyDefault,
		config.PolicyLazyRTGC,
		config.PolicyRLBaseline,
		config.PolicyRLIntensive,
		config.PolicyRLAggressive,
	} {
		t.Run(name, func(t *testing.T) {
			cfg := smallConfig(t, name)
			if name == config.PolicyRLAggressive {
				cfg.GC.ReadTriggeredGC = true
			}

			s, err := Build(cfg, quietLogger())
			require.NoError(t, err)
			require.NoError(t, s.Run())

			// The structural invariants must hold after any run.
			require.NoError(t, s.Core().CheckInvariants())
			assert.Greater(t, s.Core().FreeBlocks(), uint32(0))
		})
	}
}

func TestSimulatorLatencyDumpFile(t *testing.T) {
	cfg := smallConfig(t, config.PolicyLazyRTGC)
	cfg.Observability.MetricsEnable = false // default registry conflicts in repeated tests
	cfg.Observability.LatencyDumpEnable = true

	s, err := Build(cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, s.Run())

	// The latency dump was written and finalized.
	path := filepath.Join(cfg.Observability.OutputDir, "lazy_rtgc_latency.parquet")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSimulatorDeterminism(t *testing.T) {
	run := func() (uint32, uint64) {
		cfg := smallConfig(t, config.PolicyRLBaseline)
		s, err := Build(cfg, quietLogger())
		require.NoError(t, err)
		require.NoError(t, s.Run())
		return s.Core().FreeBlocks(), s.Core().Store().TotalValidPages()
	}

	free1, valid1 := run()
	free2, valid2 := run()

	assert.Equal(t, free1, free2)
	assert.Equal(t, valid1, valid2)
}

func TestSimulatorTraceReplay(t *testing.T) {
	cfg := smallConfig(t, config.PolicyLazyRTGC)

	trace := `1000 W 0 64
2000000 W 0 64
4000000 R 0 16
6000000 T 32 16
`
	path := filepath.Join(t.TempDir(), "trace.txt")
	require.NoError(t, os.WriteFile(path, []byte(trace), 0o644))

	cfg.Workload.Mode = "trace"
	cfg.Workload.TracePath = path
	cfg.Workload.FillRatio = 0.3
	cfg.Workload.InvalidPageRatio = 0
	require.NoError(t, cfg.Validate())

	s, err := Build(cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, s.Run())

	require.NoError(t, s.Core().CheckInvariants())
	assert.Equal(t, uint64(128), s.writes)
	assert.Equal(t, uint64(16), s.reads)
	assert.Equal(t, uint64(1), s.trims)
}

func TestSimulatorWarmupClampsOverfill(t *testing.T) {
	cfg := smallConfig(t, config.PolicyLazyRTGC)
	cfg.Workload.FillRatio = 1.0
	cfg.Workload.InvalidPageRatio = 1.0
	cfg.Workload.Requests = 100

	s, err := Build(cfg, quietLogger())
	require.NoError(t, err)

	// The warmup planner must clamp rather than exhaust the free list.
	require.NoError(t, s.Run())
	assert.Greater(t, s.Core().FreeBlocks(), uint32(0))
}

func TestBuildRejectsUnknownPolicy(t *testing.T) {
	cfg := smallConfig(t, config.PolicyDefault)
	cfg.GC.Policy = "bogus"

	_, err := Build(cfg, quietLogger())
	require.Error(t, err)
}
