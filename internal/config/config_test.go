package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, PolicyDefault, cfg.GC.Policy)
	assert.Equal(t, uint32(10), cfg.GC.TGC)
	assert.Equal(t, uint32(3), cfg.GC.TIGC)
	assert.Equal(t, uint32(100), cfg.GC.TAGC)
	assert.Equal(t, EvictGreedy, cfg.GC.EvictPolicy)
	assert.InDelta(t, 0.3, cfg.RL.LearningRate, 1e-9)
	assert.InDelta(t, 0.8, cfg.RL.DiscountFactor, 1e-9)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rlftl.yaml")

	data := []byte(`
device:
  totalBlocks: 256
  pagesPerBlock: 64
gc:
  policy: rl_aggressive
  tgc: 10
  tagc: 100
  readTriggeredGc: true
workload:
  mode: sequential
  requests: 1000
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(256), cfg.Device.TotalBlocks)
	assert.Equal(t, uint32(64), cfg.Device.PagesPerBlock)
	assert.Equal(t, PolicyRLAggressive, cfg.GC.Policy)
	assert.True(t, cfg.GC.ReadTriggeredGC)
	assert.Equal(t, "sequential", cfg.Workload.Mode)

	// Untouched keys keep their defaults.
	assert.Equal(t, uint32(7), cfg.RL.NumActions)
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath("/nonexistent/rlftl.yaml")
	require.Error(t, err)
}

func TestLoadFromPathBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: [not a map"), 0o644))

	_, err := LoadFromPath(path)
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown policy", func(c *Config) { c.GC.Policy = "bogus" }},
		{"unknown evict policy", func(c *Config) { c.GC.EvictPolicy = "fifo" }},
		{"zero blocks", func(c *Config) { c.Device.TotalBlocks = 0 }},
		{"zero pages", func(c *Config) { c.Device.PagesPerBlock = 0 }},
		{"tigc above tgc", func(c *Config) { c.GC.TIGC = 99; c.GC.TGC = 10 }},
		{"zero budget", func(c *Config) { c.GC.MaxPageCopies = 0 }},
		{"bad learning rate", func(c *Config) { c.RL.LearningRate = 1.5 }},
		{"bad discount", func(c *Config) { c.RL.DiscountFactor = 1.0 }},
		{"trace without path", func(c *Config) { c.Workload.Mode = "trace"; c.Workload.TracePath = "" }},
		{"bad workload mode", func(c *Config) { c.Workload.Mode = "zipf" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RLFTL_TGC", "42")
	t.Setenv("RLFTL_GC_POLICY", "rl_aggressive")
	t.Setenv("RLFTL_OVERPROVISION_RATIO", "0.4")
	t.Setenv("RLFTL_MAX_GC_OPS", "5")
	t.Setenv("RLFTL_D_CHOICE_PARAM", "4")
	t.Setenv("RLFTL_READ_TRIGGERED_GC", "true")
	t.Setenv("RLFTL_LEARNING_RATE", "0.5")
	t.Setenv("RLFTL_DISCOUNT_FACTOR", "0.9")
	t.Setenv("RLFTL_INIT_EPSILON", "0.7")
	t.Setenv("RLFTL_NUM_ACTIONS", "9")
	t.Setenv("RLFTL_REQUESTS", "1234")
	t.Setenv("RLFTL_SEED", "-7")
	t.Setenv("RLFTL_PAGE_WRITE_NS", "600000")
	t.Setenv("RLFTL_METRICS_ENABLE", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint32(42), cfg.GC.TGC)
	assert.Equal(t, PolicyRLAggressive, cfg.GC.Policy)
	assert.InDelta(t, 0.4, cfg.Device.OverprovisionRatio, 1e-9)
	assert.Equal(t, uint32(5), cfg.GC.MaxGCOps)
	assert.Equal(t, uint32(4), cfg.GC.DChoiceParam)
	assert.True(t, cfg.GC.ReadTriggeredGC)
	assert.InDelta(t, 0.5, cfg.RL.LearningRate, 1e-9)
	assert.InDelta(t, 0.9, cfg.RL.DiscountFactor, 1e-9)
	assert.InDelta(t, 0.7, cfg.RL.InitEpsilon, 1e-9)
	assert.Equal(t, uint32(9), cfg.RL.NumActions)
	assert.Equal(t, uint64(1234), cfg.Workload.Requests)
	assert.Equal(t, int64(-7), cfg.Workload.Seed)
	assert.Equal(t, uint64(600_000), cfg.Latency.PageWriteNs)
	assert.False(t, cfg.Observability.MetricsEnable)
}

func TestEnvOverrideIgnoresUnparseable(t *testing.T) {
	t.Setenv("RLFTL_TGC", "not-a-number")
	t.Setenv("RLFTL_LEARNING_RATE", "fast")

	cfg, err := Load()
	require.NoError(t, err)

	// Bad values fall back to the defaults rather than failing the load.
	assert.Equal(t, uint32(10), cfg.GC.TGC)
	assert.InDelta(t, 0.3, cfg.RL.LearningRate, 1e-9)
}

func TestLogicalCapacity(t *testing.T) {
	cfg := Default()
	cfg.Device.TotalBlocks = 100
	cfg.Device.PagesPerBlock = 64
	cfg.Device.OverprovisionRatio = 0.25

	assert.Equal(t, uint32(75), cfg.LogicalBlocks())
	assert.Equal(t, uint64(75*64), cfg.LogicalPages())
}
