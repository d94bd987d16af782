// Package config provides configuration loading and validation for rlftl.
// Supports YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Policy names accepted by GCConfig.Policy.
const (
	PolicyDefault      = "default"
	PolicyLazyRTGC     = "lazy_rtgc"
	PolicyRLBaseline   = "rl_baseline"
	PolicyRLIntensive  = "rl_intensive"
	PolicyRLAggressive = "rl_aggressive"
)

// Eviction policy names accepted by GCConfig.EvictPolicy.
const (
	EvictGreedy      = "greedy"
	EvictCostBenefit = "cost_benefit"
	EvictRandom      = "random"
	EvictDChoice     = "d_choice"
)

// ErrInvalid is wrapped by all validation errors.
var ErrInvalid = errors.New("config: invalid")

// Config holds all configuration for an rlftl run.
type Config struct {
	Device        DeviceConfig        `yaml:"device"`
	GC            GCConfig            `yaml:"gc"`
	RL            RLConfig            `yaml:"rl"`
	Workload      WorkloadConfig      `yaml:"workload"`
	Latency       LatencyConfig       `yaml:"latency"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DeviceConfig describes the simulated flash geometry.
type DeviceConfig struct {
	// TotalBlocks is the number of physical erase blocks.
	TotalBlocks uint32 `yaml:"totalBlocks" env:"RLFTL_TOTAL_BLOCKS"`

	// PagesPerBlock is the number of pages in each erase block.
	PagesPerBlock uint32 `yaml:"pagesPerBlock" env:"RLFTL_PAGES_PER_BLOCK"`

	// IOUnitsPerPage is the number of independently mappable sub-page units.
	IOUnitsPerPage uint32 `yaml:"ioUnitsPerPage" env:"RLFTL_IO_UNITS_PER_PAGE"`

	// WriteFronts is the number of parallel write fronts (open blocks).
	WriteFronts uint32 `yaml:"writeFronts" env:"RLFTL_WRITE_FRONTS"`

	// OverprovisionRatio reserves physical capacity beyond the logical
	// address space: logical <= physical * (1 - ratio).
	OverprovisionRatio float64 `yaml:"overprovisionRatio" env:"RLFTL_OVERPROVISION_RATIO"`
}

// GCConfig selects and parameterizes the garbage collection policy.
type GCConfig struct {
	// Policy is one of default, lazy_rtgc, rl_baseline, rl_intensive,
	// rl_aggressive.
	Policy string `yaml:"policy" env:"RLFTL_GC_POLICY"`

	// ThresholdRatio is the free-block fraction below which the default
	// policy reclaims whole blocks.
	ThresholdRatio float64 `yaml:"thresholdRatio" env:"RLFTL_GC_THRESHOLD_RATIO"`

	// TGC is the free-block count triggering normal GC.
	TGC uint32 `yaml:"tgc" env:"RLFTL_TGC"`

	// TIGC is the free-block count triggering intensive GC.
	TIGC uint32 `yaml:"tigc" env:"RLFTL_TIGC"`

	// TAGC is the free-block count triggering aggressive early GC.
	TAGC uint32 `yaml:"tagc" env:"RLFTL_TAGC"`

	// MaxPageCopies is the page-copy budget ceiling per GC step.
	MaxPageCopies uint32 `yaml:"maxPageCopies" env:"RLFTL_MAX_PAGE_COPIES"`

	// MaxGCOps caps the page-copy budget in the aggressive early zone.
	MaxGCOps uint32 `yaml:"maxGcOps" env:"RLFTL_MAX_GC_OPS"`

	// IntensivePageCopies is the fixed budget used while in intensive mode.
	IntensivePageCopies uint32 `yaml:"intensivePageCopies" env:"RLFTL_INTENSIVE_PAGE_COPIES"`

	// EvictPolicy is one of greedy, cost_benefit, random, d_choice.
	EvictPolicy string `yaml:"evictPolicy" env:"RLFTL_EVICT_POLICY"`

	// DChoiceParam is the sampling multiplier for d_choice selection.
	DChoiceParam uint32 `yaml:"dChoiceParam" env:"RLFTL_D_CHOICE_PARAM"`

	// ReadTriggeredGC enables read-triggered GC for the aggressive policy.
	ReadTriggeredGC bool `yaml:"readTriggeredGc" env:"RLFTL_READ_TRIGGERED_GC"`

	// EarlyInvalidRatio is the minimum invalid-page fraction a victim must
	// have to be reclaimed by aggressive early GC.
	EarlyInvalidRatio float64 `yaml:"earlyInvalidRatio" env:"RLFTL_EARLY_INVALID_RATIO"`

	// LazyThreshold is the Lazy-RTGC free-block trigger threshold.
	LazyThreshold uint32 `yaml:"lazyThreshold" env:"RLFTL_LAZY_THRESHOLD"`

	// LazyMaxCopies is the fixed Lazy-RTGC page-copy budget per step.
	LazyMaxCopies uint32 `yaml:"lazyMaxCopies" env:"RLFTL_LAZY_MAX_COPIES"`
}

// RLConfig holds the Q-learning parameters shared by the RL policies.
type RLConfig struct {
	// LearningRate is the Q-update step size (alpha).
	LearningRate float64 `yaml:"learningRate" env:"RLFTL_LEARNING_RATE"`

	// DiscountFactor weights future rewards (gamma).
	DiscountFactor float64 `yaml:"discountFactor" env:"RLFTL_DISCOUNT_FACTOR"`

	// InitEpsilon is the initial exploration rate.
	InitEpsilon float64 `yaml:"initEpsilon" env:"RLFTL_INIT_EPSILON"`

	// NumActions is the size of the discrete action space.
	NumActions uint32 `yaml:"numActions" env:"RLFTL_NUM_ACTIONS"`
}

// WorkloadConfig describes the request stream fed to the FTL.
type WorkloadConfig struct {
	// Mode is one of sequential, random, bursty, trace.
	Mode string `yaml:"mode" env:"RLFTL_WORKLOAD_MODE"`

	// TracePath points at a trace file when Mode is trace. Files ending in
	// .gz or .lz4 are decompressed transparently.
	TracePath string `yaml:"tracePath" env:"RLFTL_TRACE_PATH"`

	// Requests is the number of synthetic requests to generate.
	Requests uint64 `yaml:"requests" env:"RLFTL_REQUESTS"`

	// WriteRatio is the fraction of synthetic requests that are writes.
	WriteRatio float64 `yaml:"writeRatio" env:"RLFTL_WRITE_RATIO"`

	// MeanIdleGapNs is the mean simulated gap between request submissions.
	MeanIdleGapNs uint64 `yaml:"meanIdleGapNs" env:"RLFTL_MEAN_IDLE_GAP_NS"`

	// FillRatio is the fraction of logical pages written during warmup.
	FillRatio float64 `yaml:"fillRatio" env:"RLFTL_FILL_RATIO"`

	// InvalidPageRatio is the fraction of logical pages overwritten during
	// warmup to create invalid pages.
	InvalidPageRatio float64 `yaml:"invalidPageRatio" env:"RLFTL_INVALID_PAGE_RATIO"`

	// FillingMode selects the warmup pattern: 0 seq/seq, 1 seq/rand,
	// 2 rand/rand.
	FillingMode int `yaml:"fillingMode" env:"RLFTL_FILLING_MODE"`

	// Seed seeds all randomness: epsilon-greedy draws, random victim
	// sampling and synthetic workloads.
	Seed int64 `yaml:"seed" env:"RLFTL_SEED"`
}

// LatencyConfig is the constant-cost timing model for flash operations.
type LatencyConfig struct {
	PageReadNs   uint64 `yaml:"pageReadNs" env:"RLFTL_PAGE_READ_NS"`
	PageWriteNs  uint64 `yaml:"pageWriteNs" env:"RLFTL_PAGE_WRITE_NS"`
	BlockEraseNs uint64 `yaml:"blockEraseNs" env:"RLFTL_BLOCK_ERASE_NS"`
}

// ObservabilityConfig controls metrics files and logging.
type ObservabilityConfig struct {
	// OutputDir is the directory for metrics and summary files.
	OutputDir string `yaml:"outputDir" env:"RLFTL_OUTPUT_DIR"`

	// MetricsEnable turns the plain-text metrics stream on.
	MetricsEnable bool `yaml:"metricsEnable" env:"RLFTL_METRICS_ENABLE"`

	// LatencyDumpEnable writes every observed response time to a Parquet
	// file for offline analysis.
	LatencyDumpEnable bool `yaml:"latencyDumpEnable" env:"RLFTL_LATENCY_DUMP_ENABLE"`

	LogLevel  string `yaml:"logLevel" env:"RLFTL_LOG_LEVEL"`
	LogFormat string `yaml:"logFormat" env:"RLFTL_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			TotalBlocks:        1024,
			PagesPerBlock:      128,
			IOUnitsPerPage:     1,
			WriteFronts:        4,
			OverprovisionRatio: 0.25,
		},
		GC: GCConfig{
			Policy:              PolicyDefault,
			ThresholdRatio:      0.05,
			TGC:                 10,
			TIGC:                3,
			TAGC:                100,
			MaxPageCopies:       7,
			MaxGCOps:            2,
			IntensivePageCopies: 7,
			EvictPolicy:         EvictGreedy,
			DChoiceParam:        3,
			ReadTriggeredGC:     false,
			EarlyInvalidRatio:   0.6,
			LazyThreshold:       10,
			LazyMaxCopies:       3,
		},
		RL: RLConfig{
			LearningRate:   0.3,
			DiscountFactor: 0.8,
			InitEpsilon:    0.8,
			NumActions:     7,
		},
		Workload: WorkloadConfig{
			Mode:             "random",
			Requests:         100000,
			WriteRatio:       0.7,
			MeanIdleGapNs:    200000, // 200us
			FillRatio:        0.6,
			InvalidPageRatio: 0.2,
			FillingMode:      1,
			Seed:             1,
		},
		Latency: LatencyConfig{
			PageReadNs:   50000,   // 50us
			PageWriteNs:  500000,  // 500us
			BlockEraseNs: 3500000, // 3.5ms
		},
		Observability: ObservabilityConfig{
			OutputDir:     "output",
			MetricsEnable: true,
			LogLevel:      "info",
			LogFormat:     "json",
		},
	}
}

// LoadFromPath reads a YAML config file, applies environment overrides and
// validates the result. Defaults are used for any key the file omits.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load returns the default configuration with environment overrides applied.
func Load() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides every field carrying an env tag. Unparseable values are
// ignored and the file/default value stands.
func (c *Config) applyEnv() {
	envUint32("RLFTL_TOTAL_BLOCKS", &c.Device.TotalBlocks)
	envUint32("RLFTL_PAGES_PER_BLOCK", &c.Device.PagesPerBlock)
	envUint32("RLFTL_IO_UNITS_PER_PAGE", &c.Device.IOUnitsPerPage)
	envUint32("RLFTL_WRITE_FRONTS", &c.Device.WriteFronts)
	envFloat64("RLFTL_OVERPROVISION_RATIO", &c.Device.OverprovisionRatio)

	envString("RLFTL_GC_POLICY", &c.GC.Policy)
	envFloat64("RLFTL_GC_THRESHOLD_RATIO", &c.GC.ThresholdRatio)
	envUint32("RLFTL_TGC", &c.GC.TGC)
	envUint32("RLFTL_TIGC", &c.GC.TIGC)
	envUint32("RLFTL_TAGC", &c.GC.TAGC)
	envUint32("RLFTL_MAX_PAGE_COPIES", &c.GC.MaxPageCopies)
	envUint32("RLFTL_MAX_GC_OPS", &c.GC.MaxGCOps)
	envUint32("RLFTL_INTENSIVE_PAGE_COPIES", &c.GC.IntensivePageCopies)
	envString("RLFTL_EVICT_POLICY", &c.GC.EvictPolicy)
	envUint32("RLFTL_D_CHOICE_PARAM", &c.GC.DChoiceParam)
	envBool("RLFTL_READ_TRIGGERED_GC", &c.GC.ReadTriggeredGC)
	envFloat64("RLFTL_EARLY_INVALID_RATIO", &c.GC.EarlyInvalidRatio)
	envUint32("RLFTL_LAZY_THRESHOLD", &c.GC.LazyThreshold)
	envUint32("RLFTL_LAZY_MAX_COPIES", &c.GC.LazyMaxCopies)

	envFloat64("RLFTL_LEARNING_RATE", &c.RL.LearningRate)
	envFloat64("RLFTL_DISCOUNT_FACTOR", &c.RL.DiscountFactor)
	envFloat64("RLFTL_INIT_EPSILON", &c.RL.InitEpsilon)
	envUint32("RLFTL_NUM_ACTIONS", &c.RL.NumActions)

	envString("RLFTL_WORKLOAD_MODE", &c.Workload.Mode)
	envString("RLFTL_TRACE_PATH", &c.Workload.TracePath)
	envUint64("RLFTL_REQUESTS", &c.Workload.Requests)
	envFloat64("RLFTL_WRITE_RATIO", &c.Workload.WriteRatio)
	envUint64("RLFTL_MEAN_IDLE_GAP_NS", &c.Workload.MeanIdleGapNs)
	envFloat64("RLFTL_FILL_RATIO", &c.Workload.FillRatio)
	envFloat64("RLFTL_INVALID_PAGE_RATIO", &c.Workload.InvalidPageRatio)
	envInt("RLFTL_FILLING_MODE", &c.Workload.FillingMode)
	envInt64("RLFTL_SEED", &c.Workload.Seed)

	envUint64("RLFTL_PAGE_READ_NS", &c.Latency.PageReadNs)
	envUint64("RLFTL_PAGE_WRITE_NS", &c.Latency.PageWriteNs)
	envUint64("RLFTL_BLOCK_ERASE_NS", &c.Latency.BlockEraseNs)

	envString("RLFTL_OUTPUT_DIR", &c.Observability.OutputDir)
	envBool("RLFTL_METRICS_ENABLE", &c.Observability.MetricsEnable)
	envBool("RLFTL_LATENCY_DUMP_ENABLE", &c.Observability.LatencyDumpEnable)
	envString("RLFTL_LOG_LEVEL", &c.Observability.LogLevel)
	envString("RLFTL_LOG_FORMAT", &c.Observability.LogFormat)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envUint32(key string, dst *uint32) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func envUint64(key string, dst *uint64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat64(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate checks the configuration for values the simulator cannot run with.
func (c *Config) Validate() error {
	switch c.GC.Policy {
	case PolicyDefault, PolicyLazyRTGC, PolicyRLBaseline, PolicyRLIntensive, PolicyRLAggressive:
	default:
		return fmt.Errorf("%w: unknown gc policy %q", ErrInvalid, c.GC.Policy)
	}

	switch c.GC.EvictPolicy {
	case EvictGreedy, EvictCostBenefit, EvictRandom, EvictDChoice:
	default:
		return fmt.Errorf("%w: unknown evict policy %q", ErrInvalid, c.GC.EvictPolicy)
	}

	if c.Device.TotalBlocks == 0 {
		return fmt.Errorf("%w: totalBlocks must be positive", ErrInvalid)
	}
	if c.Device.PagesPerBlock == 0 {
		return fmt.Errorf("%w: pagesPerBlock must be positive", ErrInvalid)
	}
	if c.Device.IOUnitsPerPage == 0 || c.Device.IOUnitsPerPage > 32 {
		return fmt.Errorf("%w: ioUnitsPerPage must be in [1,32]", ErrInvalid)
	}
	if c.Device.WriteFronts == 0 || c.Device.WriteFronts >= c.Device.TotalBlocks {
		return fmt.Errorf("%w: writeFronts must be in [1,totalBlocks)", ErrInvalid)
	}
	if c.Device.OverprovisionRatio <= 0 || c.Device.OverprovisionRatio >= 1 {
		return fmt.Errorf("%w: overprovisionRatio must be in (0,1)", ErrInvalid)
	}

	if c.GC.TIGC > c.GC.TGC {
		return fmt.Errorf("%w: tigc (%d) must not exceed tgc (%d)", ErrInvalid, c.GC.TIGC, c.GC.TGC)
	}
	if c.GC.Policy == PolicyRLAggressive && c.GC.TAGC < c.GC.TGC {
		return fmt.Errorf("%w: tagc (%d) must not be below tgc (%d)", ErrInvalid, c.GC.TAGC, c.GC.TGC)
	}
	if c.GC.MaxPageCopies == 0 {
		return fmt.Errorf("%w: maxPageCopies must be positive", ErrInvalid)
	}
	if c.GC.DChoiceParam == 0 {
		return fmt.Errorf("%w: dChoiceParam must be positive", ErrInvalid)
	}
	if c.GC.EarlyInvalidRatio < 0 || c.GC.EarlyInvalidRatio > 1 {
		return fmt.Errorf("%w: earlyInvalidRatio must be in [0,1]", ErrInvalid)
	}

	if c.RL.LearningRate <= 0 || c.RL.LearningRate > 1 {
		return fmt.Errorf("%w: learningRate must be in (0,1]", ErrInvalid)
	}
	if c.RL.DiscountFactor < 0 || c.RL.DiscountFactor >= 1 {
		return fmt.Errorf("%w: discountFactor must be in [0,1)", ErrInvalid)
	}
	if c.RL.InitEpsilon < 0 || c.RL.InitEpsilon > 1 {
		return fmt.Errorf("%w: initEpsilon must be in [0,1]", ErrInvalid)
	}
	if c.RL.NumActions == 0 {
		return fmt.Errorf("%w: numActions must be positive", ErrInvalid)
	}

	switch c.Workload.Mode {
	case "sequential", "random", "bursty":
	case "trace":
		if c.Workload.TracePath == "" {
			return fmt.Errorf("%w: trace mode requires tracePath", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown workload mode %q", ErrInvalid, c.Workload.Mode)
	}
	if c.Workload.WriteRatio < 0 || c.Workload.WriteRatio > 1 {
		return fmt.Errorf("%w: writeRatio must be in [0,1]", ErrInvalid)
	}
	if c.Workload.FillRatio < 0 || c.Workload.FillRatio > 1 {
		return fmt.Errorf("%w: fillRatio must be in [0,1]", ErrInvalid)
	}
	if c.Workload.InvalidPageRatio < 0 || c.Workload.InvalidPageRatio > 1 {
		return fmt.Errorf("%w: invalidPageRatio must be in [0,1]", ErrInvalid)
	}

	return nil
}

// LogicalBlocks returns the number of logical blocks exposed to the host
// after overprovisioning.
func (c *Config) LogicalBlocks() uint32 {
	return uint32(float64(c.Device.TotalBlocks) * (1 - c.Device.OverprovisionRatio))
}

// LogicalPages returns the size of the logical page address space.
func (c *Config) LogicalPages() uint64 {
	return uint64(c.LogicalBlocks()) * uint64(c.Device.PagesPerBlock)
}
