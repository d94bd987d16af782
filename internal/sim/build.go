package sim

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/dray-io/rlftl/internal/config"
	"github.com/dray-io/rlftl/internal/ftl"
	"github.com/dray-io/rlftl/internal/logging"
	"github.com/dray-io/rlftl/internal/metrics"
	"github.com/dray-io/rlftl/internal/policy"
)

// buildPolicy maps the config's policy selection onto a policy instance.
func buildPolicy(cfg *config.Config, rng *rand.Rand) (ftl.GCPolicy, error) {
	sched := policy.SchedulerConfig{
		TGC:                 cfg.GC.TGC,
		TIGC:                cfg.GC.TIGC,
		MaxPageCopies:       cfg.GC.MaxPageCopies,
		IntensivePageCopies: cfg.GC.IntensivePageCopies,
		NumActions:          cfg.RL.NumActions,
		LearningRate:        cfg.RL.LearningRate,
		DiscountFactor:      cfg.RL.DiscountFactor,
		InitEpsilon:         cfg.RL.InitEpsilon,
	}

	switch cfg.GC.Policy {
	case config.PolicyDefault:
		return policy.NewWholeBlock(cfg.Device.TotalBlocks, cfg.GC.ThresholdRatio, cfg.Device.PagesPerBlock), nil

	case config.PolicyLazyRTGC:
		return policy.NewLazyRTGC(cfg.GC.LazyThreshold, cfg.GC.LazyMaxCopies), nil

	case config.PolicyRLBaseline:
		sched.TailPenalty = -1.0
		return policy.NewScheduler("rl_baseline", sched, rng), nil

	case config.PolicyRLIntensive:
		sched.TailPenalty = -0.5
		return policy.NewScheduler("rl_intensive", sched, rng), nil

	case config.PolicyRLAggressive:
		agg := policy.AggressiveConfig{
			SchedulerConfig:   sched,
			TAGC:              cfg.GC.TAGC,
			MaxEarlyOps:       cfg.GC.MaxGCOps,
			ReadTriggered:     cfg.GC.ReadTriggeredGC,
			EarlyInvalidRatio: cfg.GC.EarlyInvalidRatio,
		}
		agg.TailPenalty = -0.5
		return policy.NewAggressive(agg, rng), nil

	default:
		return nil, fmt.Errorf("sim: unknown gc policy %q", cfg.GC.Policy)
	}
}

// Build assembles a Simulator from validated configuration.
func Build(cfg *config.Config, log *logging.Logger) (*Simulator, error) {
	if log == nil {
		log = logging.Global()
	}

	rng := rand.New(rand.NewSource(cfg.Workload.Seed))

	pol, err := buildPolicy(cfg, rng)
	if err != nil {
		return nil, err
	}

	var prom *metrics.GCMetrics
	var sink *metrics.Sink
	if cfg.Observability.MetricsEnable {
		prom = metrics.NewGCMetrics()
		sink = metrics.NewSink(cfg.Observability.OutputDir, pol.Name(), log, prom)
	}

	evict, err := ftl.ParseEvictPolicy(cfg.GC.EvictPolicy)
	if err != nil {
		return nil, err
	}

	params := ftl.Params{
		TotalBlocks:    cfg.Device.TotalBlocks,
		PagesPerBlock:  cfg.Device.PagesPerBlock,
		IOUnitsPerPage: cfg.Device.IOUnitsPerPage,
		WriteFronts:    cfg.Device.WriteFronts,
		LogicalPages:   cfg.LogicalPages(),
		Latency: ftl.LatencyModel{
			PageRead:   cfg.Latency.PageReadNs,
			PageWrite:  cfg.Latency.PageWriteNs,
			BlockErase: cfg.Latency.BlockEraseNs,
		},
	}

	var rec ftl.Recorder
	if sink != nil {
		rec = sink
	}

	core, err := ftl.New(params, pol, evict, cfg.GC.DChoiceParam, rec, rng)
	if err != nil {
		return nil, err
	}

	var dump *metrics.LatencyDump
	if cfg.Observability.LatencyDumpEnable {
		path := filepath.Join(cfg.Observability.OutputDir, pol.Name()+"_latency.parquet")
		dump = metrics.NewLatencyDump(path, log)
	}

	return &Simulator{
		cfg:  cfg,
		core: core,
		pol:  pol,
		sink: sink,
		dump: dump,
		log:  log,
		rng:  rng,
	}, nil
}
