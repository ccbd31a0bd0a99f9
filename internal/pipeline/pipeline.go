// Package pipeline drives the four-stage collection workflow: ladder entries,
// match ids, match details, match timelines. Stages run strictly in that
// order because each reads rows the previous one wrote; within a stage, items
// fan out over a bounded worker pool that shares the client's single
// rate-limit budget.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PadTo/lol-match-pipeline/internal/riot"
	"github.com/PadTo/lol-match-pipeline/internal/store"
)

// Stage names a pipeline stage.
type Stage string

// The four stages, in execution order.
const (
	StageLadder    Stage = "ladder"
	StageMatchIDs  Stage = "match_ids"
	StageDetails   Stage = "details"
	StageTimelines Stage = "timelines"
)

// AllStages lists the stages in execution order.
var AllStages = []Stage{StageLadder, StageMatchIDs, StageDetails, StageTimelines}

// Client is the API surface the pipeline needs; *riot.Client implements it.
type Client interface {
	LadderPage(ctx context.Context, queue riot.Queue, tier riot.Tier, division riot.Division, page int) ([]riot.LadderEntry, error)
	MatchIDs(ctx context.Context, puuid string, count int) ([]string, error)
	MatchDetail(ctx context.Context, matchID string) (riot.MatchDetail, error)
	MatchTimeline(ctx context.Context, matchID string) (riot.MatchTimeline, error)
}

// Config controls stage selection, sampling, and concurrency.
type Config struct {
	// Queues, Tiers, Divisions select the ladder tuples for stage one. Apex
	// tiers ignore Divisions and collect a single undivided ladder.
	Queues    []riot.Queue
	Tiers     []riot.Tier
	Divisions []riot.Division
	// PageLimit caps ladder pages per tuple; 0 means until an empty page.
	PageLimit int
	// MatchesPerPlayer caps match ids fetched per puuid in stage two.
	MatchesPerPlayer int
	// SampleBudget caps new matches fetched per run in stages three and
	// four, counted independently per stage; 0 means unbounded.
	SampleBudget int
	// Workers bounds per-stage fetch concurrency.
	Workers int
	// BatchSize bounds each pending-work read from the store.
	BatchSize int
	// Stages selects which stages run; empty means all.
	Stages []Stage
	// EventTypes filters timeline events before persistence; empty keeps all.
	EventTypes []string
}

func (c *Config) applyDefaults() {
	if len(c.Queues) == 0 {
		c.Queues = []riot.Queue{riot.QueueRankedSolo}
	}
	if len(c.Tiers) == 0 {
		c.Tiers = riot.AllTiers
	}
	if len(c.Divisions) == 0 {
		c.Divisions = riot.AllDivisions
	}
	if c.MatchesPerPlayer <= 0 {
		c.MatchesPerPlayer = 20
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if len(c.Stages) == 0 {
		c.Stages = AllStages
	}
}

// Validate rejects unknown tuple values and stage names.
func (c Config) Validate() error {
	for _, tier := range c.Tiers {
		if !tier.Valid() {
			return fmt.Errorf("pipeline: invalid tier %q", tier)
		}
	}
	for _, division := range c.Divisions {
		if !division.Valid() {
			return fmt.Errorf("pipeline: invalid division %q", division)
		}
	}
	for _, stage := range c.Stages {
		known := false
		for _, s := range AllStages {
			if stage == s {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("pipeline: unknown stage %q", stage)
		}
	}
	return nil
}

// StageSummary counts one stage's work items.
type StageSummary struct {
	Items    int64
	Inserted int64
	Skipped  int64
	Failed   int64
}

// Summary reports one pipeline run.
type Summary struct {
	RunID     string
	Started   time.Time
	Finished  time.Time
	Ladder    StageSummary
	MatchIDs  StageSummary
	Details   StageSummary
	Timelines StageSummary
}

// Pipeline wires the client and store into the staged workflow.
type Pipeline struct {
	client Client
	store  store.Store
	cfg    Config
	logger *zap.Logger
}

// New creates a Pipeline.
func New(client Client, st store.Store, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if client == nil {
		return nil, fmt.Errorf("pipeline: client is required")
	}
	if st == nil {
		return nil, fmt.Errorf("pipeline: store is required")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{client: client, store: st, cfg: cfg, logger: logger}, nil
}

// Run executes the enabled stages in order. Per-item failures are logged and
// skipped; a Fatal API error or a store failure aborts the run. The returned
// Summary is valid even when err is non-nil.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
	}
	logger := p.logger.With(zap.String("run_id", summary.RunID))
	logger.Info("pipeline run starting", zap.Any("stages", p.cfg.Stages))

	type stageFn struct {
		stage Stage
		out   *StageSummary
		run   func(context.Context, *zap.Logger, *StageSummary) error
	}
	stages := []stageFn{
		{StageLadder, &summary.Ladder, p.runLadderStage},
		{StageMatchIDs, &summary.MatchIDs, p.runMatchIDStage},
		{StageDetails, &summary.Details, p.runDetailStage},
		{StageTimelines, &summary.Timelines, p.runTimelineStage},
	}

	var err error
	for _, s := range stages {
		if !p.stageEnabled(s.stage) {
			logger.Info("stage skipped", zap.String("stage", string(s.stage)))
			continue
		}
		stageLogger := logger.With(zap.String("stage", string(s.stage)))
		stageLogger.Info("stage starting")
		if err = s.run(ctx, stageLogger, s.out); err != nil {
			stageLogger.Error("stage aborted", zap.Error(err))
			break
		}
		stageLogger.Info("stage finished",
			zap.Int64("items", s.out.Items),
			zap.Int64("inserted", s.out.Inserted),
			zap.Int64("skipped", s.out.Skipped),
			zap.Int64("failed", s.out.Failed))
	}

	summary.Finished = time.Now().UTC()
	logger.Info("pipeline run finished", zap.Duration("elapsed", summary.Finished.Sub(summary.Started)))
	return summary, err
}

func (p *Pipeline) stageEnabled(stage Stage) bool {
	for _, s := range p.cfg.Stages {
		if s == stage {
			return true
		}
	}
	return false
}
