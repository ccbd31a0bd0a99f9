package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PadTo/lol-match-pipeline/internal/metrics"
	"github.com/PadTo/lol-match-pipeline/internal/riot"
)

// errStore marks a persistence failure. A store that cannot accept writes is
// systemic, so these abort the run instead of skipping the item.
var errStore = errors.New("store write failed")

func storeFailed(err error) error {
	return fmt.Errorf("%w: %w", errStore, err)
}

type ladderTuple struct {
	queue    riot.Queue
	tier     riot.Tier
	division riot.Division
}

func (p *Pipeline) ladderTuples() []ladderTuple {
	var tuples []ladderTuple
	for _, queue := range p.cfg.Queues {
		for _, tier := range p.cfg.Tiers {
			if tier.IsApex() {
				tuples = append(tuples, ladderTuple{queue: queue, tier: tier, division: riot.DivisionNone})
				continue
			}
			for _, division := range p.cfg.Divisions {
				tuples = append(tuples, ladderTuple{queue: queue, tier: tier, division: division})
			}
		}
	}
	return tuples
}

// runLadderStage collects league entries for every configured tuple. Tuples
// fan out over the worker pool; pages within a tuple are serial because each
// page's emptiness decides whether the next one is fetched.
func (p *Pipeline) runLadderStage(ctx context.Context, logger *zap.Logger, out *StageSummary) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for _, tuple := range p.ladderTuples() {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			atomic.AddInt64(&out.Items, 1)
			err := p.collectLadderTuple(ctx, logger, tuple, out)
			return p.recordItemOutcome(logger, StageLadder,
				string(tuple.queue)+"/"+string(tuple.tier)+"/"+string(tuple.division), err, out)
		})
	}
	return g.Wait()
}

func (p *Pipeline) collectLadderTuple(ctx context.Context, logger *zap.Logger, tuple ladderTuple, out *StageSummary) error {
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := p.client.LadderPage(ctx, tuple.queue, tuple.tier, tuple.division, page)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		inserted, err := p.store.UpsertLadderEntries(ctx, entries)
		if err != nil {
			return storeFailed(err)
		}
		atomic.AddInt64(&out.Inserted, inserted)
		metrics.AddRowsInserted("ladder_entries", inserted)
		logger.Debug("ladder page stored",
			zap.String("tier", string(tuple.tier)),
			zap.String("division", string(tuple.division)),
			zap.Int("page", page),
			zap.Int("entries", len(entries)),
			zap.Int64("new", inserted))
		if p.cfg.PageLimit > 0 && page >= p.cfg.PageLimit {
			return nil
		}
	}
}

// runMatchIDStage expands every pending ladder puuid into match refs. A
// puuid that fails stays absent from match_refs and is retried on the next
// run; within this run it is not re-read from the cursor.
func (p *Pipeline) runMatchIDStage(ctx context.Context, logger *zap.Logger, out *StageSummary) error {
	attempted := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		puuids, err := p.store.PendingPuuids(ctx, p.cfg.BatchSize)
		if err != nil {
			return err
		}
		batch := puuids[:0:len(puuids)]
		for _, puuid := range puuids {
			if _, done := attempted[puuid]; !done {
				attempted[puuid] = struct{}{}
				batch = append(batch, puuid)
			}
		}
		if len(batch) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Workers)
		for _, puuid := range batch {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				atomic.AddInt64(&out.Items, 1)
				err := p.expandPuuid(gctx, puuid, out)
				return p.recordItemOutcome(logger, StageMatchIDs, puuid, err, out)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

func (p *Pipeline) expandPuuid(ctx context.Context, puuid string, out *StageSummary) error {
	ids, err := p.client.MatchIDs(ctx, puuid, p.cfg.MatchesPerPlayer)
	if err != nil {
		return err
	}
	inserted, err := p.store.InsertMatchRefs(ctx, puuid, ids)
	if err != nil {
		return storeFailed(err)
	}
	atomic.AddInt64(&out.Inserted, inserted)
	metrics.AddRowsInserted("match_refs", inserted)
	return nil
}

// runDetailStage fetches the end-of-game record for every referenced match
// that lacks one, up to the sample budget.
func (p *Pipeline) runDetailStage(ctx context.Context, logger *zap.Logger, out *StageSummary) error {
	return p.runMatchFetchStage(ctx, logger, StageDetails, out,
		p.store.PendingMatchIDsWithoutDetail,
		p.store.MatchDetailExists,
		func(ctx context.Context, matchID string, out *StageSummary) error {
			detail, err := p.client.MatchDetail(ctx, matchID)
			if err != nil {
				return err
			}
			inserted, err := p.store.InsertMatchDetail(ctx, detail)
			if err != nil {
				return storeFailed(err)
			}
			if inserted {
				atomic.AddInt64(&out.Inserted, 1)
				metrics.AddRowsInserted("matches", 1)
			} else {
				atomic.AddInt64(&out.Skipped, 1)
			}
			return nil
		})
}

// runTimelineStage fetches the timeline for every referenced match that
// lacks one, filtering events to the configured set before persisting.
func (p *Pipeline) runTimelineStage(ctx context.Context, logger *zap.Logger, out *StageSummary) error {
	return p.runMatchFetchStage(ctx, logger, StageTimelines, out,
		p.store.PendingMatchIDsWithoutTimeline,
		p.store.MatchTimelineExists,
		func(ctx context.Context, matchID string, out *StageSummary) error {
			timeline, err := p.client.MatchTimeline(ctx, matchID)
			if err != nil {
				return err
			}
			timeline = p.filterTimeline(timeline)
			inserted, err := p.store.InsertMatchTimeline(ctx, timeline)
			if err != nil {
				return storeFailed(err)
			}
			if inserted {
				atomic.AddInt64(&out.Inserted, 1)
				metrics.AddRowsInserted("match_timelines", 1)
			} else {
				atomic.AddInt64(&out.Skipped, 1)
			}
			return nil
		})
}

// runMatchFetchStage is the shared loop for the detail and timeline stages:
// drain the pending cursor in batches, re-check existence, fetch, insert.
func (p *Pipeline) runMatchFetchStage(
	ctx context.Context,
	logger *zap.Logger,
	stage Stage,
	out *StageSummary,
	pending func(context.Context, int) ([]string, error),
	exists func(context.Context, string) (bool, error),
	fetch func(context.Context, string, *StageSummary) error,
) error {
	attempted := make(map[string]struct{})
	var processed atomic.Int64

	budgetLeft := func() bool {
		return p.cfg.SampleBudget <= 0 || processed.Load() < int64(p.cfg.SampleBudget)
	}

	for budgetLeft() {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := pending(ctx, p.cfg.BatchSize)
		if err != nil {
			return err
		}
		batch := ids[:0:len(ids)]
		for _, id := range ids {
			if _, done := attempted[id]; !done {
				attempted[id] = struct{}{}
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Workers)
		for _, matchID := range batch {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				// The budget counts processed items, success or not, so a
				// run never exceeds its configured sample size.
				if p.cfg.SampleBudget > 0 && processed.Add(1) > int64(p.cfg.SampleBudget) {
					return nil
				}
				atomic.AddInt64(&out.Items, 1)
				done, err := exists(gctx, matchID)
				if err != nil {
					return err
				}
				if done {
					atomic.AddInt64(&out.Skipped, 1)
					metrics.IncStageItem(string(stage), "skipped")
					return nil
				}
				err = fetch(gctx, matchID, out)
				return p.recordItemOutcome(logger, stage, matchID, err, out)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	logger.Info("sample budget reached", zap.Int("budget", p.cfg.SampleBudget))
	return nil
}

// recordItemOutcome applies the per-item failure policy: fatal API errors
// and store failures abort the stage, everything else is logged and skipped
// so the item stays pending for the next run.
func (p *Pipeline) recordItemOutcome(logger *zap.Logger, stage Stage, item string, err error, out *StageSummary) error {
	if err == nil {
		metrics.IncStageItem(string(stage), "ok")
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, errStore) {
		return err
	}
	if riot.IsFatal(err) {
		return err
	}
	atomic.AddInt64(&out.Failed, 1)
	metrics.IncStageItem(string(stage), "failed")
	logger.Warn("item skipped",
		zap.String("item", item),
		zap.String("kind", riot.KindOf(err).String()),
		zap.Error(err))
	return nil
}

// filterTimeline drops events outside the configured type set, keeping frame
// and event order intact. An empty set keeps everything.
func (p *Pipeline) filterTimeline(timeline riot.MatchTimeline) riot.MatchTimeline {
	if len(p.cfg.EventTypes) == 0 {
		return timeline
	}
	keep := eventTypeSet(p.cfg.EventTypes)
	for i, frame := range timeline.Frames {
		filtered := frame.Events[:0:len(frame.Events)]
		for _, ev := range frame.Events {
			if _, ok := keep[ev.Type]; ok {
				filtered = append(filtered, ev)
			}
		}
		timeline.Frames[i].Events = filtered
	}
	return timeline
}

func eventTypeSet(types []string) map[string]struct{} {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}
