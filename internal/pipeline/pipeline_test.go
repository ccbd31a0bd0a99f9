package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PadTo/lol-match-pipeline/internal/riot"
	"github.com/PadTo/lol-match-pipeline/internal/store/memory"
)

type fakeClient struct {
	mu sync.Mutex

	ladderPages map[string][]riot.LadderEntry
	ladderErr   error
	matchIDs    map[string][]string
	matchIDErr  map[string]error
	details     map[string]riot.MatchDetail
	timelines   map[string]riot.MatchTimeline

	ladderCalls   int
	idCalls       map[string]int
	detailCalls   map[string]int
	timelineCalls map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		ladderPages:   make(map[string][]riot.LadderEntry),
		matchIDs:      make(map[string][]string),
		matchIDErr:    make(map[string]error),
		details:       make(map[string]riot.MatchDetail),
		timelines:     make(map[string]riot.MatchTimeline),
		idCalls:       make(map[string]int),
		detailCalls:   make(map[string]int),
		timelineCalls: make(map[string]int),
	}
}

func pageKey(tier riot.Tier, division riot.Division, page int) string {
	return fmt.Sprintf("%s/%s/%d", tier, division, page)
}

func (f *fakeClient) setLadderPage(tier riot.Tier, division riot.Division, page int, puuids ...string) {
	entries := make([]riot.LadderEntry, 0, len(puuids))
	for _, puuid := range puuids {
		entries = append(entries, riot.LadderEntry{
			PUUID:     puuid,
			QueueType: riot.QueueRankedSolo,
			Tier:      tier,
			Division:  division,
		})
	}
	f.ladderPages[pageKey(tier, division, page)] = entries
}

func (f *fakeClient) LadderPage(_ context.Context, _ riot.Queue, tier riot.Tier, division riot.Division, page int) ([]riot.LadderEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ladderCalls++
	if f.ladderErr != nil {
		return nil, f.ladderErr
	}
	return f.ladderPages[pageKey(tier, division, page)], nil
}

func (f *fakeClient) MatchIDs(_ context.Context, puuid string, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls[puuid]++
	if err := f.matchIDErr[puuid]; err != nil {
		return nil, err
	}
	return f.matchIDs[puuid], nil
}

func (f *fakeClient) MatchDetail(_ context.Context, matchID string) (riot.MatchDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls[matchID]++
	if d, ok := f.details[matchID]; ok {
		return d, nil
	}
	return riot.MatchDetail{MatchID: matchID, QueueID: 420}, nil
}

func (f *fakeClient) MatchTimeline(_ context.Context, matchID string) (riot.MatchTimeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timelineCalls[matchID]++
	if t, ok := f.timelines[matchID]; ok {
		return t, nil
	}
	return riot.MatchTimeline{MatchID: matchID, FrameInterval: time.Minute}, nil
}

func (f *fakeClient) calls(m map[string]int, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[key]
}

func goldIIConfig() Config {
	return Config{
		Queues:    []riot.Queue{riot.QueueRankedSolo},
		Tiers:     []riot.Tier{riot.TierGold},
		Divisions: []riot.Division{riot.DivisionII},
		Workers:   2,
	}
}

func TestRunCollectsAllStages(t *testing.T) {
	client := newFakeClient()
	client.setLadderPage(riot.TierGold, riot.DivisionII, 1, "p1", "p2")
	client.matchIDs["p1"] = []string{"M1", "M2"}
	client.matchIDs["p2"] = []string{"M2", "M3"}
	st := memory.New()

	p, err := New(client, st, goldIIConfig(), zap.NewNop())
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)

	ladder, refs, details, timelines := st.Counts()
	require.Equal(t, 2, ladder)
	require.Equal(t, 4, refs)
	require.Equal(t, 3, details)
	require.Equal(t, 3, timelines)

	require.Equal(t, int64(2), summary.Ladder.Inserted)
	require.Equal(t, int64(4), summary.MatchIDs.Inserted)
	require.Equal(t, int64(3), summary.Details.Inserted)
	require.Equal(t, int64(3), summary.Timelines.Inserted)
}

func TestDuplicateIDsInOneResponseStoredOnce(t *testing.T) {
	client := newFakeClient()
	client.setLadderPage(riot.TierGold, riot.DivisionII, 1, "p1")
	client.matchIDs["p1"] = []string{"M1", "M2", "M1"}
	st := memory.New()

	cfg := goldIIConfig()
	cfg.Stages = []Stage{StageLadder, StageMatchIDs}
	p, err := New(client, st, cfg, zap.NewNop())
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	_, refs, _, _ := st.Counts()
	require.Equal(t, 2, refs)
	require.Equal(t, int64(2), summary.MatchIDs.Inserted)
}

func TestExistingDetailNotRefetched(t *testing.T) {
	client := newFakeClient()
	st := memory.New()
	_, err := st.InsertMatchRefs(context.Background(), "p1", []string{"M1", "M2"})
	require.NoError(t, err)
	inserted, err := st.InsertMatchDetail(context.Background(), riot.MatchDetail{MatchID: "M1"})
	require.NoError(t, err)
	require.True(t, inserted)

	cfg := goldIIConfig()
	cfg.Stages = []Stage{StageDetails}
	p, err := New(client, st, cfg, zap.NewNop())
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 0, client.calls(client.detailCalls, "M1"))
	require.Equal(t, 1, client.calls(client.detailCalls, "M2"))
	require.Equal(t, int64(1), summary.Details.Inserted)
}

func TestRerunIsFixedPoint(t *testing.T) {
	client := newFakeClient()
	client.setLadderPage(riot.TierGold, riot.DivisionII, 1, "p1")
	client.matchIDs["p1"] = []string{"M1", "M2"}
	st := memory.New()

	p, err := New(client, st, goldIIConfig(), zap.NewNop())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)
	firstDetail := client.calls(client.detailCalls, "M1")

	second, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(0), second.Ladder.Inserted)
	require.Equal(t, int64(0), second.MatchIDs.Inserted)
	require.Equal(t, int64(0), second.Details.Inserted)
	require.Equal(t, int64(0), second.Timelines.Inserted)
	require.Equal(t, firstDetail, client.calls(client.detailCalls, "M1"))
}

func TestSampleBudgetHaltsStage(t *testing.T) {
	client := newFakeClient()
	st := memory.New()
	_, err := st.InsertMatchRefs(context.Background(), "p1", []string{"M1", "M2", "M3", "M4", "M5"})
	require.NoError(t, err)

	cfg := goldIIConfig()
	cfg.Stages = []Stage{StageDetails}
	cfg.SampleBudget = 2
	cfg.Workers = 1
	p, err := New(client, st, cfg, zap.NewNop())
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	_, _, details, _ := st.Counts()
	require.Equal(t, 2, details)
	require.Equal(t, int64(2), summary.Details.Inserted)
}

func TestFatalErrorAbortsRun(t *testing.T) {
	client := newFakeClient()
	client.ladderErr = &riot.Error{Kind: riot.KindFatal, Endpoint: "ladder", StatusCode: 403}
	st := memory.New()

	p, err := New(client, st, goldIIConfig(), zap.NewNop())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, riot.KindFatal, riot.KindOf(err))
	require.Equal(t, 0, client.calls(client.idCalls, "p1"))
}

func TestTransientItemFailureSkipsAndContinues(t *testing.T) {
	client := newFakeClient()
	client.setLadderPage(riot.TierGold, riot.DivisionII, 1, "p1", "p2")
	client.matchIDErr["p1"] = &riot.Error{Kind: riot.KindTransient, Endpoint: "match_ids", StatusCode: 503}
	client.matchIDs["p2"] = []string{"M1"}
	st := memory.New()

	cfg := goldIIConfig()
	cfg.Stages = []Stage{StageLadder, StageMatchIDs}
	p, err := New(client, st, cfg, zap.NewNop())
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(1), summary.MatchIDs.Failed)
	_, refs, _, _ := st.Counts()
	require.Equal(t, 1, refs)
	// The failed puuid is not re-read within the run.
	require.Equal(t, 1, client.calls(client.idCalls, "p1"))
}

func TestTimelineEventsFiltered(t *testing.T) {
	client := newFakeClient()
	st := memory.New()
	_, err := st.InsertMatchRefs(context.Background(), "p1", []string{"M1"})
	require.NoError(t, err)
	client.timelines["M1"] = riot.MatchTimeline{
		MatchID:       "M1",
		FrameInterval: time.Minute,
		Frames: []riot.Frame{{
			Timestamp: time.Minute,
			Events: []riot.Event{
				{Type: "CHAMPION_KILL", Timestamp: 10 * time.Second},
				{Type: "ITEM_PURCHASED", Timestamp: 20 * time.Second},
				{Type: "BUILDING_KILL", Timestamp: 30 * time.Second},
			},
		}},
	}

	cfg := goldIIConfig()
	cfg.Stages = []Stage{StageTimelines}
	cfg.EventTypes = []string{"CHAMPION_KILL", "BUILDING_KILL", "ELITE_MONSTER_KILL"}
	p, err := New(client, st, cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	stored, ok := st.Timeline("M1")
	require.True(t, ok)
	require.Len(t, stored.Frames, 1)
	require.Len(t, stored.Frames[0].Events, 2)
	require.Equal(t, "CHAMPION_KILL", stored.Frames[0].Events[0].Type)
	require.Equal(t, "BUILDING_KILL", stored.Frames[0].Events[1].Type)
}

func TestStageSelection(t *testing.T) {
	client := newFakeClient()
	client.setLadderPage(riot.TierGold, riot.DivisionII, 1, "p1")
	client.matchIDs["p1"] = []string{"M1"}
	st := memory.New()

	cfg := goldIIConfig()
	cfg.Stages = []Stage{StageLadder}
	p, err := New(client, st, cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	ladder, refs, _, _ := st.Counts()
	require.Equal(t, 1, ladder)
	require.Equal(t, 0, refs)
	require.Equal(t, 0, client.calls(client.idCalls, "p1"))
}

func TestApexTierIgnoresDivisions(t *testing.T) {
	client := newFakeClient()
	client.setLadderPage(riot.TierChallenger, riot.DivisionNone, 1, "apex1")
	st := memory.New()

	cfg := Config{
		Queues:    []riot.Queue{riot.QueueRankedSolo},
		Tiers:     []riot.Tier{riot.TierChallenger},
		Divisions: riot.AllDivisions,
		Stages:    []Stage{StageLadder},
		Workers:   1,
	}
	p, err := New(client, st, cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	// One tuple, two pages (the second is empty), not one per division.
	require.Equal(t, 2, client.ladderCalls)
	ladder, _, _, _ := st.Counts()
	require.Equal(t, 1, ladder)
}

func TestPageLimitStopsPagination(t *testing.T) {
	client := newFakeClient()
	client.setLadderPage(riot.TierGold, riot.DivisionII, 1, "p1")
	client.setLadderPage(riot.TierGold, riot.DivisionII, 2, "p2")
	client.setLadderPage(riot.TierGold, riot.DivisionII, 3, "p3")
	st := memory.New()

	cfg := goldIIConfig()
	cfg.Stages = []Stage{StageLadder}
	cfg.PageLimit = 2
	p, err := New(client, st, cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, client.ladderCalls)
	ladder, _, _, _ := st.Counts()
	require.Equal(t, 2, ladder)
}

func TestCancelledContextStopsRun(t *testing.T) {
	client := newFakeClient()
	client.setLadderPage(riot.TierGold, riot.DivisionII, 1, "p1")
	st := memory.New()

	p, err := New(client, st, goldIIConfig(), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(newFakeClient(), memory.New(), Config{Tiers: []riot.Tier{"WOOD"}}, zap.NewNop())
	require.Error(t, err)

	_, err = New(newFakeClient(), memory.New(), Config{Stages: []Stage{"reticulate"}}, zap.NewNop())
	require.Error(t, err)

	_, err = New(nil, memory.New(), Config{}, zap.NewNop())
	require.Error(t, err)
}

func TestStoreErrorAbortsRun(t *testing.T) {
	seedRefs := func(t *testing.T, st *memory.Store) {
		t.Helper()
		_, err := st.InsertMatchRefs(context.Background(), "p1", []string{"M1"})
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		stages []Stage
		seed   func(*testing.T, *memory.Store)
		fail   func(*failingStore)
	}{
		{
			name:   "ladder upsert",
			stages: []Stage{StageLadder},
			fail:   func(f *failingStore) { f.failUpsert = true },
		},
		{
			name:   "match refs insert",
			stages: []Stage{StageLadder, StageMatchIDs},
			fail:   func(f *failingStore) { f.failRefs = true },
		},
		{
			name:   "match detail insert",
			stages: []Stage{StageDetails},
			seed:   seedRefs,
			fail:   func(f *failingStore) { f.failDetail = true },
		},
		{
			name:   "match timeline insert",
			stages: []Stage{StageTimelines},
			seed:   seedRefs,
			fail:   func(f *failingStore) { f.failTimeline = true },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			client.setLadderPage(riot.TierGold, riot.DivisionII, 1, "p1")
			client.matchIDs["p1"] = []string{"M1"}

			st := &failingStore{Store: memory.New()}
			tt.fail(st)
			if tt.seed != nil {
				tt.seed(t, st.Store)
			}

			cfg := goldIIConfig()
			cfg.Stages = tt.stages
			p, err := New(client, st, cfg, zap.NewNop())
			require.NoError(t, err)

			_, err = p.Run(context.Background())
			require.ErrorIs(t, err, errStoreDown)
			require.ErrorIs(t, err, errStore)
		})
	}
}

var errStoreDown = errors.New("connection refused")

// failingStore fails selected write methods and delegates the rest.
type failingStore struct {
	*memory.Store
	failUpsert   bool
	failRefs     bool
	failDetail   bool
	failTimeline bool
}

func (f *failingStore) UpsertLadderEntries(ctx context.Context, entries []riot.LadderEntry) (int64, error) {
	if f.failUpsert {
		return 0, errStoreDown
	}
	return f.Store.UpsertLadderEntries(ctx, entries)
}

func (f *failingStore) InsertMatchRefs(ctx context.Context, puuid string, ids []string) (int64, error) {
	if f.failRefs {
		return 0, errStoreDown
	}
	return f.Store.InsertMatchRefs(ctx, puuid, ids)
}

func (f *failingStore) InsertMatchDetail(ctx context.Context, detail riot.MatchDetail) (bool, error) {
	if f.failDetail {
		return false, errStoreDown
	}
	return f.Store.InsertMatchDetail(ctx, detail)
}

func (f *failingStore) InsertMatchTimeline(ctx context.Context, timeline riot.MatchTimeline) (bool, error) {
	if f.failTimeline {
		return false, errStoreDown
	}
	return f.Store.InsertMatchTimeline(ctx, timeline)
}
