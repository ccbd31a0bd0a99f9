package riot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PadTo/lol-match-pipeline/internal/clock"
	"github.com/PadTo/lol-match-pipeline/internal/metrics"
	"github.com/PadTo/lol-match-pipeline/internal/ratelimit"
	"github.com/PadTo/lol-match-pipeline/internal/retry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) sleeper(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

// testLimiter builds a generous limiter on a simulated clock so tests never
// block on real time.
func testLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	clk := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l, err := ratelimit.NewWithClock(ratelimit.Config{
		Windows: []ratelimit.Window{{Limit: 1000, Span: time.Second}},
		MaxWait: time.Hour,
	}, clk, clk.sleeper)
	require.NoError(t, err)
	return l
}

func testClient(t *testing.T, serverURL string, cfg ClientConfig) *Client {
	t.Helper()
	metrics.Init()
	cfg.APIKey = "test-key"
	cfg.PlatformBaseURL = serverURL
	cfg.RegionalBaseURL = serverURL
	limiter := testLimiter(t)
	policy := retry.New(retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	})
	c, err := NewClient(cfg, limiter, policy, nil, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestClient_LadderPage(t *testing.T) {
	t.Parallel()

	var gotToken string
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Riot-Token")
		gotPath = r.URL.Path
		w.Write([]byte(`[{"puuid":"p1","tier":"GOLD","rank":"II","queueType":"RANKED_SOLO_5x5"}]`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, ClientConfig{})
	entries, err := c.LadderPage(context.Background(), QueueRankedSolo, TierGold, DivisionII, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "p1", entries[0].PUUID)
	require.Equal(t, TierGold, entries[0].Tier)
	require.Equal(t, "test-key", gotToken)
	require.Equal(t, "/lol/league-exp/v4/entries/RANKED_SOLO_5x5/GOLD/II", gotPath)
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, ClientConfig{})
	_, err := c.MatchDetail(context.Background(), "EUW1_404")
	require.Equal(t, KindNotFound, KindOf(err))
	require.Equal(t, int32(1), calls.Load())
}

func TestClient_ForbiddenIsFatal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, ClientConfig{})
	_, err := c.MatchIDs(context.Background(), "p1", 20)
	require.Equal(t, KindFatal, KindOf(err))
	require.True(t, IsFatal(err))
	require.Equal(t, int32(1), calls.Load())
}

func TestClient_TransientRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`["EUW1_1","EUW1_2"]`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, ClientConfig{})
	ids, err := c.MatchIDs(context.Background(), "p1", 20)
	require.NoError(t, err)
	require.Equal(t, []string{"EUW1_1", "EUW1_2"}, ids)
	require.Equal(t, int32(3), calls.Load())
}

func TestClient_TransientRetriesExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, ClientConfig{})
	_, err := c.MatchIDs(context.Background(), "p1", 20)
	require.Equal(t, KindTransient, KindOf(err))
	require.Equal(t, int32(3), calls.Load(), "three attempts for max_attempts=3")
}

func TestClient_RateLimitedHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`["EUW1_1"]`)) //nolint:errcheck
	}))
	defer srv.Close()

	clk := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter, err := ratelimit.NewWithClock(ratelimit.Config{
		Windows: []ratelimit.Window{{Limit: 1000, Span: time.Second}},
		MaxWait: time.Hour,
	}, clk, clk.sleeper)
	require.NoError(t, err)

	c, err := NewClient(ClientConfig{
		APIKey:          "k",
		PlatformBaseURL: srv.URL,
		RegionalBaseURL: srv.URL,
	}, limiter, retry.New(retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond}), nil, zap.NewNop())
	require.NoError(t, err)

	start := clk.Now()
	ids, err := c.MatchIDs(context.Background(), "p1", 20)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Equal(t, int32(2), calls.Load())
	require.GreaterOrEqual(t, clk.Now().Sub(start), 30*time.Second,
		"second attempt admitted before retry-after elapsed")
}

func TestClient_RateLimitedExhaustedIsTerminal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	clk := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter, err := ratelimit.NewWithClock(ratelimit.Config{
		Windows: []ratelimit.Window{{Limit: 1000, Span: time.Second}},
		MaxWait: time.Hour,
	}, clk, clk.sleeper)
	require.NoError(t, err)

	c, err := NewClient(ClientConfig{
		APIKey:              "k",
		PlatformBaseURL:     srv.URL,
		RegionalBaseURL:     srv.URL,
		MaxRateLimitRetries: 2,
	}, limiter, retry.New(retry.Config{}), nil, zap.NewNop())
	require.NoError(t, err)

	_, err = c.MatchIDs(context.Background(), "p1", 20)
	require.Equal(t, KindRateLimited, KindOf(err))
	// Initial call plus two bounded retries.
	require.Equal(t, int32(3), calls.Load())
}

func TestClient_ApexTierUsesDivisionIOnTheWire(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`[{"puuid":"p1","tier":"CHALLENGER"}]`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, ClientConfig{})
	entries, err := c.LadderPage(context.Background(), QueueRankedSolo, TierChallenger, DivisionNone, 1)
	require.NoError(t, err)
	require.Equal(t, "/lol/league-exp/v4/entries/RANKED_SOLO_5x5/CHALLENGER/I", gotPath)
	require.Equal(t, DivisionNone, entries[0].Division)
}

type recordingArchiver struct {
	mu   sync.Mutex
	keys []string
}

func (a *recordingArchiver) Put(_ context.Context, key string, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return "mem://" + key, nil
}

func TestClient_ArchivesEveryEndpointPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/timeline"):
			w.Write([]byte(`{"metadata":{"matchId":"EUW1_1"},"info":{"frames":[]}}`)) //nolint:errcheck
		case strings.Contains(r.URL.Path, "/by-puuid/"):
			w.Write([]byte(`["EUW1_1"]`)) //nolint:errcheck
		case strings.Contains(r.URL.Path, "/matches/"):
			w.Write([]byte(`{"metadata":{"matchId":"EUW1_1"},"info":{}}`)) //nolint:errcheck
		default:
			w.Write([]byte(`[{"puuid":"p1"}]`)) //nolint:errcheck
		}
	}))
	defer srv.Close()

	archiver := &recordingArchiver{}
	c, err := NewClient(ClientConfig{
		APIKey:          "k",
		PlatformBaseURL: srv.URL,
		RegionalBaseURL: srv.URL,
	}, testLimiter(t), retry.New(retry.Config{}), archiver, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.LadderPage(ctx, QueueRankedSolo, TierGold, DivisionII, 1)
	require.NoError(t, err)
	_, err = c.MatchIDs(ctx, "p1", 20)
	require.NoError(t, err)
	_, err = c.MatchDetail(ctx, "EUW1_1")
	require.NoError(t, err)
	_, err = c.MatchTimeline(ctx, "EUW1_1")
	require.NoError(t, err)

	require.Equal(t, []string{
		"ladder/RANKED_SOLO_5x5_GOLD_II_p1.json",
		"match_ids/p1.json",
		"match/EUW1_1.json",
		"timeline/EUW1_1.json",
	}, archiver.keys)
}

// Not parallel: scrapes the shared metrics registry after its own request.
func TestClient_RequestLatencyExcludesLimiterWait(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "45")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`["EUW1_1"]`)) //nolint:errcheck
	}))
	defer srv.Close()

	metrics.Init()
	clk := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter, err := ratelimit.NewWithClock(ratelimit.Config{
		Windows: []ratelimit.Window{{Limit: 1000, Span: time.Second}},
		MaxWait: time.Hour,
	}, clk, clk.sleeper)
	require.NoError(t, err)

	c, err := NewClient(ClientConfig{
		APIKey:          "k",
		PlatformBaseURL: srv.URL,
		RegionalBaseURL: srv.URL,
	}, limiter, retry.New(retry.Config{}), nil, zap.NewNop())
	require.NoError(t, err)
	c.SetClock(clk)

	_, err = c.MatchIDs(context.Background(), "p1", 20)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	sum := metricValue(t, rec.Body.String(), `riot_api_request_duration_seconds_sum{endpoint="match_ids"}`)
	// The 45s penalty wait must not leak into the exchange histogram.
	require.Less(t, sum, 10.0)
}

func metricValue(t *testing.T, exposition, name string) float64 {
	t.Helper()
	for _, line := range strings.Split(exposition, "\n") {
		if !strings.HasPrefix(line, name) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, name)), 64)
		require.NoError(t, err)
		return v
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

var _ clock.Clock = (*fakeClock)(nil)
