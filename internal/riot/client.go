package riot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/PadTo/lol-match-pipeline/internal/archive"
	"github.com/PadTo/lol-match-pipeline/internal/clock"
	"github.com/PadTo/lol-match-pipeline/internal/metrics"
	"github.com/PadTo/lol-match-pipeline/internal/ratelimit"
	"github.com/PadTo/lol-match-pipeline/internal/retry"
)

// Responses larger than this are treated as malformed rather than buffered.
const maxResponseBytes = 32 << 20

// Endpoint labels used in logs and metrics.
const (
	EndpointLadder   = "ladder_entries"
	EndpointMatchIDs = "match_ids"
	EndpointMatch    = "match"
	EndpointTimeline = "match_timeline"
)

// Doer abstracts *http.Client for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds the knobs for the API client.
type ClientConfig struct {
	// APIKey is the opaque credential sent in the X-Riot-Token header.
	APIKey string
	// PlatformBaseURL serves league-v4 (e.g. https://euw1.api.riotgames.com).
	PlatformBaseURL string
	// RegionalBaseURL serves match-v5 (e.g. https://europe.api.riotgames.com).
	RegionalBaseURL string
	// RequestTimeout bounds a single HTTP exchange.
	RequestTimeout time.Duration
	// MaxRateLimitRetries bounds how many 429 responses one call absorbs
	// before surfacing RateLimited as the item's terminal outcome.
	MaxRateLimitRetries int
	// DefaultRetryAfter applies when a 429 carries no Retry-After header.
	DefaultRetryAfter time.Duration
}

func (c *ClientConfig) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxRateLimitRetries <= 0 {
		c.MaxRateLimitRetries = 3
	}
	if c.DefaultRetryAfter <= 0 {
		c.DefaultRetryAfter = 10 * time.Second
	}
}

// Client issues authenticated GETs against the Riot endpoints, blocking on
// the shared rate-limit budget before every request and classifying every
// failure into an ErrorKind. Safe for concurrent use.
type Client struct {
	cfg      ClientConfig
	http     Doer
	limiter  *ratelimit.Limiter
	policy   *retry.Policy
	archiver archive.Archiver
	clock    clock.Clock
	logger   *zap.Logger
}

// NewClient builds a Client. limiter and policy are required; archiver may be
// nil to disable raw-payload archival.
func NewClient(
	cfg ClientConfig,
	limiter *ratelimit.Limiter,
	policy *retry.Policy,
	archiver archive.Archiver,
	logger *zap.Logger,
) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("riot: api key is required")
	}
	if cfg.PlatformBaseURL == "" || cfg.RegionalBaseURL == "" {
		return nil, fmt.Errorf("riot: platform and regional base urls are required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("riot: rate limiter is required")
	}
	if policy == nil {
		return nil, fmt.Errorf("riot: retry policy is required")
	}
	cfg.applyDefaults()
	if archiver == nil {
		archiver = archive.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		limiter:  limiter,
		policy:   policy,
		archiver: archiver,
		clock:    clock.NewSystem(),
		logger:   logger,
	}, nil
}

// SetHTTPClient replaces the transport, primarily for tests.
func (c *Client) SetHTTPClient(doer Doer) {
	c.http = doer
}

// SetClock replaces the time source, primarily for tests.
func (c *Client) SetClock(clk clock.Clock) {
	c.clock = clk
}

// LadderPage fetches one page of league entries for a queue/tier/division.
// Apex tiers use division I on the wire; callers store DivisionNone for them.
func (c *Client) LadderPage(ctx context.Context, queue Queue, tier Tier, division Division, page int) ([]LadderEntry, error) {
	wireDivision := division
	if tier.IsApex() {
		wireDivision = DivisionI
	}
	// league-exp covers apex tiers, which the plain league-v4 entries
	// endpoint does not.
	url := fmt.Sprintf("%s/lol/league-exp/v4/entries/%s/%s/%s?page=%d",
		c.cfg.PlatformBaseURL, queue, tier, wireDivision, page)
	key := fmt.Sprintf("ladder/%s_%s_%s_p%d.json", queue, tier, division, page)

	body, err := c.get(ctx, EndpointLadder, url, key)
	if err != nil {
		return nil, err
	}
	defaults := LadderDefaults{Queue: queue, Tier: tier, Division: division}
	entries, err := ToLadderEntries(body, defaults, c.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("ladder page %s/%s/%s: %w", queue, tier, division, err)
	}
	return entries, nil
}

// MatchIDs fetches up to count match ids for a player, newest first.
func (c *Client) MatchIDs(ctx context.Context, puuid string, count int) ([]string, error) {
	url := fmt.Sprintf("%s/lol/match/v5/matches/by-puuid/%s/ids?start=0&count=%d",
		c.cfg.RegionalBaseURL, puuid, count)

	body, err := c.get(ctx, EndpointMatchIDs, url, "match_ids/"+puuid+".json")
	if err != nil {
		return nil, err
	}
	ids, err := ToMatchIDs(body)
	if err != nil {
		return nil, fmt.Errorf("match ids for %s: %w", puuid, err)
	}
	return ids, nil
}

// MatchDetail fetches the end-of-game record for one match.
func (c *Client) MatchDetail(ctx context.Context, matchID string) (MatchDetail, error) {
	url := fmt.Sprintf("%s/lol/match/v5/matches/%s", c.cfg.RegionalBaseURL, matchID)

	body, err := c.get(ctx, EndpointMatch, url, "match/"+matchID+".json")
	if err != nil {
		return MatchDetail{}, err
	}
	detail, err := ToMatchDetail(body)
	if err != nil {
		return MatchDetail{}, fmt.Errorf("match %s: %w", matchID, err)
	}
	return detail, nil
}

// MatchTimeline fetches the frame-by-frame event log for one match.
func (c *Client) MatchTimeline(ctx context.Context, matchID string) (MatchTimeline, error) {
	url := fmt.Sprintf("%s/lol/match/v5/matches/%s/timeline", c.cfg.RegionalBaseURL, matchID)

	body, err := c.get(ctx, EndpointTimeline, url, "timeline/"+matchID+".json")
	if err != nil {
		return MatchTimeline{}, err
	}
	timeline, err := ToMatchTimeline(body)
	if err != nil {
		return MatchTimeline{}, fmt.Errorf("timeline %s: %w", matchID, err)
	}
	return timeline, nil
}

// get runs the full request loop for one logical call: limiter admission,
// the HTTP exchange, status classification, and bounded retries for both
// transient failures and server-directed rate limiting.
func (c *Client) get(ctx context.Context, endpoint, url, archiveKey string) ([]byte, error) {
	attempt := 0
	rateRetries := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		waitStart := c.clock.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.ObserveAPIRequest(endpoint, "rate_limited", 0)
			return nil, newError(KindRateLimited, endpoint, 0, err)
		}
		metrics.ObserveRateLimitWait(c.clock.Now().Sub(waitStart))

		// Latency measures the exchange alone; limiter wait has its own
		// histogram above.
		reqStart := c.clock.Now()
		body, retryAfter, err := c.once(ctx, endpoint, url)
		if err == nil {
			metrics.ObserveAPIRequest(endpoint, "ok", c.clock.Now().Sub(reqStart))
			c.archiveRaw(ctx, endpoint, archiveKey, body)
			return body, nil
		}

		kind := KindOf(err)
		metrics.ObserveAPIRequest(endpoint, kind.String(), c.clock.Now().Sub(reqStart))

		switch kind {
		case KindRateLimited:
			c.limiter.Penalize(retryAfter)
			rateRetries++
			if rateRetries > c.cfg.MaxRateLimitRetries {
				return nil, err
			}
			c.logger.Warn("rate limited by server",
				zap.String("endpoint", endpoint),
				zap.Duration("retry_after", retryAfter),
				zap.Int("retry", rateRetries))
			continue
		case KindTransient:
			if !c.policy.ShouldRetry(err, attempt) {
				return nil, err
			}
			backoff := c.policy.Backoff(attempt)
			attempt++
			c.logger.Warn("transient failure, backing off",
				zap.String("endpoint", endpoint),
				zap.Duration("backoff", backoff),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if sleepErr := sleepCtx(ctx, backoff); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		default:
			return nil, err
		}
	}
}

// once performs a single HTTP exchange and classifies the outcome. The
// returned duration is the parsed Retry-After on 429 responses.
func (c *Client) once(ctx context.Context, endpoint, url string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, newError(KindFatal, endpoint, 0, err)
	}
	req.Header.Set("X-Riot-Token", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, newError(KindTransient, endpoint, 0, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side only

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, newError(KindTransient, endpoint, resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, 0, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, 0, newError(KindNotFound, endpoint, resp.StatusCode, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := c.cfg.DefaultRetryAfter
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, parseErr := strconv.Atoi(v); parseErr == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		e := newError(KindRateLimited, endpoint, resp.StatusCode, nil)
		e.RetryAfter = retryAfter
		return nil, retryAfter, e
	case resp.StatusCode >= 500:
		return nil, 0, newError(KindTransient, endpoint, resp.StatusCode, nil)
	default:
		// Remaining 4xx: bad credential or malformed request. Systemic.
		return nil, 0, newError(KindFatal, endpoint, resp.StatusCode, nil)
	}
}

func (c *Client) archiveRaw(ctx context.Context, endpoint, key string, body []byte) {
	if key == "" {
		return
	}
	if _, err := c.archiver.Put(ctx, key, body); err != nil {
		c.logger.Warn("raw payload archive failed",
			zap.String("endpoint", endpoint),
			zap.String("key", key),
			zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
