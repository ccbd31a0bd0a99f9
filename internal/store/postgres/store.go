// Package postgres implements the store over a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PadTo/lol-match-pipeline/internal/riot"
	"github.com/PadTo/lol-match-pipeline/internal/store"
)

var _ store.Store = (*Store)(nil)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock implements it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store persists pipeline rows in Postgres.
type Store struct {
	pool pool
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for tests).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ladder_entries (
	puuid TEXT NOT NULL,
	queue_type TEXT NOT NULL,
	tier TEXT NOT NULL,
	division TEXT NOT NULL,
	summoner_id TEXT NOT NULL DEFAULT '',
	league_points INT NOT NULL DEFAULT 0,
	wins INT NOT NULL DEFAULT 0,
	losses INT NOT NULL DEFAULT 0,
	collected_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (puuid, queue_type)
)`,
	`CREATE TABLE IF NOT EXISTS match_refs (
	match_id TEXT NOT NULL,
	puuid TEXT NOT NULL,
	PRIMARY KEY (match_id, puuid)
)`,
	`CREATE TABLE IF NOT EXISTS matches (
	match_id TEXT PRIMARY KEY,
	queue_id INT NOT NULL DEFAULT 0,
	game_version TEXT NOT NULL DEFAULT '',
	game_duration_ms BIGINT NOT NULL DEFAULT 0,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS match_teams (
	match_id TEXT NOT NULL REFERENCES matches(match_id) ON DELETE CASCADE,
	team_id INT NOT NULL,
	win BOOLEAN NOT NULL,
	champion_kills INT NOT NULL DEFAULT 0,
	baron_kills INT NOT NULL DEFAULT 0,
	dragon_kills INT NOT NULL DEFAULT 0,
	herald_kills INT NOT NULL DEFAULT 0,
	tower_kills INT NOT NULL DEFAULT 0,
	PRIMARY KEY (match_id, team_id)
)`,
	`CREATE TABLE IF NOT EXISTS match_participants (
	match_id TEXT NOT NULL REFERENCES matches(match_id) ON DELETE CASCADE,
	participant_index INT NOT NULL,
	puuid TEXT NOT NULL,
	team_id INT NOT NULL,
	champion_name TEXT NOT NULL DEFAULT '',
	team_position TEXT NOT NULL DEFAULT '',
	kills INT NOT NULL DEFAULT 0,
	deaths INT NOT NULL DEFAULT 0,
	assists INT NOT NULL DEFAULT 0,
	gold_earned INT NOT NULL DEFAULT 0,
	gold_per_minute DOUBLE PRECISION NOT NULL DEFAULT 0,
	minions_killed INT NOT NULL DEFAULT 0,
	vision_score INT NOT NULL DEFAULT 0,
	wards_placed INT NOT NULL DEFAULT 0,
	win BOOLEAN NOT NULL,
	PRIMARY KEY (match_id, participant_index)
)`,
	`CREATE TABLE IF NOT EXISTS match_timelines (
	match_id TEXT PRIMARY KEY,
	frame_interval_ms BIGINT NOT NULL DEFAULT 0,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS timeline_frames (
	match_id TEXT NOT NULL REFERENCES match_timelines(match_id) ON DELETE CASCADE,
	frame_index INT NOT NULL,
	ts_ms BIGINT NOT NULL,
	PRIMARY KEY (match_id, frame_index)
)`,
	`CREATE TABLE IF NOT EXISTS timeline_events (
	match_id TEXT NOT NULL REFERENCES match_timelines(match_id) ON DELETE CASCADE,
	frame_index INT NOT NULL,
	event_index INT NOT NULL,
	ts_ms BIGINT NOT NULL,
	event_type TEXT NOT NULL,
	event_subtype TEXT NOT NULL DEFAULT '',
	actor_puuid TEXT NOT NULL DEFAULT '',
	team_id INT NOT NULL DEFAULT 0,
	x INT NOT NULL DEFAULT 0,
	y INT NOT NULL DEFAULT 0,
	PRIMARY KEY (match_id, frame_index, event_index)
)`,
}

// InitSchema creates all tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

const upsertLadderEntrySQL = `
INSERT INTO ladder_entries (
	puuid, queue_type, tier, division, summoner_id,
	league_points, wins, losses, collected_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (puuid, queue_type) DO NOTHING`

// UpsertLadderEntries inserts entries, skipping (puuid, queue) duplicates.
func (s *Store) UpsertLadderEntries(ctx context.Context, entries []riot.LadderEntry) (int64, error) {
	var inserted int64
	for _, e := range entries {
		tag, err := s.pool.Exec(ctx, upsertLadderEntrySQL,
			e.PUUID, string(e.QueueType), string(e.Tier), string(e.Division),
			e.SummonerID, e.LeaguePoints, e.Wins, e.Losses, e.CollectedAt)
		if err != nil {
			return inserted, fmt.Errorf("upsert ladder entry %s: %w", e.PUUID, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

const insertMatchRefSQL = `
INSERT INTO match_refs (match_id, puuid) VALUES ($1,$2)
ON CONFLICT (match_id, puuid) DO NOTHING`

// InsertMatchRefs links match ids to a player, skipping known pairs.
func (s *Store) InsertMatchRefs(ctx context.Context, puuid string, matchIDs []string) (int64, error) {
	var inserted int64
	for _, id := range matchIDs {
		tag, err := s.pool.Exec(ctx, insertMatchRefSQL, id, puuid)
		if err != nil {
			return inserted, fmt.Errorf("insert match ref %s/%s: %w", id, puuid, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

const insertMatchSQL = `
INSERT INTO matches (match_id, queue_id, game_version, game_duration_ms)
VALUES ($1,$2,$3,$4)
ON CONFLICT (match_id) DO NOTHING`

const insertTeamSQL = `
INSERT INTO match_teams (
	match_id, team_id, win, champion_kills, baron_kills,
	dragon_kills, herald_kills, tower_kills
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

const insertParticipantSQL = `
INSERT INTO match_participants (
	match_id, participant_index, puuid, team_id, champion_name, team_position,
	kills, deaths, assists, gold_earned, gold_per_minute,
	minions_killed, vision_score, wards_placed, win
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

// InsertMatchDetail writes the match row and all derived team/participant
// rows in one transaction. The conflict-ignoring header insert doubles as the
// dedup gate: zero affected rows means another writer got there first, and
// the transaction rolls back without touching the derived tables.
func (s *Store) InsertMatchDetail(ctx context.Context, detail riot.MatchDetail) (inserted bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin match detail tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, insertMatchSQL,
		detail.MatchID, detail.QueueID, detail.GameVersion, detail.GameDuration.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("insert match %s: %w", detail.MatchID, err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return false, nil
	}

	for _, t := range detail.Teams {
		if _, err = tx.Exec(ctx, insertTeamSQL,
			detail.MatchID, t.TeamID, t.Win, t.ChampionKills, t.BaronKills,
			t.DragonKills, t.HeraldKills, t.TowerKills); err != nil {
			return false, fmt.Errorf("insert team %s/%d: %w", detail.MatchID, t.TeamID, err)
		}
	}
	for i, p := range detail.Participants {
		if _, err = tx.Exec(ctx, insertParticipantSQL,
			detail.MatchID, i, p.PUUID, p.TeamID, p.ChampionName, p.TeamPosition,
			p.Kills, p.Deaths, p.Assists, p.GoldEarned, p.GoldPerMinute,
			p.MinionsKilled, p.VisionScore, p.WardsPlaced, p.Win); err != nil {
			return false, fmt.Errorf("insert participant %s/%d: %w", detail.MatchID, i, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit match detail %s: %w", detail.MatchID, err)
	}
	return true, nil
}

const insertTimelineSQL = `
INSERT INTO match_timelines (match_id, frame_interval_ms) VALUES ($1,$2)
ON CONFLICT (match_id) DO NOTHING`

const insertFrameSQL = `
INSERT INTO timeline_frames (match_id, frame_index, ts_ms) VALUES ($1,$2,$3)`

const insertEventSQL = `
INSERT INTO timeline_events (
	match_id, frame_index, event_index, ts_ms,
	event_type, event_subtype, actor_puuid, team_id, x, y
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

// InsertMatchTimeline writes the timeline header and all frame/event rows in
// one transaction, with the same conflict-gated dedup as match details.
func (s *Store) InsertMatchTimeline(ctx context.Context, timeline riot.MatchTimeline) (inserted bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin timeline tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, insertTimelineSQL,
		timeline.MatchID, timeline.FrameInterval.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("insert timeline %s: %w", timeline.MatchID, err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return false, nil
	}

	for fi, frame := range timeline.Frames {
		if _, err = tx.Exec(ctx, insertFrameSQL,
			timeline.MatchID, fi, frame.Timestamp.Milliseconds()); err != nil {
			return false, fmt.Errorf("insert frame %s/%d: %w", timeline.MatchID, fi, err)
		}
		for ei, ev := range frame.Events {
			if _, err = tx.Exec(ctx, insertEventSQL,
				timeline.MatchID, fi, ei, ev.Timestamp.Milliseconds(),
				ev.Type, ev.Subtype, ev.ActorPUUID, ev.TeamID, ev.X, ev.Y); err != nil {
				return false, fmt.Errorf("insert event %s/%d/%d: %w", timeline.MatchID, fi, ei, err)
			}
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit timeline %s: %w", timeline.MatchID, err)
	}
	return true, nil
}

const matchDetailExistsSQL = `SELECT EXISTS (SELECT 1 FROM matches WHERE match_id = $1)`

// MatchDetailExists reports whether the match already has detail rows.
func (s *Store) MatchDetailExists(ctx context.Context, matchID string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, matchDetailExistsSQL, matchID).Scan(&exists); err != nil {
		return false, fmt.Errorf("match detail exists %s: %w", matchID, err)
	}
	return exists, nil
}

const matchTimelineExistsSQL = `SELECT EXISTS (SELECT 1 FROM match_timelines WHERE match_id = $1)`

// MatchTimelineExists reports whether the match already has a timeline.
func (s *Store) MatchTimelineExists(ctx context.Context, matchID string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, matchTimelineExistsSQL, matchID).Scan(&exists); err != nil {
		return false, fmt.Errorf("match timeline exists %s: %w", matchID, err)
	}
	return exists, nil
}

const pendingPuuidsSQL = `
SELECT DISTINCT l.puuid
FROM ladder_entries l
WHERE NOT EXISTS (SELECT 1 FROM match_refs r WHERE r.puuid = l.puuid)
LIMIT $1`

// PendingPuuids returns ladder puuids that have not been expanded yet.
func (s *Store) PendingPuuids(ctx context.Context, limit int) ([]string, error) {
	return s.queryStrings(ctx, pendingPuuidsSQL, limit)
}

const pendingDetailSQL = `
SELECT DISTINCT r.match_id
FROM match_refs r
WHERE NOT EXISTS (SELECT 1 FROM matches m WHERE m.match_id = r.match_id)
LIMIT $1`

// PendingMatchIDsWithoutDetail returns referenced match ids lacking detail.
func (s *Store) PendingMatchIDsWithoutDetail(ctx context.Context, limit int) ([]string, error) {
	return s.queryStrings(ctx, pendingDetailSQL, limit)
}

const pendingTimelineSQL = `
SELECT DISTINCT r.match_id
FROM match_refs r
WHERE NOT EXISTS (SELECT 1 FROM match_timelines t WHERE t.match_id = r.match_id)
LIMIT $1`

// PendingMatchIDsWithoutTimeline returns referenced match ids lacking a
// timeline.
func (s *Store) PendingMatchIDsWithoutTimeline(ctx context.Context, limit int) ([]string, error) {
	return s.queryStrings(ctx, pendingTimelineSQL, limit)
}

func (s *Store) queryStrings(ctx context.Context, sql string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending rows: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending rows: %w", err)
	}
	return out, nil
}
