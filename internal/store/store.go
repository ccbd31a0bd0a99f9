// Package store defines the persistence boundary for collected ladder and
// match data. Implementations must make every write idempotent: re-inserting
// an existing row is a no-op, and multi-row units (a match's detail rows, a
// timeline's frames and events) are atomic so a partially written match can
// never be mistaken for an already fetched one.
package store

import (
	"context"

	"github.com/PadTo/lol-match-pipeline/internal/riot"
)

// Store is the pipeline's view of the relational schema.
type Store interface {
	// UpsertLadderEntries inserts entries keyed by (puuid, queue_type),
	// ignoring duplicates, and returns how many rows were newly inserted.
	UpsertLadderEntries(ctx context.Context, entries []riot.LadderEntry) (int64, error)

	// InsertMatchRefs links match ids to the player they were fetched for,
	// keyed by (match_id, puuid). Returns the number of new rows; ids already
	// known for the player are skipped.
	InsertMatchRefs(ctx context.Context, puuid string, matchIDs []string) (int64, error)

	// InsertMatchDetail writes a match and its team/participant rows in one
	// atomic unit. Returns false without writing when the match already has
	// detail rows.
	InsertMatchDetail(ctx context.Context, detail riot.MatchDetail) (bool, error)

	// InsertMatchTimeline writes a timeline and its frame/event rows in one
	// atomic unit. Returns false without writing when the timeline exists.
	InsertMatchTimeline(ctx context.Context, timeline riot.MatchTimeline) (bool, error)

	// MatchDetailExists reports whether the match already has detail rows.
	MatchDetailExists(ctx context.Context, matchID string) (bool, error)

	// MatchTimelineExists reports whether the match already has a timeline.
	MatchTimelineExists(ctx context.Context, matchID string) (bool, error)

	// PendingPuuids returns up to limit distinct ladder puuids that have no
	// match refs yet.
	PendingPuuids(ctx context.Context, limit int) ([]string, error)

	// PendingMatchIDsWithoutDetail returns up to limit distinct match ids
	// that have refs but no detail rows.
	PendingMatchIDsWithoutDetail(ctx context.Context, limit int) ([]string, error)

	// PendingMatchIDsWithoutTimeline returns up to limit distinct match ids
	// that have refs but no timeline.
	PendingMatchIDsWithoutTimeline(ctx context.Context, limit int) ([]string, error)

	// Close releases underlying resources.
	Close()
}
