// Package riot defines the domain model for ranked-ladder and match data
// collected from the Riot Games API, along with the rate-limited client that
// fetches it.
package riot

import "time"

// Queue identifies a ranked queue.
type Queue string

// Ranked queues exposed by the league endpoints.
const (
	QueueRankedSolo Queue = "RANKED_SOLO_5x5"
	QueueRankedFlex Queue = "RANKED_FLEX_SR"
)

// Tier is a ranked ladder tier.
type Tier string

// Ladder tiers, lowest to highest.
const (
	TierIron        Tier = "IRON"
	TierBronze      Tier = "BRONZE"
	TierSilver      Tier = "SILVER"
	TierGold        Tier = "GOLD"
	TierPlatinum    Tier = "PLATINUM"
	TierEmerald     Tier = "EMERALD"
	TierDiamond     Tier = "DIAMOND"
	TierMaster      Tier = "MASTER"
	TierGrandmaster Tier = "GRANDMASTER"
	TierChallenger  Tier = "CHALLENGER"
)

// Division is a rank division within a tier.
type Division string

// Divisions, highest to lowest. DivisionNone is the stored sentinel for apex
// tiers (MASTER and above), which have no divisions.
const (
	DivisionI    Division = "I"
	DivisionII   Division = "II"
	DivisionIII  Division = "III"
	DivisionIV   Division = "IV"
	DivisionNone Division = "NONE"
)

// AllTiers lists every tier in ladder order.
var AllTiers = []Tier{
	TierIron, TierBronze, TierSilver, TierGold, TierPlatinum,
	TierEmerald, TierDiamond, TierMaster, TierGrandmaster, TierChallenger,
}

// AllDivisions lists every division, highest first.
var AllDivisions = []Division{DivisionI, DivisionII, DivisionIII, DivisionIV}

// IsApex reports whether the tier has no divisions on the ladder.
func (t Tier) IsApex() bool {
	return t == TierMaster || t == TierGrandmaster || t == TierChallenger
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	for _, known := range AllTiers {
		if t == known {
			return true
		}
	}
	return false
}

// Valid reports whether d is a known division (the sentinel included).
func (d Division) Valid() bool {
	switch d {
	case DivisionI, DivisionII, DivisionIII, DivisionIV, DivisionNone:
		return true
	}
	return false
}

// LadderEntry is one player's standing in a ranked queue at collection time.
type LadderEntry struct {
	PUUID        string
	SummonerID   string
	QueueType    Queue
	Tier         Tier
	Division     Division
	LeaguePoints int
	Wins         int
	Losses       int
	CollectedAt  time.Time
}

// MatchRef links a match id to one player known to have participated in it.
// Many refs may share a match id; the match id alone is the fetch-dedup key
// for details and timelines.
type MatchRef struct {
	MatchID string
	PUUID   string
}

// MatchDetail is the end-of-game record for one match. Participant order is
// the API's order; participant index correlates with timeline participant ids.
type MatchDetail struct {
	MatchID      string
	QueueID      int
	GameVersion  string
	GameDuration time.Duration
	Participants []ParticipantStat
	Teams        []TeamStat
}

// ParticipantStat is the flat per-player stat bag for one match.
type ParticipantStat struct {
	PUUID         string
	TeamID        int
	ChampionName  string
	TeamPosition  string
	Kills         int
	Deaths        int
	Assists       int
	GoldEarned    int
	GoldPerMinute float64
	MinionsKilled int
	VisionScore   int
	WardsPlaced   int
	Win           bool
}

// TeamStat is the per-team objective summary for one match.
type TeamStat struct {
	TeamID        int
	Win           bool
	ChampionKills int
	BaronKills    int
	DragonKills   int
	HeraldKills   int
	TowerKills    int
}

// MatchTimeline is the frame-by-frame event log of one match. Frame and event
// order is the API's order.
type MatchTimeline struct {
	MatchID       string
	FrameInterval time.Duration
	Frames        []Frame
}

// Frame is one timeline snapshot interval.
type Frame struct {
	Timestamp time.Duration
	Events    []Event
}

// MinionPUUID is the actor sentinel for events with no player attribution
// (killer id 0 in the payload).
const MinionPUUID = "Minion"

// Event is one timeline event. ActorPUUID is resolved from the payload's
// participant id mapping; Subtype carries the monster or building type where
// the event kind has one.
type Event struct {
	Type       string
	Subtype    string
	Timestamp  time.Duration
	ActorPUUID string
	TeamID     int
	X          int
	Y          int
}
