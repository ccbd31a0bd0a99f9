package riot

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload decoding maps raw API JSON into the row shapes the store persists.
// All decoders are pure: bytes in, domain values or a malformed-payload error
// out. Optional fields degrade to defined sentinels; only a missing
// identifying field (matchId, puuid) fails a payload.

// LadderDefaults supplies the requested queue/tier/division for ladder
// entries whose payload omits them.
type LadderDefaults struct {
	Queue    Queue
	Tier     Tier
	Division Division
}

type ladderEntryPayload struct {
	PUUID        string `json:"puuid"`
	SummonerID   string `json:"summonerId"`
	QueueType    string `json:"queueType"`
	Tier         string `json:"tier"`
	Rank         string `json:"rank"`
	LeaguePoints int    `json:"leaguePoints"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"losses"`
}

// ToLadderEntries decodes one page of league entries. Entries without a puuid
// fail the whole payload; a missing rank (apex tiers) becomes DivisionNone.
func ToLadderEntries(data []byte, defaults LadderDefaults, collectedAt time.Time) ([]LadderEntry, error) {
	var payload []ladderEntryPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, malformed(fmt.Errorf("decode ladder page: %w", err))
	}
	entries := make([]LadderEntry, 0, len(payload))
	for i, p := range payload {
		if p.PUUID == "" {
			return nil, malformed(fmt.Errorf("ladder entry %d: missing puuid", i))
		}
		entry := LadderEntry{
			PUUID:        p.PUUID,
			SummonerID:   p.SummonerID,
			QueueType:    defaults.Queue,
			Tier:         defaults.Tier,
			Division:     defaults.Division,
			LeaguePoints: p.LeaguePoints,
			Wins:         p.Wins,
			Losses:       p.Losses,
			CollectedAt:  collectedAt,
		}
		if p.QueueType != "" {
			entry.QueueType = Queue(p.QueueType)
		}
		if p.Tier != "" {
			entry.Tier = Tier(p.Tier)
		}
		if p.Rank != "" {
			entry.Division = Division(p.Rank)
		}
		if entry.Division == "" {
			entry.Division = DivisionNone
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ToMatchIDs decodes the by-puuid match-id list.
func ToMatchIDs(data []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, malformed(fmt.Errorf("decode match ids: %w", err))
	}
	return ids, nil
}

type matchPayload struct {
	Metadata struct {
		MatchID string `json:"matchId"`
	} `json:"metadata"`
	Info struct {
		QueueID          int    `json:"queueId"`
		GameVersion      string `json:"gameVersion"`
		GameDuration     int64  `json:"gameDuration"`
		GameEndTimestamp int64  `json:"gameEndTimestamp"`
		Participants     []struct {
			PUUID              string `json:"puuid"`
			TeamID             int    `json:"teamId"`
			ChampionName       string `json:"championName"`
			TeamPosition       string `json:"teamPosition"`
			Kills              int    `json:"kills"`
			Deaths             int    `json:"deaths"`
			Assists            int    `json:"assists"`
			GoldEarned         int    `json:"goldEarned"`
			TotalMinionsKilled int    `json:"totalMinionsKilled"`
			VisionScore        int    `json:"visionScore"`
			WardsPlaced        int    `json:"wardsPlaced"`
			Win                bool   `json:"win"`
		} `json:"participants"`
		Teams []struct {
			TeamID     int  `json:"teamId"`
			Win        bool `json:"win"`
			Objectives struct {
				Champion   objective `json:"champion"`
				Baron      objective `json:"baron"`
				Dragon     objective `json:"dragon"`
				RiftHerald objective `json:"riftHerald"`
				Tower      objective `json:"tower"`
			} `json:"objectives"`
		} `json:"teams"`
	} `json:"info"`
}

type objective struct {
	Kills int `json:"kills"`
}

// ToMatchDetail decodes a match-v5 match. Participant and team order is
// preserved exactly as returned. Durations predate the gameEndTimestamp field
// in older payloads, where gameDuration is milliseconds instead of seconds.
func ToMatchDetail(data []byte) (MatchDetail, error) {
	var payload matchPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return MatchDetail{}, malformed(fmt.Errorf("decode match: %w", err))
	}
	if payload.Metadata.MatchID == "" {
		return MatchDetail{}, malformed(fmt.Errorf("match payload missing matchId"))
	}

	duration := time.Duration(payload.Info.GameDuration) * time.Second
	if payload.Info.GameEndTimestamp == 0 {
		duration = time.Duration(payload.Info.GameDuration) * time.Millisecond
	}
	minutes := duration.Minutes()

	detail := MatchDetail{
		MatchID:      payload.Metadata.MatchID,
		QueueID:      payload.Info.QueueID,
		GameVersion:  payload.Info.GameVersion,
		GameDuration: duration,
		Participants: make([]ParticipantStat, 0, len(payload.Info.Participants)),
		Teams:        make([]TeamStat, 0, len(payload.Info.Teams)),
	}

	for i, p := range payload.Info.Participants {
		if p.PUUID == "" {
			return MatchDetail{}, malformed(
				fmt.Errorf("match %s: participant %d missing puuid", detail.MatchID, i))
		}
		stat := ParticipantStat{
			PUUID:         p.PUUID,
			TeamID:        p.TeamID,
			ChampionName:  p.ChampionName,
			TeamPosition:  p.TeamPosition,
			Kills:         p.Kills,
			Deaths:        p.Deaths,
			Assists:       p.Assists,
			GoldEarned:    p.GoldEarned,
			MinionsKilled: p.TotalMinionsKilled,
			VisionScore:   p.VisionScore,
			WardsPlaced:   p.WardsPlaced,
			Win:           p.Win,
		}
		if minutes > 0 {
			stat.GoldPerMinute = float64(p.GoldEarned) / minutes
		}
		detail.Participants = append(detail.Participants, stat)
	}

	for _, t := range payload.Info.Teams {
		detail.Teams = append(detail.Teams, TeamStat{
			TeamID:        t.TeamID,
			Win:           t.Win,
			ChampionKills: t.Objectives.Champion.Kills,
			BaronKills:    t.Objectives.Baron.Kills,
			DragonKills:   t.Objectives.Dragon.Kills,
			HeraldKills:   t.Objectives.RiftHerald.Kills,
			TowerKills:    t.Objectives.Tower.Kills,
		})
	}
	return detail, nil
}

type timelinePayload struct {
	Metadata struct {
		MatchID string `json:"matchId"`
	} `json:"metadata"`
	Info struct {
		FrameInterval int64 `json:"frameInterval"`
		Participants  []struct {
			ParticipantID int    `json:"participantId"`
			PUUID         string `json:"puuid"`
		} `json:"participants"`
		Frames []struct {
			Timestamp int64 `json:"timestamp"`
			Events    []struct {
				Type         string `json:"type"`
				Timestamp    int64  `json:"timestamp"`
				KillerID     int    `json:"killerId"`
				TeamID       int    `json:"teamId"`
				KillerTeamID int    `json:"killerTeamId"`
				MonsterType  string `json:"monsterType"`
				BuildingType string `json:"buildingType"`
				Position     *struct {
					X int `json:"x"`
					Y int `json:"y"`
				} `json:"position"`
			} `json:"events"`
		} `json:"frames"`
	} `json:"info"`
}

// ToMatchTimeline decodes a match-v5 timeline. Events keep their frame and
// in-frame order. Killer id 0 resolves to the Minion sentinel; an unmapped
// killer id resolves to the sentinel too rather than failing the payload.
func ToMatchTimeline(data []byte) (MatchTimeline, error) {
	var payload timelinePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return MatchTimeline{}, malformed(fmt.Errorf("decode timeline: %w", err))
	}
	if payload.Metadata.MatchID == "" {
		return MatchTimeline{}, malformed(fmt.Errorf("timeline payload missing matchId"))
	}

	actors := map[int]string{0: MinionPUUID}
	for _, p := range payload.Info.Participants {
		if p.PUUID != "" {
			actors[p.ParticipantID] = p.PUUID
		}
	}

	timeline := MatchTimeline{
		MatchID:       payload.Metadata.MatchID,
		FrameInterval: time.Duration(payload.Info.FrameInterval) * time.Millisecond,
		Frames:        make([]Frame, 0, len(payload.Info.Frames)),
	}
	for _, f := range payload.Info.Frames {
		frame := Frame{
			Timestamp: time.Duration(f.Timestamp) * time.Millisecond,
			Events:    make([]Event, 0, len(f.Events)),
		}
		for _, e := range f.Events {
			actor, ok := actors[e.KillerID]
			if !ok {
				actor = MinionPUUID
			}
			ev := Event{
				Type:       e.Type,
				Timestamp:  time.Duration(e.Timestamp) * time.Millisecond,
				ActorPUUID: actor,
			}
			switch e.Type {
			case "ELITE_MONSTER_KILL":
				ev.TeamID = e.KillerTeamID
				ev.Subtype = e.MonsterType
			case "BUILDING_KILL":
				// teamId on building kills is the team that lost the building.
				ev.TeamID = e.TeamID
				ev.Subtype = e.BuildingType
			case "CHAMPION_KILL":
				ev.Subtype = "KILL"
			default:
				ev.TeamID = e.TeamID
			}
			if e.Position != nil {
				ev.X = e.Position.X
				ev.Y = e.Position.Y
			}
			frame.Events = append(frame.Events, ev)
		}
		timeline.Frames = append(timeline.Frames, frame)
	}
	return timeline, nil
}

func malformed(err error) *Error {
	return &Error{Kind: KindMalformedPayload, Err: err}
}
