package merit

import "math"

// RankTier names a merit band. Tier drives the settlement bonus
// multiplier.
type RankTier string

const (
	TierElite  RankTier = "elite"
	TierGold   RankTier = "gold"
	TierSilver RankTier = "silver"
	TierBronze RankTier = "bronze"
)

const (
	// Players below this match count are unranked: score forced to 0,
	// no bonus eligibility.
	MinRankedMatches = 10

	// Normalization caps for the activity/streak/volume terms.
	activityCap = 20
	streakCap   = 10
	volumeCap   = 100
)

// Profile carries the raw rolling counters a player accumulates across
// settled battles. Score and tier are always derived, never stored.
type Profile struct {
	PlayerID       string
	TotalMatches   int
	Wins           int
	TotalQuestions int
	TotalCorrect   int
	CurrentStreak  int
	BestStreak     int
	// Matches settled inside the recent activity window (30 days).
	RecentMatches int
}

// Rating is the derived performance assessment.
type Rating struct {
	Score        float64
	Tier         RankTier
	Multiplier   float64
	TopPerformer bool
}

// Accuracy returns the lifetime answer accuracy in [0,1].
func (p Profile) Accuracy() float64 {
	if p.TotalQuestions <= 0 {
		return 0
	}
	return float64(p.TotalCorrect) / float64(p.TotalQuestions)
}

// Compute derives the merit rating from raw counters. Deterministic and
// stateless; recomputed from scratch on every call.
func Compute(p Profile) Rating {
	if p.TotalMatches < MinRankedMatches {
		return Rating{Score: 0, Tier: TierBronze, Multiplier: 1.0}
	}

	winRate := float64(p.Wins) / float64(p.TotalMatches) * 100
	accuracy := p.Accuracy() * 100
	activity := capRatio(p.RecentMatches, activityCap) * 100
	streak := capRatio(p.CurrentStreak, streakCap) * 100
	volume := capRatio(p.TotalMatches, volumeCap) * 100

	score := winRate*0.30 + accuracy*0.25 + activity*0.20 + streak*0.15 + volume*0.10
	score = math.Round(score*100) / 100

	tier := tierFor(score)
	return Rating{
		Score:        score,
		Tier:         tier,
		Multiplier:   MultiplierFor(tier),
		TopPerformer: tier == TierElite,
	}
}

func tierFor(score float64) RankTier {
	switch {
	case score >= 85:
		return TierElite
	case score >= 70:
		return TierGold
	case score >= 50:
		return TierSilver
	default:
		return TierBronze
	}
}

// MultiplierFor maps a tier to its settlement bonus multiplier.
func MultiplierFor(t RankTier) float64 {
	switch t {
	case TierElite:
		return 1.2
	case TierGold:
		return 1.1
	case TierSilver:
		return 1.05
	default:
		return 1.0
	}
}

func capRatio(n, limit int) float64 {
	if n <= 0 {
		return 0
	}
	if n >= limit {
		return 1
	}
	return float64(n) / float64(limit)
}
