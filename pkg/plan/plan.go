package plan

// Tier identifies a subscription plan tier.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPro
}

const (
	// Unlimited indicates no limit for a resource (-1 for SQL compatibility).
	Unlimited int64 = -1
)

// AnalyticsDepth controls how much analytics a tier unlocks.
type AnalyticsDepth string

const (
	AnalyticsBasic    AnalyticsDepth = "basic"
	AnalyticsAdvanced AnalyticsDepth = "advanced"
)

// Policy describes the feature limits and flags a plan tier grants.
// Consumed by the CRUD services when gating creation and feature access;
// this package only defines the mapping.
type Policy struct {
	Tier                  Tier
	MaxClubs              int64
	MaxPlayersPerClub     int64
	SchedulingHorizonDays int64
	Organisers            bool // additional organiser seats beyond the owner
	Guests                bool
	CustomMatchmaking     bool
	Export                bool
	Branding              bool
	Analytics             AnalyticsDepth
}

// Policies for the two tiers. These are the product's fixed catalogue; there
// is no dynamic plan configuration.
var (
	PolicyFree = Policy{
		Tier:                  TierFree,
		MaxClubs:              1,
		MaxPlayersPerClub:     20,
		SchedulingHorizonDays: 14,
		Organisers:            false,
		Guests:                false,
		CustomMatchmaking:     false,
		Export:                false,
		Branding:              false,
		Analytics:             AnalyticsBasic,
	}

	PolicyPro = Policy{
		Tier:                  TierPro,
		MaxClubs:              Unlimited,
		MaxPlayersPerClub:     Unlimited,
		SchedulingHorizonDays: 365,
		Organisers:            true,
		Guests:                true,
		CustomMatchmaking:     true,
		Export:                true,
		Branding:              true,
		Analytics:             AnalyticsAdvanced,
	}
)

// ForTier returns the policy for a tier. Unknown tiers get the free policy so
// that a corrupted or missing tier value fails closed rather than unlocking
// paid features.
func ForTier(t Tier) Policy {
	if t == TierPro {
		return PolicyPro
	}
	return PolicyFree
}

// AllowsPlayers reports whether a club at this tier may hold n players.
func (p Policy) AllowsPlayers(n int64) bool {
	return p.MaxPlayersPerClub == Unlimited || n <= p.MaxPlayersPerClub
}

// AllowsClubs reports whether a user at this tier may organise n clubs.
func (p Policy) AllowsClubs(n int64) bool {
	return p.MaxClubs == Unlimited || n <= p.MaxClubs
}
