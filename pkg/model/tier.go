package model

// Tier represents a subscription tier.
type Tier int

const (
	TierFree    Tier = iota // default, no paid features
	TierStarter             // no ads, unlimited matches, rematch
	TierGlobal              // country targeting, priority matching
	TierElite               // all Global features plus the gender filter
)

func (t Tier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierStarter:
		return "starter"
	case TierGlobal:
		return "global"
	case TierElite:
		return "elite"
	default:
		return "unknown"
	}
}

// ParseTier converts a string to a Tier. Unrecognised values map to TierFree.
func ParseTier(s string) Tier {
	switch s {
	case "starter":
		return TierStarter
	case "global":
		return TierGlobal
	case "elite":
		return TierElite
	default:
		return TierFree
	}
}

// Valid returns true if the tier is a recognised value.
func (t Tier) Valid() bool {
	return t >= TierFree && t <= TierElite
}

// Paid returns true for any tier above free.
func (t Tier) Paid() bool {
	return t > TierFree
}
