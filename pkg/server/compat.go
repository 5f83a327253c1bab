package server

import (
	"github.com/NicolasHaas/gomingle/pkg/model"
)

// MatchPolicy configures the compatibility predicate.
type MatchPolicy struct {
	// RequireSameCountryFree makes free-tier users only match partners from
	// their own country. When false (the default) free users match globally.
	RequireSameCountryFree bool
}

// Compatible is a pure, symmetric predicate over two sessions' declared
// attributes and preferences. Every directional requirement must hold in both
// directions; one failing requirement makes the pair incompatible.
func (p MatchPolicy) Compatible(a, b *model.Session) bool {
	return p.countryOK(a, b) && p.countryOK(b, a) && genderOK(a, b) && genderOK(b, a)
}

// countryOK evaluates a's country requirement on b.
func (p MatchPolicy) countryOK(a, b *model.Session) bool {
	if a.IsPremium && a.TargetCountry != model.CountryGlobal {
		return b.Country == a.TargetCountry
	}
	if a.IsPremium {
		// Premium with a GLOBAL target: no constraint.
		return true
	}
	if !p.RequireSameCountryFree {
		return true
	}
	// Strict policy: a free user expects a same-country partner, unless the
	// other side is premium and explicitly targets this user's country.
	if a.Country == b.Country {
		return true
	}
	return b.IsPremium && b.TargetCountry == a.Country
}

// genderOK evaluates a's gender requirement on b. Only the elite tier may
// constrain gender.
func genderOK(a, b *model.Session) bool {
	if a.Tier == model.TierElite && a.TargetGender != model.GenderAny {
		return b.Gender == a.TargetGender
	}
	return true
}
