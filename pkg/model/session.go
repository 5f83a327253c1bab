// Package model defines the core domain types for GoMingle.
package model

// State represents where a session is in the matchmaking lifecycle.
type State int

const (
	StateIdle      State = iota // connected, not looking for a partner
	StateSearching              // waiting in the pool for a compatible partner
	StateChatting               // paired, relaying messages
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSearching:
		return "SEARCHING"
	case StateChatting:
		return "CHATTING"
	default:
		return "unknown"
	}
}

// Valid returns true if the state is a recognised value.
func (s State) Valid() bool {
	return s >= StateIdle && s <= StateChatting
}

// Sentinel attribute values. A session with TargetCountry GLOBAL imposes no
// country constraint; TargetGender ANY imposes no gender constraint.
const (
	CountryGlobal  = "GLOBAL"
	CountryUnknown = "Unknown"
	GenderAny      = "ANY"
)

// Session represents one connected, possibly-anonymous identity and its
// current matching state (in-memory only).
type Session struct {
	ID          string
	DisplayName string
	Country     string
	Gender      string
	Interests   []string
	IsPremium   bool
	Tier        Tier

	// Matching preferences. TargetCountry is a country code or CountryGlobal;
	// TargetGender is a gender value or GenderAny.
	TargetCountry string
	TargetGender  string

	// PartnerID is the id of the paired session, empty when unpaired.
	// Invariant: PartnerID != "" iff State == StateChatting, and the partner's
	// PartnerID points back at this session.
	PartnerID string
	State     State
}

// Chatting reports whether the session is currently paired.
func (s *Session) Chatting() bool {
	return s.State == StateChatting
}

// Clone returns a copy whose Interests slice has its own backing storage, so
// holders of the copy cannot race with the live record.
func (s *Session) Clone() Session {
	out := *s
	out.Interests = append([]string(nil), s.Interests...)
	return out
}

// ApplyDefaults fills sentinel values for any missing optional attribute.
// Registration never rejects a partial identity.
func (s *Session) ApplyDefaults() {
	if s.DisplayName == "" {
		s.DisplayName = "Anonymous"
	}
	if s.Country == "" {
		s.Country = CountryUnknown
	}
	if s.Gender == "" {
		s.Gender = GenderAny
	}
	if s.TargetCountry == "" {
		s.TargetCountry = CountryGlobal
	}
	if s.TargetGender == "" {
		s.TargetGender = GenderAny
	}
	if s.Interests == nil {
		s.Interests = []string{}
	}
}
