package model

import (
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid with underscore", "my_user", nil},
		{"valid with hyphen", "my-user", nil},
		{"valid max length", strings.Repeat("a", MaxUsernameLength), nil},
		{"empty", "", ErrUsernameEmpty},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), ErrUsernameTooLong},
		{"contains space", "has space", ErrUsernameInvalidChars},
		{"contains dot", "user.name", ErrUsernameInvalidChars},
		{"contains @", "user@name", ErrUsernameInvalidChars},
		{"unicode letter", "ñoño", ErrUsernameInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateUsername(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		input   string
		wantErr error
	}{
		{"user@example.com", nil},
		{"a@b.co", nil},
		{"user+tag@sub.example.org", nil},
		{"", ErrEmailInvalid},
		{"no-at-sign", ErrEmailInvalid},
		{"@example.com", ErrEmailInvalid},
		{"user@", ErrEmailInvalid},
		{"user@nodot", ErrEmailInvalid},
		{"user@example.", ErrEmailInvalid},
		{"two@@example.com", ErrEmailInvalid},
		{"has space@example.com", ErrEmailInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if err := ValidateEmail(tt.input); err != tt.wantErr {
				t.Errorf("ValidateEmail(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateSearching, "SEARCHING"},
		{StateChatting, "CHATTING"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
			}
		})
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		input string
		want  Tier
	}{
		{"free", TierFree},
		{"starter", TierStarter},
		{"global", TierGlobal},
		{"elite", TierElite},
		{"", TierFree},
		{"unknown", TierFree},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseTier(tt.input); got != tt.want {
				t.Errorf("ParseTier(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestTierPaid(t *testing.T) {
	if TierFree.Paid() {
		t.Error("TierFree.Paid() = true, want false")
	}
	for _, tier := range []Tier{TierStarter, TierGlobal, TierElite} {
		if !tier.Paid() {
			t.Errorf("%s.Paid() = false, want true", tier)
		}
	}
}

func TestSessionApplyDefaults(t *testing.T) {
	s := &Session{ID: "abc"}
	s.ApplyDefaults()

	if s.DisplayName != "Anonymous" {
		t.Errorf("DisplayName = %q, want Anonymous", s.DisplayName)
	}
	if s.Country != CountryUnknown {
		t.Errorf("Country = %q, want %q", s.Country, CountryUnknown)
	}
	if s.TargetCountry != CountryGlobal {
		t.Errorf("TargetCountry = %q, want %q", s.TargetCountry, CountryGlobal)
	}
	if s.TargetGender != GenderAny {
		t.Errorf("TargetGender = %q, want %q", s.TargetGender, GenderAny)
	}
	if s.Interests == nil {
		t.Error("Interests = nil, want empty slice")
	}

	// Defaults never clobber supplied attributes.
	s2 := &Session{ID: "def", DisplayName: "bob", Country: "USA", TargetCountry: "UK"}
	s2.ApplyDefaults()
	if s2.DisplayName != "bob" || s2.Country != "USA" || s2.TargetCountry != "UK" {
		t.Errorf("ApplyDefaults clobbered supplied attributes: %+v", s2)
	}
}

func TestTransactionValidate(t *testing.T) {
	tests := []struct {
		name    string
		tx      Transaction
		wantErr error
	}{
		{"valid subscription", Transaction{Type: TxSubscription, Status: TxStatusCompleted}, nil},
		{"valid coin purchase", Transaction{Type: TxCoinPurchase, Status: TxStatusPending}, nil},
		{"valid feature usage", Transaction{Type: TxFeatureUsage, Status: TxStatusCompleted}, nil},
		{"bad type", Transaction{Type: "refund", Status: TxStatusCompleted}, ErrInvalidTxType},
		{"bad status", Transaction{Type: TxSubscription, Status: "done"}, ErrInvalidTxStatus},
		{"empty", Transaction{}, ErrInvalidTxType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.tx.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
