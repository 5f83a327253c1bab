// Package pb defines the control plane message envelope shared by the TCP and
// WebSocket transports.
package pb

// ControlMessage wraps all control plane messages.
type ControlMessage struct {
	// Only one of these fields should be set.
	LoginRequest  *LoginRequest     `json:"login_request,omitempty"`
	LoginSuccess  *LoginSuccess     `json:"login_success,omitempty"`
	FindMatchReq  *FindMatchRequest `json:"find_match_request,omitempty"`
	MatchFound    *MatchFoundEvent  `json:"match_found_event,omitempty"`
	PartnerInfo   *PartnerInfoEvent `json:"partner_info_event,omitempty"`
	ChatMsg       *ChatMessage      `json:"chat_message,omitempty"`
	ChatEvent     *ChatEvent        `json:"chat_event,omitempty"`
	SkipReq       *SkipRequest      `json:"skip_request,omitempty"`
	PartnerLeft   *PartnerLeftEvent `json:"partner_left_event,omitempty"`
	ErrorResponse *ErrorResponse    `json:"error_response,omitempty"`
	Ping          *Ping             `json:"ping,omitempty"`
	Pong          *Pong             `json:"pong,omitempty"`
}

// ----- Login -----

type LoginRequest struct {
	// Token is a bearer token issued by the HTTP auth API. When set and valid,
	// the persisted profile's attributes override the ones below.
	// Empty = anonymous login (if the server allows it).
	Token string `json:"token,omitempty"`

	DisplayName      string   `json:"display_name"`
	Country          string   `json:"country"`
	Gender           string   `json:"gender"`
	Interests        []string `json:"interests"`
	IsPremium        bool     `json:"is_premium"`
	SubscriptionTier string   `json:"subscription_tier"`
	TargetCountry    string   `json:"target_country"`
	TargetGender     string   `json:"target_gender"`
}

// SessionInfo is the full session snapshot echoed back on login.
type SessionInfo struct {
	SessionID        string   `json:"session_id"`
	DisplayName      string   `json:"display_name"`
	Country          string   `json:"country"`
	Gender           string   `json:"gender"`
	Interests        []string `json:"interests"`
	IsPremium        bool     `json:"is_premium"`
	SubscriptionTier string   `json:"subscription_tier"`
	TargetCountry    string   `json:"target_country"`
	TargetGender     string   `json:"target_gender"`
	State            string   `json:"state"`
}

type LoginSuccess struct {
	Session SessionInfo `json:"session"`
}

// ----- Matchmaking -----

type FindMatchRequest struct{}

type MatchFoundEvent struct {
	RoomID string `json:"room_id"`
}

// PartnerInfoEvent carries the partner's public attributes only. Target
// preferences are private and never cross the wire.
type PartnerInfoEvent struct {
	DisplayName string   `json:"display_name"`
	Country     string   `json:"country"`
	Interests   []string `json:"interests"`
}

// ----- Chat -----

type ChatMessage struct {
	Text string `json:"text"`
}

type ChatEvent struct {
	Text      string `json:"text"`
	SenderID  string `json:"sender_id"`
	Timestamp string `json:"timestamp"` // RFC 3339, UTC
}

// ----- Teardown -----

type SkipRequest struct{}

type PartnerLeftEvent struct{}

// ----- Generic -----

type ErrorResponse struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}
