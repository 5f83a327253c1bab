package server

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/NicolasHaas/gomingle/pkg/model"
	pb "github.com/NicolasHaas/gomingle/pkg/protocol/pb"
)

// fakeConn feeds scripted messages into serveSession and records everything
// written back.
type fakeConn struct {
	in  chan *pb.ControlMessage
	mu  sync.Mutex
	out []*pb.ControlMessage
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan *pb.ControlMessage, 16)}
}

func (c *fakeConn) ReadMessage() (*pb.ControlMessage, error) {
	msg, ok := <-c.in
	if !ok {
		return nil, io.EOF
	}
	return msg, nil
}

func (c *fakeConn) WriteMessage(msg *pb.ControlMessage) error {
	c.mu.Lock()
	c.out = append(c.out, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) Close() error                    { return nil }
func (c *fakeConn) RemoteAddr() string              { return "fake" }

func (c *fakeConn) find(pick func(*pb.ControlMessage) bool) *pb.ControlMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range c.out {
		if pick(msg) {
			return msg
		}
	}
	return nil
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type stubResolver struct {
	account *model.Account
	err     error
}

func (r *stubResolver) ResolveToken(context.Context, string) (*model.Account, error) {
	return r.account, r.err
}

func startSession(s *Server, c *fakeConn) chan struct{} {
	done := make(chan struct{})
	go func() {
		s.serveSession(c)
		close(done)
	}()
	return done
}

func TestServeSessionLoginMustBeFirst(t *testing.T) {
	s := New(DefaultConfig(), Dependencies{})
	conn := newFakeConn()
	done := startSession(s, conn)

	conn.in <- &pb.ControlMessage{FindMatchReq: &pb.FindMatchRequest{}}
	<-done

	errMsg := conn.find(func(m *pb.ControlMessage) bool { return m.ErrorResponse != nil })
	if errMsg == nil || errMsg.ErrorResponse.Code != 1 {
		t.Fatalf("expected error code 1, got %+v", errMsg)
	}
}

func TestServeSessionAnonymousDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowAnonymous = false
	s := New(cfg, Dependencies{})
	conn := newFakeConn()
	done := startSession(s, conn)

	conn.in <- &pb.ControlMessage{LoginRequest: &pb.LoginRequest{DisplayName: "Ghost"}}
	<-done

	errMsg := conn.find(func(m *pb.ControlMessage) bool { return m.ErrorResponse != nil })
	if errMsg == nil || errMsg.ErrorResponse.Code != 2 {
		t.Fatalf("expected error code 2, got %+v", errMsg)
	}
	if s.metrics.FailedLogins.Load() != 1 {
		t.Fatalf("FailedLogins: want 1 got %d", s.metrics.FailedLogins.Load())
	}
}

func TestServeSessionTokenLogin(t *testing.T) {
	account := &model.Account{
		ID:        7,
		Username:  "registered",
		Country:   "JP",
		Interests: []string{"music"},
		IsPremium: true,
		Tier:      model.TierElite,
	}
	s := New(DefaultConfig(), Dependencies{Accounts: &stubResolver{account: account}})
	conn := newFakeConn()
	done := startSession(s, conn)

	conn.in <- &pb.ControlMessage{LoginRequest: &pb.LoginRequest{
		Token:        "valid",
		DisplayName:  "ignored",
		Country:      "XX",
		TargetGender: "F",
	}}

	waitFor(t, "login success", func() bool {
		return conn.find(func(m *pb.ControlMessage) bool { return m.LoginSuccess != nil }) != nil
	})
	success := conn.find(func(m *pb.ControlMessage) bool { return m.LoginSuccess != nil })
	sess := success.LoginSuccess.Session
	if sess.DisplayName != "registered" || sess.Country != "JP" {
		t.Fatalf("account attributes must win: %+v", sess)
	}
	if sess.SubscriptionTier != "elite" || !sess.IsPremium {
		t.Fatalf("tier not taken from account: %+v", sess)
	}
	if sess.TargetGender != "F" {
		t.Fatalf("matching preferences stay per-connection: %+v", sess)
	}

	close(conn.in)
	<-done
}

func TestServeSessionBadToken(t *testing.T) {
	s := New(DefaultConfig(), Dependencies{Accounts: &stubResolver{err: errors.New("nope")}})
	conn := newFakeConn()
	done := startSession(s, conn)

	conn.in <- &pb.ControlMessage{LoginRequest: &pb.LoginRequest{Token: "bad"}}
	<-done

	errMsg := conn.find(func(m *pb.ControlMessage) bool { return m.ErrorResponse != nil })
	if errMsg == nil || errMsg.ErrorResponse.Code != 2 {
		t.Fatalf("expected error code 2, got %+v", errMsg)
	}
}

func TestServeSessionChatFlow(t *testing.T) {
	s := New(DefaultConfig(), Dependencies{})

	alice := newFakeConn()
	bob := newFakeConn()
	aliceDone := startSession(s, alice)
	bobDone := startSession(s, bob)

	alice.in <- &pb.ControlMessage{LoginRequest: &pb.LoginRequest{DisplayName: "Alice"}}
	bob.in <- &pb.ControlMessage{LoginRequest: &pb.LoginRequest{DisplayName: "Bob"}}

	loggedIn := func(c *fakeConn) func() bool {
		return func() bool {
			return c.find(func(m *pb.ControlMessage) bool { return m.LoginSuccess != nil }) != nil
		}
	}
	waitFor(t, "alice login", loggedIn(alice))
	waitFor(t, "bob login", loggedIn(bob))

	alice.in <- &pb.ControlMessage{FindMatchReq: &pb.FindMatchRequest{}}
	waitFor(t, "alice queued", func() bool { return s.coord.Waiting() == 1 })
	bob.in <- &pb.ControlMessage{FindMatchReq: &pb.FindMatchRequest{}}

	matched := func(c *fakeConn) func() bool {
		return func() bool {
			return c.find(func(m *pb.ControlMessage) bool { return m.MatchFound != nil }) != nil
		}
	}
	waitFor(t, "alice matched", matched(alice))
	waitFor(t, "bob matched", matched(bob))

	info := bob.find(func(m *pb.ControlMessage) bool { return m.PartnerInfo != nil })
	if info == nil || info.PartnerInfo.DisplayName != "Alice" {
		t.Fatalf("bob partner info: %+v", info)
	}

	alice.in <- &pb.ControlMessage{ChatMsg: &pb.ChatMessage{Text: "  hello bob  "}}
	waitFor(t, "chat delivery", func() bool {
		return bob.find(func(m *pb.ControlMessage) bool { return m.ChatEvent != nil }) != nil
	})
	chat := bob.find(func(m *pb.ControlMessage) bool { return m.ChatEvent != nil })
	if chat.ChatEvent.Text != "hello bob" {
		t.Fatalf("chat text: want trimmed %q got %q", "hello bob", chat.ChatEvent.Text)
	}
	if alice.find(func(m *pb.ControlMessage) bool { return m.ChatEvent != nil }) != nil {
		t.Fatalf("sender must not receive an echo")
	}

	// Alice disconnects; Bob is notified and the registry empties out.
	close(alice.in)
	<-aliceDone
	waitFor(t, "partner left", func() bool {
		return bob.find(func(m *pb.ControlMessage) bool { return m.PartnerLeft != nil }) != nil
	})

	close(bob.in)
	<-bobDone

	if got := s.coord.Sessions(); got != 0 {
		t.Fatalf("Sessions after disconnects: want 0 got %d", got)
	}
	if got := s.metrics.SuccessfulLogins.Load(); got != 2 {
		t.Fatalf("SuccessfulLogins: want 2 got %d", got)
	}
	if got := s.metrics.MatchesMade.Load(); got != 1 {
		t.Fatalf("MatchesMade: want 1 got %d", got)
	}
	if got := s.metrics.MessagesRelayed.Load(); got != 1 {
		t.Fatalf("MessagesRelayed: want 1 got %d", got)
	}
	if got := s.metrics.TotalDisconnects.Load(); got != 2 {
		t.Fatalf("TotalDisconnects: want 2 got %d", got)
	}
}

// stuckConn blocks every write until the connection is closed, like a client
// whose TCP send buffer has filled because it stopped reading.
type stuckConn struct {
	unblock chan struct{}
	once    sync.Once
}

func newStuckConn() *stuckConn { return &stuckConn{unblock: make(chan struct{})} }

func (c *stuckConn) ReadMessage() (*pb.ControlMessage, error) {
	<-c.unblock
	return nil, io.EOF
}

func (c *stuckConn) WriteMessage(*pb.ControlMessage) error {
	<-c.unblock
	return errors.New("connection reset")
}

func (c *stuckConn) SetReadDeadline(time.Time) error { return nil }

func (c *stuckConn) Close() error {
	c.once.Do(func() { close(c.unblock) })
	return nil
}

func (c *stuckConn) RemoteAddr() string { return "stuck" }

func (c *stuckConn) wasClosed() bool {
	select {
	case <-c.unblock:
		return true
	default:
		return false
	}
}

func TestNotifyDoesNotBlockOnStuckPeer(t *testing.T) {
	s := New(DefaultConfig(), Dependencies{})

	conn := newStuckConn()
	p := newPeer(conn)
	defer p.shutdown()
	s.peers.set("slow", p)

	a := &model.Session{ID: "slow", DisplayName: "Slow"}
	a.ApplyDefaults()
	b := &model.Session{ID: "other", DisplayName: "Other"}
	b.ApplyDefaults()
	s.coord.Register(a)
	s.coord.Register(b)

	done := make(chan struct{})
	go func() {
		s.coord.RequestMatch("slow")
		s.coord.RequestMatch("other")
		s.coord.SendMessage("other", "anyone there")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("matchmaking stalled behind a peer that stopped reading")
	}
	if got := s.coord.Sessions(); got != 2 {
		t.Fatalf("Sessions: want 2 got %d", got)
	}

	// Overflowing the event queue cuts the stalled peer loose.
	for i := 0; i < peerEventQueue+2; i++ {
		s.peers.Notify("slow", &pb.ControlMessage{PartnerLeft: &pb.PartnerLeftEvent{}})
	}
	if !conn.wasClosed() {
		t.Fatal("stalled peer's connection was not closed on queue overflow")
	}
}

func TestTrimName(t *testing.T) {
	if got := trimName("  Alice  "); got != "Alice" {
		t.Fatalf("trimName plain: got %q", got)
	}

	longASCII := strings.Repeat("a", model.MaxUsernameLength+10)
	if got := trimName(longASCII); len(got) != model.MaxUsernameLength {
		t.Fatalf("ASCII truncation: got %d bytes", len(got))
	}

	// 3-byte runes put the byte cap mid-rune; truncation must back off to
	// the previous rune boundary.
	longCJK := strings.Repeat("日", 20)
	got := trimName(longCJK)
	if len(got) > model.MaxUsernameLength {
		t.Fatalf("CJK truncation: %d bytes exceeds %d", len(got), model.MaxUsernameLength)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune: %q", got)
	}
	if want := strings.Repeat("日", 10); got != want {
		t.Fatalf("CJK truncation: got %q want %q", got, want)
	}
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"line1\nline2", "line1 line2"},
		{"null\x00byte", "nullbyte"},
		{"bell\x07", "bell"},
		{"\x1b[31mred\x1b[0m", "[31mred[0m"},
	}
	for _, tt := range tests {
		if got := sanitizeText(tt.in); got != tt.want {
			t.Fatalf("sanitizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
