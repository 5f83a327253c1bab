package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/NicolasHaas/gomingle/pkg/model"
	"github.com/NicolasHaas/gomingle/pkg/protocol"
	pb "github.com/NicolasHaas/gomingle/pkg/protocol/pb"
)

const (
	loginTimeout   = 10 * time.Second
	maxChatMessage = 2000
)

// msgConn abstracts a client connection so the session lifecycle is shared
// between the TCP/TLS control plane and the WebSocket transport.
type msgConn interface {
	ReadMessage() (*pb.ControlMessage, error)
	WriteMessage(*pb.ControlMessage) error
	SetReadDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
}

// tcpMsgConn frames control messages over a raw TCP/TLS connection.
type tcpMsgConn struct {
	conn net.Conn
}

func (c *tcpMsgConn) ReadMessage() (*pb.ControlMessage, error) {
	return protocol.ReadControlMessage(c.conn)
}

func (c *tcpMsgConn) WriteMessage(msg *pb.ControlMessage) error {
	return protocol.WriteControlMessage(c.conn, msg)
}

func (c *tcpMsgConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }
func (c *tcpMsgConn) Close() error                      { return c.conn.Close() }
func (c *tcpMsgConn) RemoteAddr() string                { return c.conn.RemoteAddr().String() }

const peerEventQueue = 64

var errPeerStalled = errors.New("peer event queue overflow")

// peer is a connected client. Replies on the session's own goroutine are
// written synchronously; coordinator events are queued and drained by a
// writer goroutine, so a connection that stops reading never blocks the
// coordinator. The write mutex serialises both paths onto the connection.
type peer struct {
	mu   sync.Mutex
	conn msgConn

	qmu    sync.Mutex
	events chan *pb.ControlMessage
	closed bool
}

func newPeer(conn msgConn) *peer {
	p := &peer{conn: conn, events: make(chan *pb.ControlMessage, peerEventQueue)}
	go p.writeLoop()
	return p
}

func (p *peer) send(msg *pb.ControlMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(msg)
}

// notify queues an event without blocking. A full queue means the client has
// stopped draining its socket; the connection is closed so its reader unwinds
// through the normal disconnect path instead of stalling everyone else.
func (p *peer) notify(msg *pb.ControlMessage) error {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	if p.closed {
		return nil
	}
	select {
	case p.events <- msg:
		return nil
	default:
		p.closed = true
		close(p.events)
		_ = p.conn.Close()
		return errPeerStalled
	}
}

// shutdown stops the writer goroutine once queued events are drained.
func (p *peer) shutdown() {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
}

func (p *peer) writeLoop() {
	for msg := range p.events {
		if err := p.send(msg); err != nil {
			slog.Debug("event write failed", "err", err)
			return
		}
	}
}

// peerSet maps session ids to live connections. It implements Notifier for
// the coordinator; notifications to unknown ids are dropped.
type peerSet struct {
	mu    sync.RWMutex
	peers map[string]*peer
}

func newPeerSet() *peerSet {
	return &peerSet{peers: make(map[string]*peer)}
}

func (ps *peerSet) set(sessionID string, p *peer) {
	ps.mu.Lock()
	ps.peers[sessionID] = p
	ps.mu.Unlock()
}

func (ps *peerSet) remove(sessionID string) {
	ps.mu.Lock()
	delete(ps.peers, sessionID)
	ps.mu.Unlock()
}

// Notify queues a control message for a session's connection, if it is still
// connected. Delivery is fire-and-forget: the caller never blocks on the
// peer's socket, and a peer that overflows its queue is cut loose.
func (ps *peerSet) Notify(sessionID string, msg *pb.ControlMessage) {
	ps.mu.RLock()
	p, ok := ps.peers[sessionID]
	ps.mu.RUnlock()
	if !ok {
		return
	}
	if err := p.notify(msg); err != nil {
		slog.Error("event queue overflow, dropping peer", "session", sessionID)
	}
}

// StartControl starts the TCP/TLS control listener.
func (s *Server) StartControl() error {
	cert, err := loadOrGenerateTLS(s.cfg)
	if err != nil {
		return fmt.Errorf("server: tls: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}

	ln, err := tls.Listen("tcp", s.cfg.ControlAddr, tlsCfg)
	if err != nil {
		return fmt.Errorf("server: listen control: %w", err)
	}
	s.controlConn = ln

	slog.Info("control plane listening", "addr", s.cfg.ControlAddr)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					slog.Error("accept error", "err", err)
					continue
				}
			}
			go func() {
				defer func() { _ = conn.Close() }()
				s.serveSession(&tcpMsgConn{conn: conn})
			}()
		}
	}()

	return nil
}

// serveSession runs the full lifecycle of one client connection: login
// handshake, message loop, disconnect teardown. Shared by both transports.
func (s *Server) serveSession(mc msgConn) {
	remoteAddr := mc.RemoteAddr()
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer s.metrics.ActiveConnections.Add(-1)
	slog.Debug("new connection", "remote", remoteAddr)

	p := newPeer(mc)
	defer p.shutdown()

	// First message must be a login request
	_ = mc.SetReadDeadline(time.Now().Add(loginTimeout))
	msg, err := mc.ReadMessage()
	if err != nil {
		slog.Debug("login read failed", "remote", remoteAddr, "err", err)
		return
	}
	_ = mc.SetReadDeadline(time.Time{}) // clear deadline

	if msg.LoginRequest == nil {
		sendError(p, 1, "first message must be login_request")
		return
	}

	sess, errMsg := s.buildSession(msg.LoginRequest)
	if errMsg != "" {
		s.metrics.FailedLogins.Add(1)
		sendError(p, 2, errMsg)
		return
	}

	sessionID := sess.ID
	s.peers.set(sessionID, p)
	snapshot := s.coord.Register(sess)

	defer func() {
		s.coord.Disconnect(sessionID)
		s.peers.remove(sessionID)
		s.metrics.TotalDisconnects.Add(1)
		slog.Info("client disconnected", "user", sess.DisplayName, "session", sessionID)
	}()

	if err := p.send(&pb.ControlMessage{
		LoginSuccess: &pb.LoginSuccess{Session: sessionInfo(snapshot)},
	}); err != nil {
		slog.Error("login response write failed", "err", err)
		return
	}

	slog.Info("client logged in",
		"user", sess.DisplayName, "country", sess.Country,
		"premium", sess.IsPremium, "session", sessionID)
	s.metrics.SuccessfulLogins.Add(1)

	// Message loop
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		msg, err := mc.ReadMessage()
		if err != nil {
			if err == io.EOF || isClosedErr(err) {
				return
			}
			slog.Debug("read error", "user", sess.DisplayName, "err", err)
			return
		}

		s.handleMessage(p, sessionID, msg)
	}
}

// buildSession turns a login request into a session record. With a valid
// token the persisted account's attributes win over the request payload;
// matching preferences stay per-connection. Returns a client-facing error
// message on rejection.
func (s *Server) buildSession(req *pb.LoginRequest) (*model.Session, string) {
	sess := &model.Session{
		ID:            uuid.NewString(),
		DisplayName:   trimName(req.DisplayName),
		Country:       strings.TrimSpace(req.Country),
		Gender:        strings.TrimSpace(req.Gender),
		Interests:     req.Interests,
		IsPremium:     req.IsPremium,
		Tier:          model.ParseTier(req.SubscriptionTier),
		TargetCountry: strings.TrimSpace(req.TargetCountry),
		TargetGender:  strings.TrimSpace(req.TargetGender),
	}

	if req.Token == "" {
		if !s.cfg.AllowAnonymous {
			return nil, "authentication required: anonymous login disabled"
		}
		sess.ApplyDefaults()
		return sess, ""
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	account, err := s.accounts.ResolveToken(ctx, req.Token)
	if err != nil {
		slog.Debug("token rejected", "err", err)
		return nil, "authentication failed: invalid token"
	}

	sess.DisplayName = account.Username
	if account.Country != "" {
		sess.Country = account.Country
	}
	if len(account.Interests) > 0 {
		sess.Interests = account.Interests
	}
	sess.Tier = account.Tier
	sess.IsPremium = account.IsPremium || account.Tier.Paid()
	sess.ApplyDefaults()
	return sess, ""
}

// handleMessage dispatches a control message to the appropriate handler.
func (s *Server) handleMessage(p *peer, sessionID string, msg *pb.ControlMessage) {
	switch {
	case msg.FindMatchReq != nil:
		s.coord.RequestMatch(sessionID)

	case msg.ChatMsg != nil:
		text := sanitizeText(strings.TrimSpace(msg.ChatMsg.Text))
		if len(text) == 0 || len(text) > maxChatMessage {
			return // empty or too long, silently drop
		}
		s.coord.SendMessage(sessionID, text)

	case msg.SkipReq != nil:
		s.coord.Skip(sessionID)

	case msg.Ping != nil:
		_ = p.send(&pb.ControlMessage{
			Pong: &pb.Pong{Timestamp: msg.Ping.Timestamp},
		})
	}
}

func sessionInfo(sess model.Session) pb.SessionInfo {
	return pb.SessionInfo{
		SessionID:        sess.ID,
		DisplayName:      sess.DisplayName,
		Country:          sess.Country,
		Gender:           sess.Gender,
		Interests:        sess.Interests,
		IsPremium:        sess.IsPremium,
		SubscriptionTier: sess.Tier.String(),
		TargetCountry:    sess.TargetCountry,
		TargetGender:     sess.TargetGender,
		State:            sess.State.String(),
	}
}

func sendError(p *peer, code int32, message string) {
	_ = p.send(&pb.ControlMessage{
		ErrorResponse: &pb.ErrorResponse{Code: code, Message: message},
	})
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "use of closed network connection" ||
		err.Error() == "tls: use of closed connection"
}

// trimName sanitizes a display name and caps it at the username length limit,
// backing off to a rune boundary so the result stays valid UTF-8.
func trimName(name string) string {
	name = sanitizeText(strings.TrimSpace(name))
	if len(name) > model.MaxUsernameLength {
		cut := model.MaxUsernameLength
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name
}

// sanitizeText strips control characters (except newline) from user-supplied text
// to prevent UI spoofing, terminal escape injection, and null-byte attacks.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' ' // collapse newlines to spaces
		}
		if unicode.IsControl(r) {
			return -1 // strip all other control chars (null, bell, ANSI escapes, etc.)
		}
		return r
	}, s)
}
