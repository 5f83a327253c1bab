package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/NicolasHaas/gomingle/pkg/model"
	pb "github.com/NicolasHaas/gomingle/pkg/protocol/pb"
)

// Notifier delivers a control message to a connected session. Delivery is
// best-effort and must not block indefinitely; unknown ids are dropped.
type Notifier interface {
	Notify(sessionID string, msg *pb.ControlMessage)
}

// Coordinator owns the matchmaking state: the session registry, the waiting
// pool, and every state transition between them.
//
// A single mutex guards the whole scan/find/remove/mutate-both-sessions
// sequence. Two concurrent match requests must never both claim the same
// candidate or leave a one-sided pairing; wrapping registry + pool + session
// state in one exclusion scope is the correctness boundary that prevents it.
type Coordinator struct {
	mu       sync.Mutex
	registry *Registry
	pool     *WaitingPool
	policy   MatchPolicy
	notifier Notifier
	metrics  *Metrics
}

// NewCoordinator creates a coordinator with an empty registry and pool.
func NewCoordinator(policy MatchPolicy, notifier Notifier, metrics *Metrics) *Coordinator {
	return &Coordinator{
		registry: NewRegistry(),
		pool:     NewWaitingPool(),
		policy:   policy,
		notifier: notifier,
		metrics:  metrics,
	}
}

// RoomID returns the canonical room identifier for a pair: both ids sorted
// lexicographically and joined with "-", so both sides and the relay derive
// the same name without coordination.
func RoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "-" + b
}

// Register creates (or replaces) the session record for id and returns a
// snapshot of the stored session. An existing record is unwound first so a
// re-login mid-chat never strands the old partner.
func (c *Coordinator) Register(sess *model.Session) model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing := c.registry.Get(sess.ID); existing != nil {
		c.detachLocked(existing)
	}

	sess.State = model.StateIdle
	sess.PartnerID = ""
	c.registry.Register(sess)
	return sess.Clone()
}

// Snapshot returns a copy of the session record for id.
func (c *Coordinator) Snapshot(id string) (model.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.registry.Get(id)
	if sess == nil {
		return model.Session{}, false
	}
	return sess.Clone(), true
}

// Sessions returns the number of registered sessions.
func (c *Coordinator) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Count()
}

// Waiting returns the number of sessions queued in the pool.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.Len()
}

// RequestMatch transitions id to SEARCHING and tries to pair it with the
// first compatible queued session. On success both sessions become CHATTING
// with mutual partner ids and both are notified; otherwise the requester is
// enqueued and stays SEARCHING until a future requester matches it.
func (c *Coordinator) RequestMatch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.registry.Get(id)
	if sess == nil || sess.State == model.StateChatting {
		return
	}

	sess.State = model.StateSearching
	c.metrics.SearchesStarted.Add(1)

	partner := c.pool.FindCompatible(sess, c.registry.Get, c.policy.Compatible)
	if partner == nil {
		c.pool.Enqueue(id)
		return
	}

	// Both records and the room association flip before any other event for
	// either id can be processed; the lock spans the whole sequence.
	c.pool.Remove(id)
	sess.State = model.StateChatting
	partner.State = model.StateChatting
	sess.PartnerID = partner.ID
	partner.PartnerID = sess.ID

	room := RoomID(sess.ID, partner.ID)
	matchMsg := &pb.ControlMessage{MatchFound: &pb.MatchFoundEvent{RoomID: room}}
	c.notifier.Notify(sess.ID, matchMsg)
	c.notifier.Notify(partner.ID, matchMsg)

	// Each side learns the other's public attributes only; target preferences
	// stay private.
	c.notifier.Notify(sess.ID, &pb.ControlMessage{PartnerInfo: publicInfo(partner)})
	c.notifier.Notify(partner.ID, &pb.ControlMessage{PartnerInfo: publicInfo(sess)})

	c.metrics.MatchesMade.Add(1)
	slog.Info("matched",
		"user", sess.DisplayName, "country", sess.Country,
		"partner", partner.DisplayName, "partner_country", partner.Country,
		"room", room,
	)
}

func publicInfo(sess *model.Session) *pb.PartnerInfoEvent {
	return &pb.PartnerInfoEvent{
		DisplayName: sess.DisplayName,
		Country:     sess.Country,
		Interests:   append([]string(nil), sess.Interests...),
	}
}

// SendMessage relays text from id to its current partner only. Silent no-op
// when unpaired: the UI already prevents sending while unmatched, so a stray
// message is dropped, not an error. No echo is sent back to the sender.
func (c *Coordinator) SendMessage(id, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.registry.Get(id)
	if sess == nil || sess.PartnerID == "" {
		c.metrics.MessagesDropped.Add(1)
		return
	}

	c.notifier.Notify(sess.PartnerID, &pb.ControlMessage{
		ChatEvent: &pb.ChatEvent{
			Text:      text,
			SenderID:  id,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
	c.metrics.MessagesRelayed.Add(1)
}

// Skip tears the pairing down from id's side: the partner returns to IDLE
// and is notified, then id returns to IDLE. The client issues a fresh match
// request itself; the core never force-requeues.
func (c *Coordinator) Skip(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.registry.Get(id)
	if sess == nil {
		return
	}
	c.detachLocked(sess)
	c.metrics.Skips.Add(1)
}

// Disconnect performs the same partner teardown as Skip, removes id from the
// waiting pool, and deletes its record. Idempotent: a second disconnect for
// the same id is a no-op.
func (c *Coordinator) Disconnect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.registry.Get(id)
	if sess == nil {
		c.pool.Remove(id)
		return
	}
	c.detachLocked(sess)
	c.registry.Remove(id)
}

// detachLocked unwinds any pairing or pool membership for sess and leaves it
// IDLE. Caller holds c.mu.
func (c *Coordinator) detachLocked(sess *model.Session) {
	if pid := sess.PartnerID; pid != "" {
		if partner := c.registry.Get(pid); partner != nil {
			if partner.PartnerID != sess.ID {
				// Pairing must always be mutual; a one-sided pair is a core
				// bug, not a user error.
				slog.Error("asymmetric pairing detected",
					"session", sess.ID, "partner", pid, "partner_points_at", partner.PartnerID)
			} else {
				partner.State = model.StateIdle
				partner.PartnerID = ""
				c.notifier.Notify(pid, &pb.ControlMessage{PartnerLeft: &pb.PartnerLeftEvent{}})
			}
		}
	}
	sess.State = model.StateIdle
	sess.PartnerID = ""
	c.pool.Remove(sess.ID)
}
