package server

import (
	"github.com/NicolasHaas/gomingle/pkg/model"
)

// WaitingPool is the FIFO collection of session ids awaiting a partner.
//
// It holds borrowed ids only; the Registry remains the source of truth for a
// session's existence. The pool is not safe for concurrent use on its own:
// the Coordinator serialises all access under its lock, which is what makes
// the scan-and-remove in FindCompatible atomic with respect to other scans.
type WaitingPool struct {
	ids []string
}

// NewWaitingPool creates an empty waiting pool.
func NewWaitingPool() *WaitingPool {
	return &WaitingPool{}
}

// Enqueue appends id preserving arrival order. Returns false if the id was
// already queued (the caller treats that as a no-op, never a duplicate entry).
func (p *WaitingPool) Enqueue(id string) bool {
	if p.Contains(id) {
		return false
	}
	p.ids = append(p.ids, id)
	return true
}

// Remove deletes id from the pool if present; no-op otherwise.
func (p *WaitingPool) Remove(id string) bool {
	for i, queued := range p.ids {
		if queued == id {
			p.ids = append(p.ids[:i], p.ids[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether id is queued.
func (p *WaitingPool) Contains(id string) bool {
	for _, queued := range p.ids {
		if queued == id {
			return true
		}
	}
	return false
}

// Len returns the number of queued ids.
func (p *WaitingPool) Len() int {
	return len(p.ids)
}

// FindCompatible scans the pool in arrival order and returns the first
// candidate still in SEARCHING state for which match holds, removing it from
// the pool in the same step. lookup resolves an id to its current session;
// stale ids (removed sessions, sessions no longer searching) are skipped but
// left queued, since their own teardown owns their pool membership.
//
// The scan is linear on purpose: strict FIFO with no scoring, sized for a
// single-process pool.
func (p *WaitingPool) FindCompatible(requester *model.Session, lookup func(string) *model.Session, match func(a, b *model.Session) bool) *model.Session {
	for i, id := range p.ids {
		if id == requester.ID {
			continue
		}
		candidate := lookup(id)
		if candidate == nil || candidate.State != model.StateSearching {
			continue
		}
		if match(requester, candidate) {
			p.ids = append(p.ids[:i], p.ids[i+1:]...)
			return candidate
		}
	}
	return nil
}
