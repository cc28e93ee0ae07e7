// Package store persists call sessions, the relay rows both peers read and
// write during negotiation. Mutations go through conditional SQL so that the
// row invariants (single offer, single answer after offer, append-only
// candidates, terminal completed) hold even under concurrent writers.
package store

import (
	"context"

	"github.com/dkeye/telecare/internal/domain"
)

// Publisher receives the full row snapshot after every committed mutation.
// The notify hub implements this; a nil publisher disables change events.
type Publisher interface {
	Publish(session domain.CallSession)
}

// SessionStore is the persistence surface relayd handlers depend on.
type SessionStore interface {
	Create(ctx context.Context, userID domain.UserID) (domain.CallSession, error)
	Insert(ctx context.Context, session domain.CallSession) error
	Get(ctx context.Context, id domain.SessionID) (domain.CallSession, error)
	ListByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.CallSession, error)
	SetOffer(ctx context.Context, id domain.SessionID, offer domain.SessionDescription) error
	SetAnswer(ctx context.Context, id domain.SessionID, answer domain.SessionDescription) error
	AppendCandidate(ctx context.Context, id domain.SessionID, cand domain.ICECandidate) error
	Complete(ctx context.Context, id domain.SessionID) error
}
