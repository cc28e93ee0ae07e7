// Package domain contains entities without logic beyond their own invariants.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound   = errors.New("call session not found")
	ErrOfferExists       = errors.New("offer already set")
	ErrOfferPending      = errors.New("no offer yet")
	ErrAnswerExists      = errors.New("answer already set")
	ErrSessionCompleted  = errors.New("call session completed")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type (
	SessionID string
	RoomID    string
	UserID    string
)

type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusActive, StatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether next is a legal status change.
// completed is terminal and active can never be skipped over scheduled.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusScheduled:
		return next == StatusActive || next == StatusCompleted
	case StatusActive:
		return next == StatusCompleted
	default:
		return false
	}
}

// SessionDescription is an SDP payload: a proposed (offer) or accepted
// (answer) media configuration.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a discovered network path proposed for the peer link.
// Field names follow the browser ICECandidateInit wire shape.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// CallSession is the persisted relay row both peers read and write.
// Offer is authored only by the initiator, answer only by the responder,
// and the candidate list is append-only for both sides.
type CallSession struct {
	ID            SessionID           `json:"id"`
	UserID        UserID              `json:"user_id"`
	RoomID        RoomID              `json:"room_id"`
	Status        SessionStatus       `json:"status"`
	Offer         *SessionDescription `json:"offer"`
	Answer        *SessionDescription `json:"answer"`
	ICECandidates []ICECandidate      `json:"ice_candidates"`
	CreatedAt     time.Time           `json:"created_at"`
	StartedAt     *time.Time          `json:"started_at"`
	EndedAt       *time.Time          `json:"ended_at"`
}

// NewCallSession builds a fresh scheduled session for the given initiator.
func NewCallSession(userID UserID) CallSession {
	now := time.Now().UTC()
	return CallSession{
		ID:        SessionID(uuid.NewString()),
		UserID:    userID,
		RoomID:    NewRoomID(userID, now),
		Status:    StatusScheduled,
		CreatedAt: now,
	}
}

// NewRoomID derives the human-readable room label. The label is not used
// for routing once the relay row exists.
func NewRoomID(userID UserID, at time.Time) RoomID {
	uid := string(userID)
	if len(uid) > 8 {
		uid = uid[:8]
	}
	return RoomID(fmt.Sprintf("room-%s-%d", uid, at.UnixMilli()))
}
