package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
		ok       bool
	}{
		{StatusScheduled, StatusActive, true},
		{StatusScheduled, StatusCompleted, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusScheduled, false},
		{StatusCompleted, StatusScheduled, false},
		{StatusCompleted, StatusActive, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusScheduled, StatusScheduled, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransitionTo(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusScheduled.Valid())
	assert.True(t, StatusActive.Valid())
	assert.True(t, StatusCompleted.Valid())
	assert.False(t, SessionStatus("bogus").Valid())
	assert.False(t, SessionStatus("").Valid())
}

func TestNewCallSession(t *testing.T) {
	assert := assert.New(t)

	s := NewCallSession("patient-1234-abcd")

	assert.NotEmpty(s.ID)
	assert.Equal(StatusScheduled, s.Status)
	assert.Nil(s.Offer)
	assert.Nil(s.Answer)
	assert.Empty(s.ICECandidates)
	assert.True(strings.HasPrefix(string(s.RoomID), "room-patient-"))
	assert.WithinDuration(time.Now(), s.CreatedAt, time.Minute)
}

func TestNewRoomIDShortUser(t *testing.T) {
	id := NewRoomID("ab", time.UnixMilli(1000))
	assert.Equal(t, RoomID("room-ab-1000"), id)
}
