package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/telecare/internal/domain"
)

func newTestStore(t *testing.T, pub Publisher) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), pub)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateSession(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)
	ctx := context.Background()

	sess, err := s.Create(ctx, "patient-0001")
	require.NoError(t, err)

	stored, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(domain.StatusScheduled, stored.Status)
	assert.Nil(stored.Offer)
	assert.Nil(stored.Answer)
	assert.Empty(stored.ICECandidates)
	assert.Nil(stored.StartedAt)
	assert.Nil(stored.EndedAt)
	assert.Equal(sess.RoomID, stored.RoomID)
}

func TestGetMissingSession(t *testing.T) {
	s := newTestStore(t, nil)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSetOfferOnce(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)
	ctx := context.Background()

	sess, err := s.Create(ctx, "patient-0001")
	require.NoError(t, err)

	offer := domain.SessionDescription{Type: "offer", SDP: "v=0 first"}
	require.NoError(t, s.SetOffer(ctx, sess.ID, offer))

	stored, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Offer)
	assert.Equal("v=0 first", stored.Offer.SDP)
	assert.Equal(domain.StatusScheduled, stored.Status, "offer does not change status")

	err = s.SetOffer(ctx, sess.ID, domain.SessionDescription{Type: "offer", SDP: "v=0 second"})
	assert.ErrorIs(err, domain.ErrOfferExists)

	stored, err = s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal("v=0 first", stored.Offer.SDP, "first offer wins")
}

func TestSetAnswerRequiresOffer(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)
	ctx := context.Background()

	sess, err := s.Create(ctx, "patient-0001")
	require.NoError(t, err)

	err = s.SetAnswer(ctx, sess.ID, domain.SessionDescription{Type: "answer", SDP: "v=0"})
	assert.ErrorIs(err, domain.ErrOfferPending)

	stored, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(stored.Answer)
	assert.Equal(domain.StatusScheduled, stored.Status)
}

func TestSetAnswerActivatesSession(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)
	ctx := context.Background()

	sess, err := s.Create(ctx, "patient-0001")
	require.NoError(t, err)
	require.NoError(t, s.SetOffer(ctx, sess.ID, domain.SessionDescription{Type: "offer", SDP: "v=0"}))
	require.NoError(t, s.SetAnswer(ctx, sess.ID, domain.SessionDescription{Type: "answer", SDP: "v=0"}))

	stored, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(domain.StatusActive, stored.Status)
	require.NotNil(t, stored.Answer)
	require.NotNil(t, stored.StartedAt)
	assert.False(stored.StartedAt.Before(stored.CreatedAt), "started_at >= created_at")

	err = s.SetAnswer(ctx, sess.ID, domain.SessionDescription{Type: "answer", SDP: "again"})
	assert.ErrorIs(err, domain.ErrAnswerExists)
}

func TestAppendCandidateMonotonic(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)
	ctx := context.Background()

	sess, err := s.Create(ctx, "patient-0001")
	require.NoError(t, err)

	mid := "0"
	idx := uint16(0)
	for i := 0; i < 5; i++ {
		cand := domain.ICECandidate{
			Candidate:     fmt.Sprintf("candidate:%d 1 udp 2122260223 10.0.0.%d 50000 typ host", i, i),
			SDPMid:        &mid,
			SDPMLineIndex: &idx,
		}
		require.NoError(t, s.AppendCandidate(ctx, sess.ID, cand))

		stored, err := s.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Len(stored.ICECandidates, i+1, "list length only grows")
	}

	stored, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ICECandidates[0].SDPMid)
	assert.Equal("0", *stored.ICECandidates[0].SDPMid)
}

func TestAppendCandidateConcurrent(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	sess, err := s.Create(ctx, "patient-0001")
	require.NoError(t, err)

	// Both peers append at once; the server-side json_insert must not lose
	// any of them to a read-modify-write race.
	const writers = 2
	const perWriter = 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				cand := domain.ICECandidate{Candidate: fmt.Sprintf("candidate:w%d-%d", w, i)}
				assert.NoError(t, s.AppendCandidate(ctx, sess.ID, cand))
			}
		}(w)
	}
	wg.Wait()

	stored, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ICECandidates, writers*perWriter)
}

func TestCompleteSession(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)
	ctx := context.Background()

	sess, err := s.Create(ctx, "patient-0001")
	require.NoError(t, err)
	require.NoError(t, s.SetOffer(ctx, sess.ID, domain.SessionDescription{Type: "offer", SDP: "v=0"}))
	require.NoError(t, s.Complete(ctx, sess.ID))

	stored, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(domain.StatusCompleted, stored.Status)
	require.NotNil(t, stored.EndedAt)

	// Terminal: candidate writes are refused, completing again is a no-op.
	err = s.AppendCandidate(ctx, sess.ID, domain.ICECandidate{Candidate: "late"})
	assert.ErrorIs(err, domain.ErrSessionCompleted)
	assert.NoError(s.Complete(ctx, sess.ID))

	stored, err = s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(stored.ICECandidates)

	err = s.SetOffer(ctx, sess.ID, domain.SessionDescription{Type: "offer", SDP: "late"})
	assert.Error(err)
}

func TestCompleteMissingSession(t *testing.T) {
	s := newTestStore(t, nil)
	assert.ErrorIs(t, s.Complete(context.Background(), "nope"), domain.ErrSessionNotFound)
}

func TestListByStatus(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)
	ctx := context.Background()

	a, err := s.Create(ctx, "patient-0001")
	require.NoError(t, err)
	b, err := s.Create(ctx, "patient-0002")
	require.NoError(t, err)
	require.NoError(t, s.SetOffer(ctx, b.ID, domain.SessionDescription{Type: "offer", SDP: "v=0"}))
	require.NoError(t, s.Complete(ctx, a.ID))

	scheduled, err := s.ListByStatus(ctx, domain.StatusScheduled)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(b.ID, scheduled[0].ID)

	completed, err := s.ListByStatus(ctx, domain.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(a.ID, completed[0].ID)
}

type recordingPublisher struct {
	mu   sync.Mutex
	rows []domain.CallSession
}

func (p *recordingPublisher) Publish(sess domain.CallSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = append(p.rows, sess)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rows)
}

func TestMutationsPublishSnapshots(t *testing.T) {
	assert := assert.New(t)
	pub := &recordingPublisher{}
	s := newTestStore(t, pub)
	ctx := context.Background()

	sess, err := s.Create(ctx, "patient-0001")
	require.NoError(t, err)
	require.NoError(t, s.SetOffer(ctx, sess.ID, domain.SessionDescription{Type: "offer", SDP: "v=0"}))
	require.NoError(t, s.AppendCandidate(ctx, sess.ID, domain.ICECandidate{Candidate: "c1"}))
	require.NoError(t, s.Complete(ctx, sess.ID))

	assert.Equal(4, pub.count(), "one snapshot per committed mutation")

	pub.mu.Lock()
	last := pub.rows[len(pub.rows)-1]
	pub.mu.Unlock()
	assert.Equal(domain.StatusCompleted, last.Status)
	assert.Len(last.ICECandidates, 1, "snapshots carry the full row")
}
