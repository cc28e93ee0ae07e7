package relayclient

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapterhttp "github.com/dkeye/telecare/internal/adapters/http"
	"github.com/dkeye/telecare/internal/config"
	"github.com/dkeye/telecare/internal/domain"
	"github.com/dkeye/telecare/internal/notify"
	"github.com/dkeye/telecare/internal/rooms"
	"github.com/dkeye/telecare/internal/store"
)

func newRelayServer(t *testing.T) *httptest.Server {
	t.Helper()

	hub := notify.NewHub()
	st, err := store.Open(t.TempDir(), hub)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	provider := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		json.NewEncoder(w).Encode(rooms.Room{Name: "room-test", URL: "https://rooms.example/room-test"})
	}))
	t.Cleanup(provider.Close)

	cfg := &config.Config{Mode: "release", Secret: "test-secret", APIToken: "relay-token"}
	h := adapterhttp.NewHandler(st, hub, rooms.NewService(rooms.NewProvider(provider.URL, "provider-key"), st))

	srv := httptest.NewServer(adapterhttp.SetupRouter(context.Background(), cfg, h))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSessionRoundTrip(t *testing.T) {
	assert := assert.New(t)
	srv := newRelayServer(t)
	client := New(srv.URL, "relay-token")
	ctx := context.Background()

	sess, err := client.Create(ctx, "ignored")
	require.NoError(t, err)
	assert.NotEmpty(sess.ID)
	assert.Equal(domain.StatusScheduled, sess.Status)

	require.NoError(t, client.SetOffer(ctx, sess.ID, domain.SessionDescription{Type: "offer", SDP: "v=0 offer"}))
	err = client.SetOffer(ctx, sess.ID, domain.SessionDescription{Type: "offer", SDP: "v=0 again"})
	assert.ErrorIs(err, domain.ErrOfferExists)

	require.NoError(t, client.SetAnswer(ctx, sess.ID, domain.SessionDescription{Type: "answer", SDP: "v=0 answer"}))
	require.NoError(t, client.AppendCandidate(ctx, sess.ID, domain.ICECandidate{Candidate: "candidate:1"}))

	got, err := client.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(domain.StatusActive, got.Status)
	require.NotNil(t, got.Answer)
	assert.Len(got.ICECandidates, 1)

	require.NoError(t, client.Complete(ctx, sess.ID))
	err = client.AppendCandidate(ctx, sess.ID, domain.ICECandidate{Candidate: "candidate:late"})
	assert.ErrorIs(err, domain.ErrSessionCompleted)
}

func TestClientKeepsUserAcrossRequests(t *testing.T) {
	srv := newRelayServer(t)
	client := New(srv.URL, "relay-token")
	ctx := context.Background()

	a, err := client.Create(ctx, "ignored")
	require.NoError(t, err)
	b, err := client.Create(ctx, "ignored")
	require.NoError(t, err)

	require.NotEmpty(t, a.UserID)
	assert.Equal(t, a.UserID, b.UserID, "one client keeps one identity across requests")
}

func TestClientMissingSession(t *testing.T) {
	srv := newRelayServer(t)
	client := New(srv.URL, "relay-token")

	_, err := client.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestClientListScheduled(t *testing.T) {
	srv := newRelayServer(t)
	client := New(srv.URL, "relay-token")
	ctx := context.Background()

	a, err := client.Create(ctx, "ignored")
	require.NoError(t, err)
	_, err = client.Create(ctx, "ignored")
	require.NoError(t, err)
	require.NoError(t, client.Complete(ctx, a.ID))

	scheduled, err := client.ListScheduled(ctx)
	require.NoError(t, err)
	assert.Len(t, scheduled, 1)
}

func TestClientCreateRoom(t *testing.T) {
	assert := assert.New(t)
	srv := newRelayServer(t)
	client := New(srv.URL, "relay-token")

	url, sess, err := client.CreateRoom(context.Background())
	require.NoError(t, err)
	assert.Equal("https://rooms.example/room-test", url)
	assert.Equal(domain.RoomID("room-test"), sess.RoomID)
}

func TestClientCreateRoomUnauthorized(t *testing.T) {
	srv := newRelayServer(t)
	client := New(srv.URL, "wrong-token")

	_, _, err := client.CreateRoom(context.Background())
	require.Error(t, err)
}

func TestFeedDeliversChanges(t *testing.T) {
	assert := assert.New(t)
	srv := newRelayServer(t)
	client := New(srv.URL, "relay-token")
	ctx := context.Background()

	sess, err := client.Create(ctx, "ignored")
	require.NoError(t, err)

	feed := NewFeed(srv.URL)
	updates, cancel, err := feed.Subscribe(ctx, sess.ID)
	require.NoError(t, err)
	defer cancel()

	// Current row arrives first.
	select {
	case got := <-updates:
		assert.Equal(sess.ID, got.ID)
		assert.Nil(got.Offer)
	case <-time.After(5 * time.Second):
		t.Fatal("no initial snapshot")
	}

	require.NoError(t, client.SetOffer(ctx, sess.ID, domain.SessionDescription{Type: "offer", SDP: "v=0 offer"}))

	select {
	case got := <-updates:
		require.NotNil(t, got.Offer)
		assert.Equal("v=0 offer", got.Offer.SDP)
	case <-time.After(5 * time.Second):
		t.Fatal("no change snapshot")
	}

	cancel()
	select {
	case _, open := <-updates:
		assert.False(open, "channel closes after cancel")
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed")
	}
}
