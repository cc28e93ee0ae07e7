package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/telecare/internal/config"
	"github.com/dkeye/telecare/internal/domain"
	"github.com/dkeye/telecare/internal/notify"
	"github.com/dkeye/telecare/internal/rooms"
	"github.com/dkeye/telecare/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()

	hub := notify.NewHub()
	st, err := store.Open(t.TempDir(), hub)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rooms.Room{Name: "room-test", URL: "https://rooms.example/room-test"})
	}))
	t.Cleanup(provider.Close)

	cfg := &config.Config{Mode: "release", Secret: "test-secret", APIToken: "relay-token"}
	h := NewHandler(st, hub, rooms.NewService(rooms.NewProvider(provider.URL, "provider-key"), st))

	srv := httptest.NewServer(SetupRouter(context.Background(), cfg, h))
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func createSession(t *testing.T, srv *httptest.Server) domain.CallSession {
	t.Helper()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sess domain.CallSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	return sess
}

func TestCreateAndFetchSession(t *testing.T) {
	assert := assert.New(t)
	srv, _ := newTestServer(t)

	sess := createSession(t, srv)
	assert.NotEmpty(sess.ID)
	assert.NotEmpty(sess.UserID)
	assert.Equal(domain.StatusScheduled, sess.Status)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+string(sess.ID), nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got domain.CallSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(sess.ID, got.ID)
	assert.Nil(got.Offer)
}

func TestGetMissingSession(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/nope", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOfferAnswerFlow(t *testing.T) {
	assert := assert.New(t)
	srv, _ := newTestServer(t)
	sess := createSession(t, srv)
	base := srv.URL + "/api/sessions/" + string(sess.ID)

	resp := doJSON(t, http.MethodPut, base+"/offer", domain.SessionDescription{Type: "offer", SDP: "v=0 offer"})
	resp.Body.Close()
	assert.Equal(http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodPut, base+"/offer", domain.SessionDescription{Type: "offer", SDP: "v=0 again"})
	resp.Body.Close()
	assert.Equal(http.StatusConflict, resp.StatusCode, "second offer rejected")

	resp = doJSON(t, http.MethodPut, base+"/answer", domain.SessionDescription{Type: "answer", SDP: "v=0 answer"})
	resp.Body.Close()
	assert.Equal(http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, base, nil)
	defer resp.Body.Close()
	var got domain.CallSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(domain.StatusActive, got.Status)
	require.NotNil(t, got.Answer)
	require.NotNil(t, got.StartedAt)
}

func TestAnswerBeforeOfferRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := createSession(t, srv)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/sessions/"+string(sess.ID)+"/answer",
		domain.SessionDescription{Type: "answer", SDP: "v=0"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestOfferValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := createSession(t, srv)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/sessions/"+string(sess.ID)+"/offer",
		map[string]string{"type": "offer"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCandidateLifecycle(t *testing.T) {
	assert := assert.New(t)
	srv, _ := newTestServer(t)
	sess := createSession(t, srv)
	base := srv.URL + "/api/sessions/" + string(sess.ID)

	mid := "0"
	resp := doJSON(t, http.MethodPost, base+"/candidates",
		domain.ICECandidate{Candidate: "candidate:1 1 udp 2122260223 10.0.0.1 50000 typ host", SDPMid: &mid})
	resp.Body.Close()
	assert.Equal(http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/complete", nil)
	resp.Body.Close()
	assert.Equal(http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/candidates",
		domain.ICECandidate{Candidate: "candidate:late"})
	resp.Body.Close()
	assert.Equal(http.StatusConflict, resp.StatusCode, "candidates refused after completion")

	resp = doJSON(t, http.MethodPost, base+"/complete", nil)
	resp.Body.Close()
	assert.Equal(http.StatusNoContent, resp.StatusCode, "complete is idempotent")
}

func TestListSessionsByStatus(t *testing.T) {
	assert := assert.New(t)
	srv, _ := newTestServer(t)

	a := createSession(t, srv)
	b := createSession(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+string(a.ID)+"/complete", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sessions?status=scheduled", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []domain.CallSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(b.ID, got[0].ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sessions?status=bogus", nil)
	resp.Body.Close()
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestHostedRoomRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/rooms", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHostedRoomCreated(t *testing.T) {
	assert := assert.New(t)
	srv, st := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/rooms", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer relay-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var room HostedRoomResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&room))
	assert.Equal("https://rooms.example/room-test", room.RoomURL)
	assert.Equal("room-test", room.RoomName)

	sess, err := st.Get(context.Background(), room.SessionID)
	require.NoError(t, err)
	assert.Equal(domain.RoomID("room-test"), sess.RoomID)
	assert.Equal(domain.StatusScheduled, sess.Status)
}

func TestFeedStreamsRowChanges(t *testing.T) {
	assert := assert.New(t)
	srv, _ := newTestServer(t)
	sess := createSession(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/sessions/" + string(sess.ID)
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	readSnapshot := func() domain.CallSession {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var got domain.CallSession
		require.NoError(t, json.Unmarshal(data, &got))
		return got
	}

	first := readSnapshot()
	assert.Equal(sess.ID, first.ID, "current row arrives first")
	assert.Nil(first.Offer)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/sessions/"+string(sess.ID)+"/offer",
		domain.SessionDescription{Type: "offer", SDP: "v=0 offer"})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	next := readSnapshot()
	require.NotNil(t, next.Offer)
	assert.Equal("v=0 offer", next.Offer.SDP)
}
