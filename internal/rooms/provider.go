// Package rooms implements the hosted-room call path: instead of relaying a
// peer-to-peer negotiation, the server asks a managed video provider for a
// room and hands both participants the join URL.
package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/telecare/internal/domain"
)

// Room is what the provider returns for a freshly created room.
type Room struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Provider is a client for a Daily-style room API.
type Provider struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewProvider(baseURL, apiKey string) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type roomProperties struct {
	EnableScreenshare bool  `json:"enable_screenshare"`
	EnableChat        bool  `json:"enable_chat"`
	StartVideoOff     bool  `json:"start_video_off"`
	StartAudioOff     bool  `json:"start_audio_off"`
	Exp               int64 `json:"exp"`
}

type createRoomRequest struct {
	Properties roomProperties `json:"properties"`
}

// CreateRoom asks the provider for a room that expires in 24 hours.
func (p *Provider) CreateRoom(ctx context.Context) (Room, error) {
	body, err := json.Marshal(createRoomRequest{
		Properties: roomProperties{
			EnableScreenshare: true,
			EnableChat:        true,
			Exp:               time.Now().Add(24 * time.Hour).Unix(),
		},
	})
	if err != nil {
		return Room{}, fmt.Errorf("encode room request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/rooms", bytes.NewReader(body))
	if err != nil {
		return Room{}, fmt.Errorf("build room request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return Room{}, fmt.Errorf("create provider room: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Room{}, fmt.Errorf("create provider room: status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var room Room
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		return Room{}, fmt.Errorf("decode provider room: %w", err)
	}
	if room.Name == "" || room.URL == "" {
		return Room{}, fmt.Errorf("provider room response missing name or url")
	}
	return room, nil
}

// RoomCreator is the provider surface the service needs.
type RoomCreator interface {
	CreateRoom(ctx context.Context) (Room, error)
}

// SessionInserter persists a pre-built session row.
type SessionInserter interface {
	Insert(ctx context.Context, sess domain.CallSession) error
}

// Service ties the provider to the relay store: one call creates the provider
// room and the session row that tracks it.
type Service struct {
	provider RoomCreator
	store    SessionInserter
}

func NewService(provider RoomCreator, store SessionInserter) *Service {
	return &Service{provider: provider, store: store}
}

// CreateHostedSession creates a provider room for userID and records a
// scheduled session whose room_id is the provider room name. The provider
// call happens first so a provider failure leaves the store untouched.
func (s *Service) CreateHostedSession(ctx context.Context, userID domain.UserID) (string, domain.CallSession, error) {
	room, err := s.provider.CreateRoom(ctx)
	if err != nil {
		return "", domain.CallSession{}, err
	}

	sess := domain.NewCallSession(userID)
	sess.RoomID = domain.RoomID(room.Name)
	if err := s.store.Insert(ctx, sess); err != nil {
		return "", domain.CallSession{}, err
	}

	log.Info().Str("module", "rooms").
		Str("session", string(sess.ID)).
		Str("room", room.Name).
		Msg("hosted room created")
	return room.URL, sess, nil
}
