// Package relayclient is the call agent's view of the relay server: the same
// session operations the server exposes over REST, plus the websocket change
// feed, shaped to the controller's interfaces.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/dkeye/telecare/internal/domain"
)

// Client talks to a relayd instance. It satisfies the controller's Relay and
// RoomService interfaces.
type Client struct {
	baseURL  string
	apiToken string
	http     *http.Client
}

func New(baseURL, apiToken string) *Client {
	// The server identifies a caller by its client token cookie. The jar keeps
	// that cookie across requests so the relay sees one user, not a fresh one
	// per call.
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiToken: apiToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
		},
	}
}

func (c *Client) Create(ctx context.Context, _ domain.UserID) (domain.CallSession, error) {
	// The server derives the user id from the client token cookie.
	var sess domain.CallSession
	if err := c.do(ctx, http.MethodPost, "/api/sessions", nil, &sess); err != nil {
		return domain.CallSession{}, err
	}
	return sess, nil
}

func (c *Client) Get(ctx context.Context, id domain.SessionID) (domain.CallSession, error) {
	var sess domain.CallSession
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+string(id), nil, &sess); err != nil {
		return domain.CallSession{}, err
	}
	return sess, nil
}

func (c *Client) ListScheduled(ctx context.Context) ([]domain.CallSession, error) {
	var sessions []domain.CallSession
	if err := c.do(ctx, http.MethodGet, "/api/sessions?status=scheduled", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) SetOffer(ctx context.Context, id domain.SessionID, offer domain.SessionDescription) error {
	return c.do(ctx, http.MethodPut, "/api/sessions/"+string(id)+"/offer", offer, nil)
}

func (c *Client) SetAnswer(ctx context.Context, id domain.SessionID, answer domain.SessionDescription) error {
	return c.do(ctx, http.MethodPut, "/api/sessions/"+string(id)+"/answer", answer, nil)
}

func (c *Client) AppendCandidate(ctx context.Context, id domain.SessionID, cand domain.ICECandidate) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+string(id)+"/candidates", cand, nil)
}

func (c *Client) Complete(ctx context.Context, id domain.SessionID) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+string(id)+"/complete", nil, nil)
}

type hostedRoomResponse struct {
	RoomURL   string           `json:"roomUrl"`
	RoomName  string           `json:"roomName"`
	SessionID domain.SessionID `json:"sessionId"`
}

// CreateRoom requests a hosted provider room from the relay server.
func (c *Client) CreateRoom(ctx context.Context) (string, domain.CallSession, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/rooms", nil)
	if err != nil {
		return "", domain.CallSession{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	var room hostedRoomResponse
	if err := c.send(req, &room); err != nil {
		return "", domain.CallSession{}, err
	}

	sess, err := c.Get(ctx, room.SessionID)
	if err != nil {
		return "", domain.CallSession{}, err
	}
	return room.RoomURL, sess, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode relay response: %w", err)
	}
	return nil
}

// decodeError maps the server's error payload back onto the domain sentinels
// so the controller behaves the same against a remote store as a local one.
func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrSessionNotFound
	}
	if resp.StatusCode == http.StatusConflict {
		for _, sentinel := range []error{
			domain.ErrOfferExists,
			domain.ErrOfferPending,
			domain.ErrAnswerExists,
			domain.ErrSessionCompleted,
		} {
			if payload.Error == sentinel.Error() {
				return sentinel
			}
		}
	}
	if payload.Error != "" {
		return fmt.Errorf("relay: %s (status %d)", payload.Error, resp.StatusCode)
	}
	return fmt.Errorf("relay: status %s", resp.Status)
}
