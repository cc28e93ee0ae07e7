package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/telecare/internal/domain"
)

// Feed subscribes to relayd's websocket change feed. It satisfies the
// controller's Feed interface.
type Feed struct {
	baseURL string
	dialer  *websocket.Dialer
}

func NewFeed(baseURL string) *Feed {
	return &Feed{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		dialer:  websocket.DefaultDialer,
	}
}

// Subscribe opens the feed for one session. The returned channel carries
// full-row snapshots, current row first, and closes when the server goes
// away or cancel runs. Cancel is idempotent and safe on every exit path.
func (f *Feed) Subscribe(ctx context.Context, id domain.SessionID) (<-chan domain.CallSession, func(), error) {
	wsURL := toWebsocketURL(f.baseURL) + "/api/ws/sessions/" + string(id)

	conn, _, err := f.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial change feed: %w", err)
	}
	log.Debug().Str("module", "relayclient").Str("session", string(id)).Msg("feed subscribed")

	ctx, stop := context.WithCancel(ctx)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			conn.Close()
		})
	}

	ch := make(chan domain.CallSession, 4)
	go func() {
		defer close(ch)
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("module", "relayclient").Str("session", string(id)).Msg("feed read error")
				}
				return
			}

			var sess domain.CallSession
			if err := json.Unmarshal(data, &sess); err != nil {
				log.Error().Err(err).Str("module", "relayclient").Msg("feed decode error")
				continue
			}

			select {
			case ch <- sess:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, cancel, nil
}

func toWebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
