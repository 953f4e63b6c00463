package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tripline/internal/config"
	"tripline/internal/domain"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const heartbeatInterval = 30 * time.Second

// Feed opens websocket subscriptions on the remote store's change channel.
// One socket per subscription; the caller owns teardown via Close.
type Feed struct {
	url    string
	apiKey string
	logger *zerolog.Logger
}

func NewFeed(cfg config.RemoteConfig, logger *zerolog.Logger) *Feed {
	return &Feed{
		url:    cfg.RealtimeURL,
		apiKey: cfg.APIKey,
		logger: logger,
	}
}

// subscribeFrame is the first message sent on a new socket.
type subscribeFrame struct {
	Type   string            `json:"type"`
	Table  string            `json:"table"`
	Filter map[string]string `json:"filter,omitempty"`
	APIKey string            `json:"apikey,omitempty"`
}

// serverFrame wraps every message pushed by the store.
type serverFrame struct {
	Type   string             `json:"type"`
	Change domain.ChangeEvent `json:"change,omitempty"`
}

type subscription struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	once   sync.Once
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.conn.Close(websocket.StatusNormalClosure, "client disconnect")
	})
	return err
}

// Subscribe dials the change feed, registers the table filter, and invokes
// onChange for every pushed notification until Close or a read failure.
func (f *Feed) Subscribe(ctx context.Context, table string, filter map[string]string, onChange domain.ChangeHandler) (domain.Subscription, error) {
	if f.url == "" {
		return nil, fmt.Errorf("realtime url is not configured")
	}

	conn, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial realtime feed: %v", ErrNetworkUnavailable, err)
	}

	frame, err := json.Marshal(subscribeFrame{
		Type:   "subscribe",
		Table:  table,
		Filter: filter,
		APIKey: f.apiKey,
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode subscribe frame")
		return nil, fmt.Errorf("encode subscribe frame: %w", err)
	}

	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe write failed")
		return nil, fmt.Errorf("%w: send subscribe frame: %v", ErrNetworkUnavailable, err)
	}

	// The read loop outlives the dial context; Close cancels it.
	runCtx, cancel := context.WithCancel(context.Background())

	sub := &subscription{conn: conn, cancel: cancel}

	go f.readLoop(runCtx, conn, table, onChange)
	go f.heartbeat(runCtx, conn)

	return sub, nil
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn, table string, onChange domain.ChangeHandler) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn().Err(err).Str("table", table).Msg("realtime read failed, subscription closed")
			}
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			f.logger.Warn().Err(err).Msg("skip malformed realtime frame")
			continue
		}

		if frame.Type != "change" {
			continue
		}
		onChange(frame.Change)
	}
}

func (f *Feed) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}
