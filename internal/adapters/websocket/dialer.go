package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned when sending while no connection is up
var ErrNotConnected = errors.New("relay client not connected")

// DialerConfig tunes the reconnecting relay client
type DialerConfig struct {
	URL            string
	Header         http.Header
	ReconnectDelay time.Duration // first retry delay
	MaxDelay       time.Duration // retry delay cap
	MaxAttempts    int           // consecutive failed reconnects before giving up
}

// Dialer is a relay client that reconnects after transport loss and rejoins
// the conversation it was last in.
type Dialer struct {
	cfg    DialerConfig
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	lastConversation string
}

// NewDialer creates a relay client
func NewDialer(cfg DialerConfig, log zerolog.Logger) *Dialer {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Dialer{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log.With().Str("component", "relay-client").Logger(),
	}
}

func (d *Dialer) reconnectPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.ReconnectDelay
	b.MaxInterval = d.cfg.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	// The first attempt is not a retry.
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.MaxAttempts-1)), ctx)
}

func (d *Dialer) connect(ctx context.Context) error {
	conn, resp, err := d.dialer.DialContext(ctx, d.cfg.URL, d.cfg.Header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return backoff.Permanent(fmt.Errorf("relay rejected credentials: %w", err))
		}
		return err
	}

	d.mu.Lock()
	d.conn = conn
	room := d.lastConversation
	d.mu.Unlock()

	if room != "" {
		if err := d.write(EventJoinConversation, room); err != nil {
			conn.Close()
			return err
		}
		d.log.Info().Str("conversation_id", room).Msg("rejoined conversation")
	}
	return nil
}

// Run connects and delivers every received frame to handle until ctx is done
// or reconnection attempts are exhausted.
func (d *Dialer) Run(ctx context.Context, handle func(Envelope)) error {
	if err := d.connect(ctx); err != nil {
		return fmt.Errorf("connect relay: %w", err)
	}
	defer d.Close()

	go func() {
		<-ctx.Done()
		d.Close()
	}()

	for {
		d.mu.Lock()
		conn := d.conn
		d.mu.Unlock()

		err := d.readLoop(conn, handle)
		if ctx.Err() != nil {
			return nil
		}
		d.log.Warn().Err(err).Msg("relay connection lost, reconnecting")

		attempt := 0
		err = backoff.Retry(func() error {
			attempt++
			err := d.connect(ctx)
			if err != nil {
				d.log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", d.cfg.MaxAttempts).Msg("reconnect failed")
			}
			return err
		}, d.reconnectPolicy(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reconnect relay: %w", err)
		}
		d.log.Info().Int("attempt", attempt).Msg("relay reconnected")
	}
}

func (d *Dialer) readLoop(conn *websocket.Conn, handle func(Envelope)) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			d.log.Warn().Err(err).Msg("skipping malformed relay frame")
			continue
		}
		handle(env)
	}
}

func (d *Dialer) write(event string, data any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return ErrNotConnected
	}
	d.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return d.conn.WriteMessage(websocket.TextMessage, encode(event, data, nil))
}

// Join enters a conversation room; it is rejoined after every reconnect.
// Before the first connection the room is only recorded.
func (d *Dialer) Join(conversationID string) error {
	d.mu.Lock()
	d.lastConversation = conversationID
	connected := d.conn != nil
	d.mu.Unlock()
	if !connected {
		return nil
	}
	return d.write(EventJoinConversation, conversationID)
}

// Leave exits a conversation room.
func (d *Dialer) Leave(conversationID string) error {
	d.mu.Lock()
	if d.lastConversation == conversationID {
		d.lastConversation = ""
	}
	d.mu.Unlock()
	return d.write(EventLeaveConversation, conversationID)
}

// Send emits an arbitrary client event.
func (d *Dialer) Send(event string, data any) error {
	return d.write(event, data)
}

// Close closes the current connection; Run returns once ctx is done.
func (d *Dialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
	}
}
