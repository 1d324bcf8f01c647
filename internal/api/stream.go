package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/serverdeck/serverdeck/internal/listing"
)

// ErrStreamClosed is returned when the stream is closed while listening.
var ErrStreamClosed = errors.New("stream closed")

// ServerHandler receives one server snapshot per update event. Handlers
// are invoked from the read loop and should hand off long work.
type ServerHandler func(listing.Server)

// streamEvent is the wire envelope of the live update feed.
type streamEvent struct {
	Type   string    `json:"type"`
	Server serverDTO `json:"server"`
}

const eventServerUpdate = "server_update"

// Stream consumes the live server-update feed over a websocket. Updates
// flow through the same flag-preserving upsert path as page fetches; the
// stream itself never touches local state.
type Stream struct {
	endpoint string
	header   http.Header
	handler  ServerHandler
	dialer   *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// StreamOption configures the Stream.
type StreamOption func(*Stream)

// WithStreamAPIKey sets the bearer token sent on the upgrade request.
func WithStreamAPIKey(key string) StreamOption {
	return func(s *Stream) {
		s.header.Set("Authorization", "Bearer "+key)
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(dialer *websocket.Dialer) StreamOption {
	return func(s *Stream) {
		s.dialer = dialer
	}
}

// NewStream creates a live update stream for the given ws:// endpoint.
func NewStream(endpoint string, handler ServerHandler, opts ...StreamOption) *Stream {
	s := &Stream{
		endpoint: endpoint,
		header:   make(http.Header),
		handler:  handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Listen connects and dispatches update events until the context is
// cancelled, Close is called, or the connection fails.
func (s *Stream) Listen(ctx context.Context) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.endpoint, s.header)
	if err != nil {
		if resp != nil {
			return &listing.RequestError{
				Kind:       listing.ClassifyStatus(resp.StatusCode),
				StatusCode: resp.StatusCode,
				Err:        err,
			}
		}
		return listing.Transient(err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrStreamClosed
	}
	s.conn = conn
	s.mu.Unlock()

	// Unblock the read loop when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var event streamEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrStreamClosed
			}
			return fmt.Errorf("stream read failed: %w", listing.Transient(err))
		}

		if event.Type != eventServerUpdate {
			continue
		}
		if s.handler != nil {
			s.handler(event.Server.toServer())
		}
	}
}

// Close tears down the connection and makes Listen return.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
