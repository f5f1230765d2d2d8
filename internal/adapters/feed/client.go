package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
	"github.com/nimbuspos/dispatchboard/internal/core/ports"
	"github.com/nimbuspos/dispatchboard/internal/pkg/metrics"
)

// Options configures one feed client. The reconnect delay is a fixed value,
// not a backoff; the attempt ceiling is what bounds a dead upstream.
type Options struct {
	URL                  string
	HandshakeTimeout     time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// Client supervises one streaming subscription: dial, handshake, subscribe,
// read, and recover from transport failures without caller intervention.
// It implements ports.FeedClient.
//
// Connect while already connected tears the previous connection down first.
// After Disconnect returns, neither callback fires again: callbacks run under
// dispatchMu and are gated on a generation counter, so teardown both bumps
// the generation and waits out any dispatch already in flight.
type Client struct {
	opts    Options
	dialer  Dialer
	session ports.SessionProvider
	log     *slog.Logger

	mu         sync.Mutex // guards status, generation, cancel
	dispatchMu sync.Mutex // held while invoking callbacks
	status     domain.FeedStatus
	generation uint64
	cancel     context.CancelFunc
}

// NewClient builds a feed client. A nil dialer gets the production
// WebSocket dialer.
func NewClient(opts Options, dialer Dialer, session ports.SessionProvider, log *slog.Logger) *Client {
	if dialer == nil {
		dialer = WebSocketDialer{HandshakeTimeout: opts.HandshakeTimeout}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		opts:    opts,
		dialer:  dialer,
		session: session,
		log:     log,
		status:  domain.FeedStatus{State: domain.ConnDisconnected},
	}
}

// Connect opens the subscription for topic. Idempotent: an existing
// connection is torn down first.
func (c *Client) Connect(ctx context.Context, topic string, onMessage func(topic string, payload []byte), onState func(domain.FeedStatus)) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	gen := c.generation
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.status = domain.FeedStatus{State: domain.ConnConnecting, Topic: topic}
	st := c.status
	c.mu.Unlock()

	c.emit(gen, onState, st)
	go c.run(runCtx, gen, topic, onMessage, onState)
}

// Disconnect closes the session, cancels any pending reconnect timer, and
// leaves the client DISCONNECTED. Safe to call repeatedly and before any
// Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.status = domain.FeedStatus{State: domain.ConnDisconnected}
	c.mu.Unlock()

	// Barrier: an in-flight callback finishes before Disconnect returns;
	// anything later sees the stale generation and is dropped.
	c.dispatchMu.Lock()
	c.dispatchMu.Unlock() //nolint:staticcheck // empty section is the barrier
}

// Status returns a copy of the connection state.
func (c *Client) Status() domain.FeedStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) run(ctx context.Context, gen uint64, topic string, onMessage func(string, []byte), onState func(domain.FeedStatus)) {
	attempts := 0
	for {
		metrics.FeedConnectAttempts.WithLabelValues(topic).Inc()

		sess, err := c.handshake(ctx, topic)
		if err == nil {
			attempts = 0
			st, live := c.transition(gen, func(s *domain.FeedStatus) {
				s.State = domain.ConnConnected
				s.LastError = ""
				s.ReconnectAttempts = 0
				s.Terminal = false
			})
			if !live {
				sess.Close()
				return
			}
			c.emit(gen, onState, st)
			c.log.Info("feed connected", "topic", topic)

			err = c.readLoop(ctx, gen, topic, sess, onMessage)
			sess.Close()
		}

		if ctx.Err() != nil {
			return
		}

		attempts++
		terminal := attempts >= c.opts.MaxReconnectAttempts
		st, live := c.transition(gen, func(s *domain.FeedStatus) {
			s.State = domain.ConnFailed
			s.LastError = err.Error()
			s.ReconnectAttempts = attempts
			s.Terminal = terminal
		})
		if !live {
			return
		}
		c.emit(gen, onState, st)

		if terminal {
			c.log.Error("feed reconnect attempts exhausted", "topic", topic, "attempts", attempts, "error", err)
			return
		}

		st, live = c.transition(gen, func(s *domain.FeedStatus) {
			s.State = domain.ConnReconnecting
		})
		if !live {
			return
		}
		c.emit(gen, onState, st)
		c.log.Warn("feed retrying", "topic", topic, "attempt", attempts, "delay", c.opts.ReconnectDelay, "error", err)

		select {
		case <-time.After(c.opts.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// handshake dials, negotiates a session, and subscribes to topic. The whole
// exchange must finish within HandshakeTimeout.
func (c *Client) handshake(ctx context.Context, topic string) (Session, error) {
	ident, err := c.session.Identity()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	sess, err := c.dialer.Dial(dialCtx, c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	_ = sess.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))

	if err := sess.WriteJSON(Frame{Type: FrameConnect, Token: ident.Token, Client: ident.ClientID}); err != nil {
		sess.Close()
		return nil, fmt.Errorf("connect frame: %w", err)
	}

	for {
		data, err := sess.ReadMessage()
		if err != nil {
			sess.Close()
			return nil, fmt.Errorf("handshake read: %w", err)
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Type == FrameConnected {
			break
		}
		if f.Type == FrameError {
			sess.Close()
			return nil, fmt.Errorf("handshake rejected: %s", f.Error)
		}
	}

	if err := sess.WriteJSON(Frame{Type: FrameSubscribe, Topic: topic}); err != nil {
		sess.Close()
		return nil, fmt.Errorf("subscribe frame: %w", err)
	}

	_ = sess.SetReadDeadline(time.Now().Add(pongWait))
	return sess, nil
}

// readLoop delivers message frames in transport order. A malformed frame is
// logged and dropped; it never ends the subscription.
func (c *Client) readLoop(ctx context.Context, gen uint64, topic string, sess Session, onMessage func(string, []byte)) error {
	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()

	for {
		data, err := sess.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream read: %w", err)
		}
		_ = sess.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			metrics.FeedParseErrors.WithLabelValues(topic).Inc()
			c.log.Warn("dropping unparseable frame", "topic", topic, "error", err)
			continue
		}

		switch f.Type {
		case FrameMessage:
			t := f.Topic
			if t == "" {
				t = topic
			}
			metrics.FeedMessages.WithLabelValues(t).Inc()
			c.dispatch(gen, func() { onMessage(t, f.Payload) })
		case FrameError:
			c.log.Warn("stream error frame", "topic", topic, "error", f.Error)
		default:
			// subscribed acks and keepalives carry no data
		}
	}
}

// transition mutates the status if gen is still current.
func (c *Client) transition(gen uint64, mut func(*domain.FeedStatus)) (domain.FeedStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return domain.FeedStatus{}, false
	}
	mut(&c.status)
	return c.status, true
}

func (c *Client) emit(gen uint64, onState func(domain.FeedStatus), st domain.FeedStatus) {
	if onState == nil {
		return
	}
	c.dispatch(gen, func() { onState(st) })
}

func (c *Client) dispatch(gen uint64, f func()) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	live := gen == c.generation
	c.mu.Unlock()
	if live {
		f()
	}
}
