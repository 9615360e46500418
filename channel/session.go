// Package channel maintains the realtime connection to a board and speaks
// its frame protocol. A Session owns one websocket, delivers decoded frames
// in arrival order and reports lifecycle transitions to the caller.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/jayanth920/taskfront/internal/backoff"
)

// ErrNotOpen is returned by Send when the session has no open connection.
var ErrNotOpen = errors.New("channel session is not open")

// Status describes the lifecycle of a session.
type Status int

const (
	StatusConnecting Status = iota
	StatusOpen
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

const (
	defaultPingInterval     = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 10 * time.Second

	reconnectMinDelay  = 500 * time.Millisecond
	reconnectMaxDelay  = 30 * time.Second
	reconnectFactor    = 2.0
	reconnectJitterPct = 0.1
)

// Options configures a session. OnMessage and OnStatus are invoked from the
// session's own goroutines and must not block for long; both may be nil.
type Options struct {
	// Token is sent as the token query parameter of the handshake.
	Token string

	// OnMessage receives every decoded frame, strictly in arrival order.
	OnMessage func(Message)

	// OnStatus receives every status transition, including the initial
	// StatusConnecting.
	OnStatus func(Status)

	// Reconnect keeps the session alive across unexpected disconnects by
	// redialing with capped exponential backoff. When false, the first
	// disconnect moves the session to StatusClosed for good.
	Reconnect bool

	// PingInterval sets the keepalive cadence. Zero selects the default,
	// a negative value disables pings and read deadlines.
	PingInterval time.Duration

	HandshakeTimeout time.Duration

	Logger *log.Logger
}

// Session is a live board channel. All methods are safe for concurrent use.
type Session struct {
	boardID  string
	wsURL    string
	endpoint string
	opts     Options
	logger   *log.Entry
	bo       backoff.Backoff

	mu     sync.Mutex
	conn   *websocket.Conn
	status Status
	closed bool

	done     chan struct{}
	doneOnce sync.Once
}

// Dial opens a session for one board. The handshake must succeed before Dial
// returns; Options.Reconnect applies only to disconnects after that.
func Dial(ctx context.Context, serverURL, boardID string, opts Options) (*Session, error) {
	if boardID == "" {
		return nil, errors.New("channel: board id must not be empty")
	}
	wsURL, endpoint, err := endpointURL(serverURL, boardID, opts.Token)
	if err != nil {
		return nil, err
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}

	s := &Session{
		boardID:  boardID,
		wsURL:    wsURL,
		endpoint: endpoint,
		opts:     opts,
		logger:   opts.Logger.WithField("boardId", boardID),
		status:   StatusConnecting,
		done:     make(chan struct{}),
	}
	s.bo, err = backoff.New(reconnectMinDelay, reconnectMaxDelay, reconnectFactor, reconnectJitterPct, nil)
	if err != nil {
		return nil, err
	}
	if opts.OnStatus != nil {
		opts.OnStatus(StatusConnecting)
	}

	conn, err := s.dialOnce(ctx)
	if err != nil {
		s.mu.Lock()
		s.closed = true
		s.status = StatusClosed
		s.mu.Unlock()
		if opts.OnStatus != nil {
			opts.OnStatus(StatusClosed)
		}
		return nil, err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.transition(StatusOpen)

	go s.run()
	go s.keepalive()
	return s, nil
}

// BoardID returns the board this session is scoped to.
func (s *Session) BoardID() string { return s.boardID }

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Send encodes and writes one frame. It returns ErrNotOpen unless the
// session currently holds an open connection.
func (s *Session) Send(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusOpen || s.conn == nil {
		return ErrNotOpen
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", m.Type(), err)
	}
	return nil
}

// Close releases the connection and moves the session to StatusClosed.
// It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.signalDone()
	var err error
	if conn != nil {
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		err = conn.Close()
	}
	s.transition(StatusClosed)
	return err
}

func (s *Session) run() {
	defer s.signalDone()
	for {
		s.readLoop()
		if s.isClosed() {
			return
		}
		s.dropConn()
		if !s.opts.Reconnect {
			s.transition(StatusClosed)
			return
		}
		s.transition(StatusConnecting)
		if !s.redial() {
			s.transition(StatusClosed)
			return
		}
		s.transition(StatusOpen)
	}
}

func (s *Session) readLoop() {
	conn := s.currentConn()
	if conn == nil {
		return
	}
	if s.opts.PingInterval > 0 {
		wait := s.opts.PingInterval * 2
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				s.logger.WithError(err).Debug("channel read ended")
			}
			return
		}
		msg, err := Decode(data)
		if err != nil {
			if errors.Is(err, ErrUnknownType) {
				s.logger.WithError(err).Debug("ignoring unknown frame")
			} else {
				s.logger.WithError(err).Warn("dropping malformed frame")
			}
			continue
		}
		if s.opts.OnMessage != nil {
			s.opts.OnMessage(msg)
		}
	}
}

func (s *Session) keepalive() {
	if s.opts.PingInterval <= 0 {
		return
	}
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.mu.Lock()
			conn := s.conn
			open := s.status == StatusOpen
			s.mu.Unlock()
			if !open || conn == nil {
				continue
			}
			deadline := time.Now().Add(writeWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.WithError(err).Debug("keepalive ping failed")
			}
		}
	}
}

func (s *Session) redial() bool {
	for attempt := 1; ; attempt++ {
		select {
		case <-s.done:
			return false
		case <-time.After(s.bo.Duration(attempt)):
		}
		conn, err := s.dialOnce(context.Background())
		if err != nil {
			s.logger.WithError(err).WithField("attempt", attempt).Debug("reconnect failed")
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return false
		}
		s.conn = conn
		s.mu.Unlock()
		s.logger.WithField("attempt", attempt).Info("channel reconnected")
		return true
	}
}

func (s *Session) dialOnce(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.opts.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("dial %s: %s: %w", s.endpoint, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", s.endpoint, err)
	}
	return conn, nil
}

func (s *Session) transition(st Status) {
	s.mu.Lock()
	if s.status == st || (s.closed && st != StatusClosed) {
		s.mu.Unlock()
		return
	}
	s.status = st
	cb := s.opts.OnStatus
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

func (s *Session) currentConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// endpointURL builds the websocket endpoint from an http(s) or ws(s) base
// URL. The redacted form leaves out the query string so it is safe to log.
func endpointURL(serverURL, boardID, token string) (full, redacted string, err error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u = u.JoinPath("ws")
	q := url.Values{}
	q.Set("boardId", boardID)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), u.Scheme + "://" + u.Host + u.Path, nil
}
