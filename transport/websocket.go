package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsReadBuffer  = 4096
	wsWriteBuffer = 4096
)

var wsBufferPool = new(sync.Pool)

// WebSocketLink is a Link over a gorilla/websocket connection.
type WebSocketLink struct {
	conn    *websocket.Conn
	opts    Options
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func newWebSocketLink(conn *websocket.Conn, opts Options) *WebSocketLink {
	l := &WebSocketLink{
		conn: conn,
		opts: opts,
		done: make(chan struct{}),
	}

	conn.SetReadLimit(opts.ReadLimit)
	if opts.PingInterval > 0 {
		conn.SetReadDeadline(time.Now().Add(opts.PingInterval + opts.PongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(opts.PingInterval + opts.PongTimeout))
		})
		go l.pingLoop()
	}
	return l
}

// Read returns the next text or binary message.
func (l *WebSocketLink) Read() ([]byte, error) {
	_, data, err := l.conn.ReadMessage()
	if err != nil {
		select {
		case <-l.done:
			return nil, ErrClosed
		default:
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return data, nil
}

// Write sends data as one text message.
func (l *WebSocketLink) Write(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	if l.opts.WriteTimeout > 0 {
		if err := l.conn.SetWriteDeadline(time.Now().Add(l.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and tears the connection down.
func (l *WebSocketLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)

		l.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		l.writeMu.Unlock()

		err = l.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer's network address.
func (l *WebSocketLink) RemoteAddr() string {
	return l.conn.RemoteAddr().String()
}

func (l *WebSocketLink) pingLoop() {
	ticker := time.NewTicker(l.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.writeMu.Lock()
			err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(l.opts.WriteTimeout))
			l.writeMu.Unlock()
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "pingLoop",
					"remote":   l.RemoteAddr(),
					"error":    err.Error(),
				}).Debug("Ping failed, closing link")
				l.Close()
				return
			}
		}
	}
}

// Upgrader accepts WebSocket links from HTTP requests.
type Upgrader struct {
	upgrader websocket.Upgrader
	opts     Options
}

// NewUpgrader creates an upgrader. allowedOrigins lists accepted Origin
// header values; "*" accepts any. Requests without an Origin header are
// always accepted since only browsers send one.
func NewUpgrader(opts Options, allowedOrigins []string) *Upgrader {
	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsReadBuffer,
			WriteBufferSize: wsWriteBuffer,
			WriteBufferPool: wsBufferPool,
			CheckOrigin:     originValidator(allowedOrigins),
		},
		opts: opts,
	}
}

// Accept upgrades the request. On failure the upgrader has already written
// an HTTP error response.
func (u *Upgrader) Accept(w http.ResponseWriter, r *http.Request) (*WebSocketLink, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWebSocketLink(conn, u.opts), nil
}

// Dial connects to a station at url.
func Dial(ctx context.Context, url string, opts Options) (*WebSocketLink, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   wsReadBuffer,
		WriteBufferSize:  wsWriteBuffer,
		WriteBufferPool:  wsBufferPool,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (HTTP status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return newWebSocketLink(conn, opts), nil
}

func originValidator(allowedOrigins []string) func(*http.Request) bool {
	allowAll := false
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		if origin != "" {
			origins[strings.ToLower(origin)] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		if _, ok := r.Header["Origin"]; !ok || allowAll {
			return true
		}
		origin := strings.ToLower(r.Header.Get("Origin"))
		if _, ok := origins[origin]; ok {
			return true
		}
		logrus.WithFields(logrus.Fields{
			"function": "originValidator",
			"origin":   origin,
		}).Warn("Rejected WebSocket connection")
		return false
	}
}
