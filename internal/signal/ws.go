package signal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PairPath is the HTTP path the pairing websocket is served on.
const PairPath = "/pair"

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsMaxMessage   = 1 << 20
)

var (
	_ Adapter = (*WSConn)(nil)
	_ Adapter = (*WSServer)(nil)
)

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The endpoint is reached by a CLI peer, never by a browser page.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WSConn is one side of a pairing websocket.
type WSConn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu  sync.Mutex
	incoming chan string
	done     chan struct{}
	readErr  error
	once     sync.Once
}

// DialWS connects to a pairing endpoint served by ListenWS.
func DialWS(ctx context.Context, wsURL string, logger *slog.Logger) (*WSConn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}
	return newWSConn(conn, logger), nil
}

func newWSConn(conn *websocket.Conn, logger *slog.Logger) *WSConn {
	c := &WSConn{
		conn:     conn,
		logger:   logger,
		incoming: make(chan string, 4),
		done:     make(chan struct{}),
	}
	conn.SetReadLimit(wsMaxMessage)
	go c.readLoop()
	go c.pingLoop()
	return c
}

func (c *WSConn) readLoop() {
	defer close(c.incoming)
	c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			c.readErr = err
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		select {
		case c.incoming <- string(message):
		case <-c.done:
			return
		}
	}
}

func (c *WSConn) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Send writes code as one text message.
func (c *WSConn) Send(ctx context.Context, code string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(code)); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Receive waits for the next text message.
func (c *WSConn) Receive(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", ErrClosed
	case msg, ok := <-c.incoming:
		if !ok {
			if c.readErr != nil {
				return "", fmt.Errorf("websocket read: %w", c.readErr)
			}
			return "", ErrClosed
		}
		return msg, nil
	}
}

// Close sends a close frame and closes the socket.
func (c *WSConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// WSServer serves the pairing endpoint for exactly one peer.
type WSServer struct {
	ln     net.Listener
	srv    *http.Server
	logger *slog.Logger

	accepted chan *WSConn
	done     chan struct{}

	mu     sync.Mutex
	peer   *WSConn
	closed bool
	once   sync.Once
}

// ListenWS starts serving the pairing endpoint on addr ("host:port", port 0
// picks a free one).
func ListenWS(addr string, logger *slog.Logger) (*WSServer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	s := &WSServer{
		ln:       ln,
		logger:   logger,
		accepted: make(chan *WSConn, 1),
		done:     make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(PairPath, s.handlePair)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("pairing server stopped", "error", err)
		}
	}()
	logger.Info("pairing endpoint listening", "url", s.URL())
	return s, nil
}

func (s *WSServer) handlePair(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	busy := s.peer != nil || s.closed
	s.mu.Unlock()
	if busy {
		http.Error(w, "peer already paired", http.StatusConflict)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.mu.Lock()
	if s.peer != nil || s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	c := newWSConn(conn, s.logger)
	s.peer = c
	s.mu.Unlock()

	s.logger.Info("pairing peer connected", "remote", r.RemoteAddr)
	s.accepted <- c
}

// Addr returns the listening address.
func (s *WSServer) Addr() net.Addr { return s.ln.Addr() }

// Port returns the listening TCP port.
func (s *WSServer) Port() int {
	if tcp, ok := s.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// URL returns the ws:// URL of the pairing endpoint.
func (s *WSServer) URL() string {
	return "ws://" + s.ln.Addr().String() + PairPath
}

// Accept waits for the peer to connect.
func (s *WSServer) Accept(ctx context.Context) (*WSConn, error) {
	s.mu.Lock()
	if s.peer != nil {
		peer := s.peer
		s.mu.Unlock()
		return peer, nil
	}
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	case c := <-s.accepted:
		return c, nil
	}
}

func (s *WSServer) Send(ctx context.Context, code string) error {
	c, err := s.Accept(ctx)
	if err != nil {
		return err
	}
	return c.Send(ctx, code)
}

func (s *WSServer) Receive(ctx context.Context) (string, error) {
	c, err := s.Accept(ctx)
	if err != nil {
		return "", err
	}
	return c.Receive(ctx)
}

// Close stops the server and closes the paired connection.
func (s *WSServer) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		peer := s.peer
		s.mu.Unlock()
		if peer != nil {
			_ = peer.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err = s.srv.Shutdown(ctx)
	})
	return err
}
