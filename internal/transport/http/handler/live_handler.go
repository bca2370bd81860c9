package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"opinion-poll/internal/hub"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	controlWait  = 5 * time.Second
	maxClientMsg = 4 << 10
	ssePing      = 25 * time.Second
)

// LiveHandler serves the push channels. Both are read-only for clients:
// anything a WebSocket client sends is read and discarded.
type LiveHandler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewLiveHandler(h *hub.Hub, origins []string, l *zap.Logger) *LiveHandler {
	return &LiveHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
		log: l,
	}
}

// originChecker allows every origin when the list is empty or has "*".
func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		if o == "" || len(allowed) == 0 {
			return true
		}
		_, ok := allowed[o]
		return ok
	}
}

func (h *LiveHandler) Mount(r gin.IRoutes) {
	r.GET("/ws", h.WebSocket)
	r.GET("/events", h.Events)
}

// ---- WebSocket ----

type wsConn struct {
	ws *websocket.Conn
}

// WriteMessage is only called from the hub writer goroutine.
func (c *wsConn) WriteMessage(ctx context.Context, msg []byte) error {
	if d, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(d)
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

func (c *wsConn) Close() error { return c.ws.Close() }

func (h *LiveHandler) WebSocket(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写回错误响应
		h.log.Debug("ws upgrade", zap.Error(err))
		return
	}
	sub, err := h.hub.Subscribe(&wsConn{ws: ws})
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(controlWait))
		return
	}
	defer sub.Close()

	go keepAlive(ws, sub.Done())

	ws.SetReadLimit(maxClientMsg)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Debug("ws read", zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// keepAlive pings until the subscription ends. WriteControl may run
// concurrently with the hub writer.
func keepAlive(ws *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWait)); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}

// ---- SSE ----

var errStreamClosed = errors.New("event stream closed")

type sseConn struct {
	mu     sync.Mutex
	w      gin.ResponseWriter
	rc     *http.ResponseController
	closed bool
}

func (s *sseConn) WriteMessage(ctx context.Context, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if d, ok := ctx.Deadline(); ok {
		_ = s.rc.SetWriteDeadline(d)
	}
	if err := sse.Encode(s.w, sse.Event{Data: string(msg)}); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

// ping writes an SSE comment line, ignored by EventSource clients.
func (s *sseConn) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	_ = s.rc.SetWriteDeadline(time.Now().Add(controlWait))
	if _, err := s.w.WriteString(": ping\n\n"); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func (s *sseConn) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (h *LiveHandler) Events(c *gin.Context) {
	c.Header("Content-Type", sse.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	conn := &sseConn{w: c.Writer, rc: http.NewResponseController(c.Writer)}
	sub, err := h.hub.Subscribe(conn)
	if err != nil {
		return
	}
	defer sub.Close()

	t := time.NewTicker(ssePing)
	defer t.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-sub.Done():
			return
		case <-t.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
