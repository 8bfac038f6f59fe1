package ws

import (
	"net/http"
	"strings"
	"time"

	"MTBridge/internal/usecase"
	applogger "MTBridge/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Options tune the websocket endpoint.
type Options struct {
	Path            string
	SendBuffer      int
	WriteWait       time.Duration
	PongWait        time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	AllowedOrigins  []string
}

func (o *Options) normalize() {
	if o.Path == "" {
		o.Path = "/ws"
	}
	if o.SendBuffer < 1 {
		o.SendBuffer = 16
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 2 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
}

// StreamHandler upgrades clients to websocket sessions driven by the scheduler.
type StreamHandler struct {
	scheduler *usecase.StreamScheduler
	opts      Options
	upgrader  websocket.Upgrader
	l         *applogger.Logger
}

func NewStreamHandler(scheduler *usecase.StreamScheduler, opts Options, l *applogger.Logger) *StreamHandler {
	opts.normalize()
	if l == nil {
		l = applogger.NewNop()
	}
	h := &StreamHandler{scheduler: scheduler, opts: opts, l: l}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func (h *StreamHandler) RegisterRoutes(e *echo.Echo) {
	e.GET(h.opts.Path, h.Stream)
}

// Stream serves one client for the lifetime of its connection.
func (h *StreamHandler) Stream(c echo.Context) error {
	wsConn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.l.Warn("websocket upgrade failed", applogger.Error(err), applogger.String("remote", c.RealIP()))
		return nil
	}

	cn := newConn(wsConn, h.opts, h.l)
	sess := h.scheduler.Connect(cn)
	go cn.writePump()

	cn.readPump(h.opts.MaxMessageSize, func(msg []byte) {
		h.scheduler.OnMessage(sess, msg)
	})
	h.scheduler.OnDisconnect(sess.ID())
	return nil
}

// originChecker allows every origin when the list is empty or contains "*".
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
