package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Cast/internal/app/orch"
	"github.com/dkeye/Cast/internal/config"
	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type SignalWSController struct {
	Orch    *orch.Orchestrator
	cfg     *config.Config
	limiter *RateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.SignalRate.Limit, cfg.SignalRate.Interval),
	}
}

// WsSignalConn is a core.SignalConnection over one websocket.
type WsSignalConn struct {
	id   string
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func newWsSignalConn(id string, ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		id:   id,
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) ID() string { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close stops accepting frames; writePump flushes what is queued and then
// closes the socket.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *WsSignalConn) shutdown(writeWait time.Duration) {
	c.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func connID(c *gin.Context) string {
	return c.GetString("client_token") + "/" + uuid.NewString()[:8]
}

// accept resolves the session and upgrades. Errors before the upgrade are
// answered as plain HTTP.
func (ctl *SignalWSController) accept(c *gin.Context) (domain.Session, *WsSignalConn, bool) {
	sess, err := ctl.Orch.Resolve(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
		return domain.Session{}, nil, false
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return domain.Session{}, nil, false
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)
	return sess, newWsSignalConn(connID(c), ws, ctl.cfg.SendBuffer), true
}

// HandleText serves /ws/text/:key. The channel first receives the history
// and then every new message of the session.
func (ctl *SignalWSController) HandleText(ctx context.Context, c *gin.Context) {
	sess, conn, ok := ctl.accept(c)
	if !ok {
		return
	}
	log.Info().Str("module", "signal").Str("conn", conn.ID()).Str("session", string(sess.ID)).Msg("new text channel")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	if err := ctl.Orch.AttachText(sess.ID, conn, cancel); err != nil {
		ctl.reject(conn, err)
		cancel()
		return
	}
	go ctl.readPump(ctx, conn, func(data []byte) { ctl.handleText(sess.ID, conn, data) }, func() {
		cancel()
		ctl.Orch.DetachText(sess.ID, conn)
	})
}

// HandleStream serves /ws/stream/:key/:role.
func (ctl *SignalWSController) HandleStream(ctx context.Context, c *gin.Context) {
	role, err := domain.ParseRole(c.Param("role"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "role must be broadcaster or viewer"})
		return
	}
	sess, conn, ok := ctl.accept(c)
	if !ok {
		return
	}
	log.Info().Str("module", "signal").Str("conn", conn.ID()).Str("session", string(sess.ID)).Str("role", string(role)).Msg("new stream channel")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	if err := ctl.Orch.AttachStream(sess.ID, role, conn, cancel); err != nil {
		ctl.reject(conn, err)
		cancel()
		return
	}
	go ctl.readPump(ctx, conn, func(data []byte) { ctl.handleStream(sess.ID, role, conn, data) }, func() {
		cancel()
		ctl.Orch.DetachStream(sess.ID, role, conn)
	})
}
