package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Cast/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown(ctl.cfg.WriteWait)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", c.ID()).Msg("writePump ctx done")
			c.Close()
			ctl.flush(c)
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", c.ID()).Msg("writePump channel closed")
				return
			}
			if err := ctl.write(c, websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := ctl.write(c, websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("writePump ping error")
				return
			}
		}
	}
}

// flush writes frames queued before Close, such as session_closed.
func (ctl *SignalWSController) flush(c *WsSignalConn) {
	for data := range c.send {
		if err := ctl.write(c, websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (ctl *SignalWSController) write(c *WsSignalConn, kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *WsSignalConn, handle func([]byte), done func()) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", c.ID()).Msg("readPump closing")
		done()
		ctl.limiter.Forget(c.ID())
		c.Close()
	}()

	pongWait := ctl.cfg.PongWait()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", c.ID()).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			handle(data)
		}
	}
}

// reject tells the peer why it was refused and closes the channel.
func (ctl *SignalWSController) reject(c *WsSignalConn, err error) {
	log.Warn().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("channel rejected")
	ctl.sendError(c, userMessage(err))
	c.Close()
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, msg string) {
	ctl.send(c, errorEnvelope(msg))
}

func (ctl *SignalWSController) send(c *WsSignalConn, frame core.Frame) {
	if err := c.TrySend(frame); err != nil && !errors.Is(err, core.ErrConnClosed) {
		log.Warn().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("send failed, closing")
		c.Close()
	}
}
