package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/chatlink/internal/core"
	"github.com/gorilla/websocket"
)

func (s *socket) writePump(ctx context.Context, c *WsSignalConn) {
	var heartbeat <-chan time.Time
	if s.cfg.Heartbeat > 0 && s.heartbeat != nil {
		ticker := time.NewTicker(s.cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				close(c.drained)
				return
			}
			if err := s.write(c, data); err != nil {
				s.logger.Error().Err(err).Msg("writePump write error")
				c.Close()
				return
			}
		case <-heartbeat:
			if err := s.write(c, s.heartbeat); err != nil {
				s.logger.Error().Err(err).Msg("writePump heartbeat error")
				c.Close()
				return
			}
		}
	}
}

func (s *socket) write(c *WsSignalConn, data core.Frame) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump blocks until the connection ends and returns its close code, 0 if none.
func (s *socket) readPump(c *WsSignalConn) (int, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code, err
			}
			return 0, err
		}
		s.dispatch(data)
	}
}

func (s *socket) dispatch(data []byte) {
	env, err := core.DecodeEnvelope(data)
	if err != nil {
		s.logger.Debug().Err(err).Int("size", len(data)).Msg("dropped malformed envelope")
		return
	}
	if s.onEnvelope != nil {
		s.onEnvelope(env)
	}
}
