package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"execution-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// websocket streams price ticks and whale trades. Only lossy topics are
// offered so a slow client can never hold up order events.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	ticks, unsubTicks := s.Bus.Subscribe(events.EventPriceTick, 100)
	defer unsubTicks()
	whales, unsubWhales := s.Bus.Subscribe(events.EventWhaleTrade, 100)
	defer unsubWhales()

	// The read side only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		var frame wsFrame
		select {
		case <-closed:
			return
		case msg, ok := <-ticks:
			if !ok {
				return
			}
			frame = wsFrame{Type: string(events.EventPriceTick), Data: msg}
		case msg, ok := <-whales:
			if !ok {
				return
			}
			frame = wsFrame{Type: string(events.EventWhaleTrade), Data: msg}
		}
		if err := conn.WriteJSON(frame); err != nil {
			s.log.Debug("ws write failed", zap.Error(err))
			return
		}
	}
}
