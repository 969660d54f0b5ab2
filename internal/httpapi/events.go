package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/confluxhq/conflux/internal/bus"
	"github.com/labstack/echo/v4"
)

const eventBufferSize = 64
const eventWriteTimeout = 5 * time.Second

// HandleEvents upgrades the request to a WebSocket and streams one JSON
// operation per message. The bus delivers a ping first, so clients can
// confirm the stream is live before any real event arrives.
func (h *Handlers) HandleEvents(c echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// The bus calls listeners on the emitting goroutine; hand operations
	// off to a buffered channel so slow clients never stall a sync pass.
	events := make(chan bus.Operation, eventBufferSize)
	sub := h.Bus.Subscribe(func(op bus.Operation) {
		select {
		case events <- op:
		default:
			slog.Warn("event stream buffer full, dropping operation")
		}
	})
	defer sub.Unsubscribe()

	// Drain client frames to observe disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case op := <-events:
			data, err := json.Marshal(op)
			if err != nil {
				continue
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, eventWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			writeCancel()
			if err != nil {
				return nil
			}
		}
	}
}
