package websocket

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const maxMessageSize = 4096

// WebSocketHandler upgrades /ws requests and runs the per-connection pumps.
type WebSocketHandler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewWebSocketHandler accepts any origin when allowedOrigins is empty or
// contains "*".
func NewWebSocketHandler(hub *Hub, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

func (wsh *WebSocketHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", wsh.HandleConnect)
}

func (wsh *WebSocketHandler) HandleConnect(c echo.Context) error {
	if !gorillawebsocket.IsWebSocketUpgrade(c.Request()) {
		return echo.NewHTTPError(http.StatusBadRequest, "websocket upgrade required")
	}
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response.
		return nil
	}
	ws.SetReadLimit(maxMessageSize)

	client := wsh.hub.Register(uuid.NewString(), ws)
	if client == nil {
		return nil
	}

	go wsh.writePump(client)
	go wsh.readPump(client)
	return nil
}

// readPump handles subscribe requests until the connection fails. Anything
// that is not a well-formed subscribe is ignored.
func (wsh *WebSocketHandler) readPump(client *Client) {
	defer func() {
		wsh.hub.Unregister(client)
		client.conn.Close()
	}()

	client.conn.SetPongHandler(func(string) error {
		client.alive.Store(true)
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		client.alive.Store(true)

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		vn := strings.TrimSpace(msg.VisitNumber)
		if msg.Type != TypeSubscribe || vn == "" || len(vn) > maxVisitSize {
			continue
		}
		if err := wsh.hub.Subscribe(client, vn); err != nil {
			wsh.hub.logger.Warn().Err(err).Str("client_id", client.ID).Msg("subscribe failed")
		}
	}
}

// writePump drains Send. A write error closes the connection, which ends
// readPump and unregisters the client.
func (wsh *WebSocketHandler) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
