package signaling

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// TokenVerifier validates the connection token presented at upgrade
// time and returns the user identity it proves. A nil verifier
// disables connection auth (identity is then taken from the register
// event unverified, which is only suitable for development).
type TokenVerifier interface {
	VerifyClientToken(token string) (userID string, err error)
}

// Handler upgrades HTTP requests to signaling connections and runs
// their read loops.
type Handler struct {
	router   *Router
	verifier TokenVerifier
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket endpoint handler. checkOrigin
// decides whether a browser origin may connect; nil allows same-host
// requests only (the gorilla default).
func NewHandler(router *Router, verifier TokenVerifier, checkOrigin func(r *http.Request) bool) *Handler {
	return &Handler{
		router:   router,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ServeHTTP implements the /ws endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var authUserID string
	if h.verifier != nil {
		userID, err := h.verifier.VerifyClientToken(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "invalid connection token", http.StatusUnauthorized)
			return
		}
		authUserID = userID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.router.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	client := newClient(conn, authUserID, h.router.logger)
	go client.writePump()
	h.readLoop(client)
}

// readLoop drives one connection until it closes, dispatching each
// frame to the router. Teardown is funneled through HandleDisconnect
// in every exit path.
func (h *Handler) readLoop(c *Client) {
	defer h.router.HandleDisconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.router.logger.Debug("websocket read error", "user_id", c.userID, "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.sendError(CodeBadRequest, "malformed message frame")
			continue
		}
		h.router.dispatch(c, env)
	}
}
