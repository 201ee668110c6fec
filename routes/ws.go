package routes

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/acme-studios/cf-rag-agent/internal/config"
	"github.com/acme-studios/cf-rag-agent/internal/logger"
	"github.com/acme-studios/cf-rag-agent/internal/store"
	"github.com/acme-studios/cf-rag-agent/middleware"
	"github.com/acme-studios/cf-rag-agent/models"
	"github.com/acme-studios/cf-rag-agent/services"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsMaxMessage   = 16 * 1024
)

type clientFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// wsConn serializes writes. Frames arrive from the read loop, the session
// actor's callbacks and the ping ticker, all on different goroutines.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// HandleChat upgrades to a WebSocket and runs the chat loop. A client with
// no session gets a fresh one; the ID comes back in the ready frame so the
// client can reuse it for uploads and reconnects.
func HandleChat(cfg *config.Config, st *store.Store, manager *services.SessionManager) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.CORSOrigins),
	}

	return func(c *gin.Context) {
		sessionID := middleware.GetSessionID(c)
		if sessionID == "" {
			sessionID = models.NewSessionID()
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("WebSocket upgrade failed", "error", err)
			return
		}
		ws := &wsConn{conn: conn}
		defer conn.Close()

		conn.SetReadLimit(wsMaxMessage)
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
			return nil
		})

		ctx := c.Request.Context()
		if err := st.TouchSession(ctx, sessionID); err != nil {
			logger.Warn("Failed to touch session", "session", sessionID, "error", err)
		}
		sendReady(ws, st, c, sessionID)

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(wsPingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := ws.ping(); err != nil {
						return
					}
				case <-stop:
					return
				}
			}
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn("WebSocket closed unexpectedly", "session", sessionID, "error", err)
				}
				return
			}

			var frame clientFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				ws.send(gin.H{"type": "error", "error": "Malformed frame"})
				continue
			}

			switch frame.Type {
			case "chat":
				handleChatFrame(ws, manager, sessionID, frame.Text)
			case "reset":
				handleResetFrame(ws, manager, sessionID)
			default:
				ws.send(gin.H{"type": "error", "error": "Unknown frame type: " + frame.Type})
			}
		}
	}
}

func handleChatFrame(ws *wsConn, manager *services.SessionManager, sessionID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		ws.send(gin.H{"type": "error", "error": "Empty message"})
		return
	}

	ev := services.TurnEvents{
		OnTool: func(tool, status, message string) {
			ws.send(gin.H{"type": "tool", "tool": tool, "status": status, "message": message})
		},
		OnDelta: func(delta string) error {
			return ws.send(gin.H{"type": "delta", "text": delta})
		},
	}

	err := manager.Submit(sessionID, text, ev, func(answer string, err error) {
		if err != nil {
			logger.Warn("Turn finished with error", "session", sessionID, "error", err)
		}
		ws.send(gin.H{"type": "done", "text": answer})
	})
	if err != nil {
		ws.send(gin.H{"type": "error", "error": "Could not accept message: " + err.Error()})
	}
}

func handleResetFrame(ws *wsConn, manager *services.SessionManager, sessionID string) {
	err := manager.Reset(sessionID, func(err error) {
		if err != nil {
			logger.Error("Reset failed", "session", sessionID, "error", err)
			ws.send(gin.H{"type": "error", "error": "Failed to clear conversation"})
			return
		}
		ws.send(gin.H{"type": "cleared"})
	})
	if err != nil {
		ws.send(gin.H{"type": "error", "error": "Could not accept reset: " + err.Error()})
	}
}

func sendReady(ws *wsConn, st *store.Store, c *gin.Context, sessionID string) {
	state := gin.H{"documents": 0, "messages": 0}
	if sess, err := st.GetSession(c.Request.Context(), sessionID); err == nil && sess != nil {
		state["documents"] = sess.DocumentCount
		state["messages"] = sess.MessageCount
	}
	ws.send(gin.H{"type": "ready", "sessionId": sessionID, "state": state})
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(strings.TrimSpace(o), origin) || strings.TrimSpace(o) == "*" {
				return true
			}
		}
		return false
	}
}
