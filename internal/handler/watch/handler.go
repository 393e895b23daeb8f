package watch

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/briefing/backend/pkg/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Handler 通过 WebSocket 或 SSE 推送会话状态迁移
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// New 创建推送处理器
func New(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册推送路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/briefings", h.handleWebSocket)
	r.Get("/briefings/{sessionID}/events", h.handleSSE)
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// handleWebSocket 订阅全部会话，或通过 ?sessionId= 订阅单个会话
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[watch] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancelSub := h.hub.Subscribe(sessionID)
	defer cancelSub()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log.Printf("[watch] websocket subscriber connected, session=%q", sessionID)

	// 只读控制帧；客户端关闭连接时结束推送。
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[watch] read error: %v", err)
				}
				return
			}
		}
	}()

	if err := h.write(conn, outgoingMessage{Type: "connected", SessionID: sessionID}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-events:
			if !ok {
				return
			}
			if err := h.write(conn, outgoingMessage{Type: "transition", SessionID: t.SessionID, Data: t}); err != nil {
				log.Printf("[watch] write failed: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, msg outgoingMessage) error {
	msg.Timestamp = time.Now().Unix()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// handleSSE 以 Server-Sent Events 推送单个会话的迁移
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	events, cancelSub := h.hub.Subscribe(sessionID)
	defer cancelSub()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEEvent(w, flusher, "status", map[string]string{"sessionId": sessionID, "message": "stream established"}); err != nil {
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "transition", t); err != nil {
				return
			}
		case now := <-ticker.C:
			if err := utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{"time": now.UTC().Format(time.RFC3339)}); err != nil {
				return
			}
		}
	}
}
