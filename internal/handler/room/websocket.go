package room

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	model "github.com/zhouzirui/z-switchboard/backend/internal/model/room"
	roomservice "github.com/zhouzirui/z-switchboard/backend/internal/service/room"
	"github.com/zhouzirui/z-switchboard/backend/pkg/utils"
)

// WebSocketHandler 把参与者连接接入房间
type WebSocketHandler struct {
	hub       *roomservice.Hub
	available func() bool
	upgrader  websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器。available 为 nil 时总是接受连接；
// allowedOrigins 为空时不校验 Origin。
func NewWebSocketHandler(hub *roomservice.Hub, available func() bool, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		available: available,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册房间路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/rooms", h.handleListRooms)
	r.Get("/rooms/{room}/ws", h.handleWebSocket)
}

func (h *WebSocketHandler) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	utils.RespondList(w, http.StatusOK, h.hub.Names())
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "room"))
	identity := strings.TrimSpace(r.URL.Query().Get("identity"))

	if name == "" {
		utils.RespondError(w, http.StatusBadRequest, "room is required")
		return
	}
	if identity == "" {
		utils.RespondError(w, http.StatusBadRequest, roomservice.ErrIdentityNeeded.Error())
		return
	}
	if h.available != nil && !h.available() {
		utils.RespondError(w, http.StatusServiceUnavailable, "conversational engine unavailable")
		return
	}
	if h.identityTaken(name, identity) {
		utils.RespondError(w, http.StatusConflict, roomservice.ErrIdentityInUse.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed room=%s: %v", name, err)
		return
	}

	p := model.Participant{
		Identity: identity,
		Kind:     model.ParseKind(r.URL.Query().Get("kind")),
	}
	if err := h.hub.Serve(r.Context(), name, p, conn); err != nil && !errors.Is(err, roomservice.ErrRoomClosed) {
		log.Printf("[ws] %s could not join room=%s: %v", identity, name, err)
	}
}

func (h *WebSocketHandler) identityTaken(name, identity string) bool {
	rm, ok := h.hub.Get(name)
	if !ok {
		return false
	}
	for _, p := range rm.Participants() {
		if p.Identity == identity {
			return true
		}
	}
	return false
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimSpace(origin)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
