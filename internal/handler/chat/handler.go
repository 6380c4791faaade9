package chat

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-switchboard/backend/internal/model/chat"
	"github.com/zhouzirui/z-switchboard/backend/internal/service/session"
	"github.com/zhouzirui/z-switchboard/backend/pkg/utils"
)

// Sessions 是会话注册表的只读视图
type Sessions interface {
	List() []chat.Info
	Info(id string) (chat.Info, error)
	Transcript(id string) ([]chat.Utterance, error)
}

// Facts 是事实存储的只读视图
type Facts interface {
	All() map[string]string
}

// Handler 会话与事实查询的HTTP处理器
type Handler struct {
	sessions Sessions
	facts    Facts
	interval time.Duration
}

// New 创建处理器；facts 为 nil 表示事实存储未开启
func New(sessions Sessions, facts Facts) *Handler {
	return &Handler{
		sessions: sessions,
		facts:    facts,
		interval: 5 * time.Second,
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/stream", h.handleSessionStream)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Get("/sessions/{sessionID}/transcript", h.handleTranscript)
	r.Get("/facts", h.handleListFacts)
}

// handleListSessions 列出在线会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondList(w, http.StatusOK, h.sessions.List())
}

// handleSessionStream 以 SSE 定时推送在线会话列表
func (h *Handler) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)

	ctx := r.Context()
	log.Printf("[sse] opening session stream")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	utils.SendSSEEvent(w, flusher, "sessions", h.sessions.List())

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing session stream")
			return
		case <-ticker.C:
			utils.SendSSEEvent(w, flusher, "sessions", h.sessions.List())
		}
	}
}

// handleGetSession 查询单个会话
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.sessions.Info(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondLookupError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, info)
}

// handleTranscript 返回会话到目前为止的转录
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	utterances, err := h.sessions.Transcript(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondLookupError(w, err)
		return
	}
	utils.RespondList(w, http.StatusOK, utterances)
}

// handleListFacts 返回已记住的事实
func (h *Handler) handleListFacts(w http.ResponseWriter, r *http.Request) {
	if h.facts == nil {
		utils.RespondError(w, http.StatusNotFound, "fact store disabled")
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.facts.All())
}

func respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, err.Error())
}
