package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zhouzirui/z-switchboard/backend/internal/handler/chat"
	"github.com/zhouzirui/z-switchboard/backend/internal/handler/persona"
	"github.com/zhouzirui/z-switchboard/backend/internal/handler/room"
	personaModel "github.com/zhouzirui/z-switchboard/backend/internal/model/persona"
	roomService "github.com/zhouzirui/z-switchboard/backend/internal/service/room"
	"github.com/zhouzirui/z-switchboard/backend/pkg/utils"
)

// Deps collects what the HTTP surface needs.
type Deps struct {
	Personas       personaModel.Store
	Sessions       chat.Sessions
	Facts          chat.Facts // nil when the fact store is disabled
	Hub            *roomService.Hub
	Available      func() bool
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions(deps.AllowedOrigins)))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := "ok"
		if deps.Available != nil && !deps.Available() {
			status = "degraded"
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": status})
	})

	personaHandler := persona.New(deps.Personas)
	chatHandler := chat.New(deps.Sessions, deps.Facts)
	roomHandler := room.NewWebSocketHandler(deps.Hub, deps.Available, deps.AllowedOrigins)

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		roomHandler.RegisterRoutes(api)
	})

	return r
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}
}
