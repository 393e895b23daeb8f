package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	briefingHandler "github.com/zhouzirui/briefing/backend/internal/handler/briefing"
	clientHandler "github.com/zhouzirui/briefing/backend/internal/handler/client"
	templateHandler "github.com/zhouzirui/briefing/backend/internal/handler/template"
	"github.com/zhouzirui/briefing/backend/internal/handler/watch"
	"github.com/zhouzirui/briefing/backend/internal/handler/webhook"
	middlewarePkg "github.com/zhouzirui/briefing/backend/internal/middleware"
	"github.com/zhouzirui/briefing/backend/internal/model/client"
	"github.com/zhouzirui/briefing/backend/internal/model/template"
	briefingService "github.com/zhouzirui/briefing/backend/internal/service/briefing"
	"github.com/zhouzirui/briefing/backend/internal/service/dedup"
	"github.com/zhouzirui/briefing/backend/pkg/utils"
)

// Deps 是路由需要的核心服务。Hub 为空时不注册推送路由。
type Deps struct {
	Orchestrator *briefingService.Orchestrator
	Templates    template.Provider
	Clients      client.Directory
	Gate         *dedup.Gate
	Hub          *watch.Hub
	Webhook      webhook.Config
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Meta 回调不带 /api 前缀。
	webhook.New(deps.Webhook, deps.Orchestrator, deps.Gate).RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		briefingHandler.New(deps.Orchestrator).RegisterRoutes(api)
		clientHandler.New(deps.Clients).RegisterRoutes(api)
		templateHandler.New(deps.Templates).RegisterRoutes(api)

		if deps.Hub != nil {
			watch.New(deps.Hub).RegisterRoutes(api)
		}
	})

	return r
}
