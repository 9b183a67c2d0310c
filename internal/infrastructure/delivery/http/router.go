package httprouter

import (
	"log/slog"
	"net/http"
	"slices"

	"nagare/internal/config"
	"nagare/internal/consts"
	"nagare/internal/infrastructure/delivery/http/middleware"
	"nagare/internal/observability"
	"nagare/internal/service"
)

type Router struct {
	*http.ServeMux
	log         *slog.Logger
	cfg         config.HTTP
	globalChain []func(http.Handler) http.Handler
	routeChain  []func(http.Handler) http.Handler
	isSubRouter bool
	svc         service.Service
	metrics     *observability.Metrics
}

func New(log *slog.Logger, cfg config.HTTP, svc service.Service, metrics *observability.Metrics) *Router {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = consts.DefaultHandlerTimeout
	}

	r := &Router{
		ServeMux: http.NewServeMux(),
		log:      log.With(slog.String("package", "httprouter")),
		cfg:      cfg,
		svc:      svc,
		metrics:  metrics,
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	return r
}

func (r *Router) Use(middleware ...func(http.Handler) http.Handler) {
	if r.isSubRouter {
		r.routeChain = append(r.routeChain, middleware...)
	} else {
		r.globalChain = append(r.globalChain, middleware...)
	}
}

// Group registers routes sharing extra middleware on the same mux.
func (r *Router) Group(fn func(r *Router)) {
	subRouter := &Router{
		isSubRouter: true,
		routeChain:  slices.Clone(r.routeChain),
		ServeMux:    r.ServeMux,
		log:         r.log,
		cfg:         r.cfg,
		svc:         r.svc,
		metrics:     r.metrics,
	}

	fn(subRouter)
}

func (r *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	r.Handle(pattern, h)
}

func (r *Router) Handle(pattern string, h http.Handler) {
	for _, middleware := range slices.Backward(r.routeChain) {
		h = middleware(h)
	}
	r.ServeMux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var h http.Handler = r.ServeMux

	for _, middleware := range slices.Backward(r.globalChain) {
		h = middleware(h)
	}

	h.ServeHTTP(w, req)
}

func (r *Router) SetGlobalMiddlewares() {
	r.Use(
		middleware.Recoverer,
		middleware.RequestID,
		middleware.Logger,
		middleware.Metrics(r.metrics),
	)
}

func (r *Router) SetRoutes() {
	r.SetRoutesHealthcheck()
	r.SetRoutesItems()
	r.SetRoutesSettings()
	r.SetRoutesPrompts()
	r.SetRoutesURLs()
}

func (r *Router) SetRoutesHealthcheck() {
	r.HandleFunc("GET /v1/readyz", r.Readyz)
	r.Handle("GET /metrics", r.metrics.Handler())
}

func (r *Router) SetRoutesItems() {
	r.Group(func(g *Router) {
		g.Use(middleware.Timeout(g.cfg.HandlerTimeout))

		g.HandleFunc("POST /v1/items", g.Submit)
		g.HandleFunc("GET /v1/items", g.ListItems)
		g.HandleFunc("DELETE /v1/items", g.ClearItems)
		g.HandleFunc("GET /v1/items/export", g.ExportItems)
		g.HandleFunc("POST /v1/items/import", g.ImportItems)
		g.HandleFunc("GET /v1/items/{id}", g.GetItem)
		g.HandleFunc("DELETE /v1/items/{id}", g.RemoveItem)
		g.HandleFunc("POST /v1/items/{id}/{intent}", g.ItemIntent)
	})
}

func (r *Router) SetRoutesSettings() {
	r.Group(func(g *Router) {
		g.Use(middleware.Timeout(g.cfg.HandlerTimeout))

		g.HandleFunc("GET /v1/settings", g.GetSettings)
		g.HandleFunc("PUT /v1/settings", g.UpdateSettings)
	})
}

func (r *Router) SetRoutesPrompts() {
	r.HandleFunc("GET /v1/prompts/current", r.CurrentPrompt)

	// no timeout: the answer waits until the admission it unblocks is applied
	r.HandleFunc("POST /v1/prompts/{id}", r.DecidePrompt)
}

func (r *Router) SetRoutesURLs() {
	r.HandleFunc("POST /v1/urls/extract", r.ExtractURLs)
}
