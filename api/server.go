/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request log (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend
  5. Identity:   X-Actor-ID / X-Actor-Role into the request context

ROUTE GROUPS:
  /api/rooms/*      Rooms, maintenance, co-occupants
  /api/tenants/*    Tenants, assign, vacate
  /api/billing/*    Monthly bills, payments, export
  /api/pricing/*    Room price sync
  /api/settings/*   System rates
  /api/audit        Occupancy consistency report
  /api/scenarios/*  Demo data
  /healthz          Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/dorm-engine/dorm"
	"go.uber.org/zap"
)

// Identity headers set by the upstream auth proxy.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// RouterOptions tune NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole},
		AllowCredentials: true,
	}))
	r.Use(identity)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", h.ListRooms)
			r.Post("/", h.CreateRoom)
			r.Get("/available", h.AvailableRooms)
			r.Get("/{id}", h.GetRoom)
			r.Post("/{id}/maintenance", h.SetMaintenance)
			r.Post("/{id}/co-occupants", h.AddCoOccupant)
		})

		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", h.ListTenants)
			r.Post("/", h.CreateTenant)
			r.Get("/{id}", h.GetTenant)
			r.Post("/{id}/assign", h.AssignTenant)
			r.Post("/{id}/vacate", h.VacateTenant)
			r.Post("/{id}/co-occupants/remove", h.RemoveCoOccupants)
		})

		r.Route("/billing", func(r chi.Router) {
			r.Get("/", h.ListBills)
			r.Post("/generate", h.GenerateBills)
			r.Post("/overdue", h.MarkOverdue)
			r.Get("/export", h.ExportBills)
			r.Get("/{id}", h.GetBill)
			r.Post("/{id}/pay", h.PayBill)
		})

		r.Route("/repairs", func(r chi.Router) {
			r.Get("/", h.ListRepairs)
			r.Post("/", h.FileRepair)
			r.Get("/{id}", h.GetRepair)
			r.Put("/{id}", h.EditRepair)
			r.Post("/{id}/status", h.SetRepairStatus)
		})

		r.Route("/pricing", func(r chi.Router) {
			r.Get("/sync", h.CheckPriceSync)
			r.Post("/sync", h.SyncPrices)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.GetSettings)
			r.Put("/", h.SaveSettings)
			r.Get("/validate", h.ValidateSettings)
		})

		r.Get("/audit", h.Audit)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type actorKey struct{}

// WithActor stores a in ctx.
func WithActor(ctx context.Context, a dorm.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored by the identity middleware.
func ActorFrom(ctx context.Context) (dorm.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(dorm.Actor)
	return a, ok
}

// identity reads the proxy headers. Requests without a valid pair carry no
// actor and are refused by mutating handlers.
func identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderActorID)
		role, err := dorm.ParseRole(r.Header.Get(HeaderActorRole))
		if id != "" && err == nil {
			r = r.WithContext(WithActor(r.Context(), dorm.Actor{ID: id, Role: role}))
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
