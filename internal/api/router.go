package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/oohmap/internal/metrics"
)

// Prefix is where the API router is mounted.
const Prefix = "/api"

// Deps are the collaborators of the API router.
type Deps struct {
	Maps     MapService
	Layers   LayerService
	Geocoder Geocoder
	Wizard   Ingester

	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
	// Progress receives geocoding progress of requests that name a project.
	Progress func(projectID string, done, total int)
	Metrics  *metrics.Metrics

	AuthEnabled   bool
	AuthToken     string
	AllowedOrigin string
}

// NewRouter creates a chi router with all API routes mounted. Unknown
// paths get a 404 listing the known routes.
func NewRouter(d Deps) chi.Router {
	h := NewHandler(d.Maps, d.Layers, d.Geocoder, d.Wizard)
	h.progress = d.Progress

	r := chi.NewRouter()
	r.Use(MetricsMiddleware(d.Metrics))
	r.Use(CORSMiddleware(d.AllowedOrigin))
	r.Use(AuthMiddleware(d.AuthEnabled, d.AuthToken))

	// Map points.
	r.Get("/map-data", h.MapData)
	r.Get("/table-data", h.TableData)

	// Layers.
	r.Get("/layer-list", h.LayerList)
	r.Post("/layer-upload", h.LayerUpload)
	r.Post("/layer-manage", h.LayerManage)
	r.Get("/kml-data", h.KMLData)

	// Geocoding and file import.
	r.Post("/geocode", h.Geocode)
	r.Post("/upload", h.Upload)

	if d.Events != nil {
		r.Get("/events", d.Events.ServeHTTP)
	}

	r.NotFound(NotFound(r))

	return r
}

// NotFound answers 404 with the routes of r. The root router uses it too,
// so paths outside the prefix get the same body.
func NotFound(r chi.Routes) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, notFoundResponse{
			Error:     "route not found",
			Available: Routes(r),
		})
	}
}

// Routes lists the routes of r as "METHOD /api/path", sorted.
func Routes(r chi.Routes) []string {
	var out []string
	_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		out = append(out, method+" "+Prefix+strings.TrimSuffix(route, "/*"))
		return nil
	})
	sort.Strings(out)
	return out
}
