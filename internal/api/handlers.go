package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/oohmap/internal/apperr"
	"github.com/starford/oohmap/internal/checksum"
	"github.com/starford/oohmap/internal/geocode"
	"github.com/starford/oohmap/internal/layers"
	"github.com/starford/oohmap/internal/mapdata"
	"github.com/starford/oohmap/internal/storage"
	"github.com/starford/oohmap/internal/wizard"
)

// MapService serves cached map and table points.
type MapService interface {
	MapData(ctx context.Context, recordID string) (*mapdata.MapData, bool, error)
	TableData(ctx context.Context, tableID string) (*mapdata.TableData, bool, error)
}

// LayerService manages the layers of a project.
type LayerService interface {
	List(ctx context.Context, projectID string) (*layers.Listing, error)
	Upload(ctx context.Context, projectID, fileName string, content []byte) (*layers.Uploaded, error)
	Manage(ctx context.Context, action layers.Action, projectID, layerID string, params layers.ManageParams) (string, error)
	ReadKML(ctx context.Context, projectID, layerID string) ([]byte, error)
}

// Geocoder resolves addresses in bulk.
type Geocoder interface {
	GeocodeBatch(ctx context.Context, addrs []geocode.Address, onProgress geocode.ProgressFunc) ([]geocode.BatchResult, error)
}

// Ingester runs the upload wizard.
type Ingester interface {
	Ingest(ctx context.Context, projectID, fileName string, data []byte, c wizard.Confirmer) (*wizard.Outcome, error)
	MaxFileSize() int64
}

// Handler holds API route handlers.
type Handler struct {
	maps     MapService
	layers   LayerService
	geocoder Geocoder
	wizard   Ingester
	progress func(projectID string, done, total int)
}

// NewHandler creates a new Handler.
func NewHandler(maps MapService, layerSvc LayerService, geocoder Geocoder, ingester Ingester) *Handler {
	return &Handler{maps: maps, layers: layerSvc, geocoder: geocoder, wizard: ingester}
}

// statusFor maps an error to its HTTP status: client input errors are 400,
// everything else is 500.
func statusFor(err error) int {
	if errors.Is(err, apperr.ErrValidation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, op, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorDetails(msg, err))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func cacheHeader(w http.ResponseWriter, hit bool) {
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
}

// MapData handles GET /api/map-data.
//
//	@Summary		Points of the dataset owning a project record
//	@Tags			map
//	@Produce		json
//	@Param			recordId	query		string	true	"Project record id or URL (legacy: id)"
//	@Success		200			{object}	mapdata.MapData
//	@Failure		400			{object}	errResponse
//	@Failure		500			{object}	errResponse
//	@Router			/map-data [get]
func (h *Handler) MapData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("recordId")
	if id == "" {
		id = q.Get("id")
	}
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("recordId is required"))
		return
	}

	data, hit, err := h.maps.MapData(r.Context(), id)
	if err != nil {
		writeError(w, "map data", "Failed to fetch map data", err)
		return
	}
	cacheHeader(w, hit)
	writeJSON(w, http.StatusOK, data)
}

// TableData handles GET /api/table-data.
//
//	@Summary		Points of a dataset read directly
//	@Tags			map
//	@Produce		json
//	@Param			tableId	query		string	true	"Dataset id"
//	@Success		200		{object}	mapdata.TableData
//	@Router			/table-data [get]
func (h *Handler) TableData(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("tableId")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("tableId is required"))
		return
	}

	data, hit, err := h.maps.TableData(r.Context(), id)
	if err != nil {
		writeError(w, "table data", "Failed to fetch table data", err)
		return
	}
	cacheHeader(w, hit)
	writeJSON(w, http.StatusOK, data)
}

// LayerList handles GET /api/layer-list.
//
//	@Summary		Active layers of a project with their style
//	@Tags			layers
//	@Produce		json
//	@Param			projectId	query		string	true	"Project record id"
//	@Success		200			{object}	layers.Listing
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/layer-list [get]
func (h *Handler) LayerList(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("projectId is required"))
		return
	}

	listing, err := h.layers.List(r.Context(), projectID)
	if err != nil {
		writeError(w, "list layers", "Failed to list layers", err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// LayerUpload handles POST /api/layer-upload.
//
//	@Summary		Store a KML document as a new layer
//	@Tags			layers
//	@Accept			json
//	@Produce		json
//	@Param			body	body		LayerUploadRequest	true	"Layer to upload"
//	@Success		200		{object}	UploadResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/layer-upload [post]
func (h *Handler) LayerUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 20<<20)
	var req LayerUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	up, err := h.layers.Upload(r.Context(), req.ProjectID, req.FileName, []byte(req.KMLData))
	if err != nil {
		writeError(w, "upload layer", "Failed to upload layer", err)
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{
		Success:  true,
		LayerID:  up.LayerID,
		FileName: up.FileName,
		Message:  "Layer uploaded",
	})
}

// LayerManage handles POST /api/layer-manage.
//
//	@Summary		Rename, delete or restyle a layer
//	@Tags			layers
//	@Accept			json
//	@Produce		json
//	@Param			body	body		LayerManageRequest	true	"Action to apply"
//	@Success		200		{object}	ManageResponse
//	@Failure		400		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/layer-manage [post]
func (h *Handler) LayerManage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req LayerManageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	msg, err := h.layers.Manage(r.Context(), layers.Action(req.Action), req.ProjectID, req.LayerID, req.params())
	if err != nil {
		writeError(w, "manage layer", "Failed to manage layer", err)
		return
	}
	writeJSON(w, http.StatusOK, ManageResponse{
		Success: true,
		Message: msg,
		Action:  req.Action,
		LayerID: req.LayerID,
	})
}

// KMLData handles GET /api/kml-data.
//
//	@Summary		Raw KML of a layer
//	@Tags			layers
//	@Produce		application/vnd.google-earth.kml+xml
//	@Param			layerId		query	string	true	"Layer file id"
//	@Param			projectId	query	string	true	"Project record id"
//	@Success		200
//	@Success		304
//	@Router			/kml-data [get]
func (h *Handler) KMLData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	layerID, projectID := q.Get("layerId"), q.Get("projectId")
	if layerID == "" || projectID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("layerId and projectId are required"))
		return
	}

	data, err := h.layers.ReadKML(r.Context(), projectID, layerID)
	if err != nil {
		writeError(w, "read kml", "Failed to read layer", err)
		return
	}

	etag := checksum.ETag(data)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if !checksum.NoneMatch(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", storage.KMLMimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Geocode handles POST /api/geocode.
//
//	@Summary		Geocode one or more addresses
//	@Tags			geocode
//	@Accept			json
//	@Produce		json
//	@Param			body	body		GeocodeRequest	true	"Addresses"
//	@Success		200		{object}	GeocodeResponse
//	@Router			/geocode [post]
func (h *Handler) Geocode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req GeocodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	addrs := req.addresses()
	if len(addrs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("at least one address is required"))
		return
	}

	var onProgress geocode.ProgressFunc
	if h.progress != nil && req.ProjectID != "" {
		onProgress = func(done, total int) { h.progress(req.ProjectID, done, total) }
	}
	results, err := h.geocoder.GeocodeBatch(r.Context(), addrs, onProgress)
	if err != nil {
		writeError(w, "geocode", "Failed to geocode", err)
		return
	}

	resp := GeocodeResponse{Results: results, Total: len(results)}
	for _, res := range results {
		if res.Success {
			resp.Succeeded++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
