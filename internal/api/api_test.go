package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/starford/oohmap/internal/geocode"
	"github.com/starford/oohmap/internal/layers"
	"github.com/starford/oohmap/internal/mapdata"
	"github.com/starford/oohmap/internal/metrics"
	"github.com/starford/oohmap/internal/notion"
	"github.com/starford/oohmap/internal/points"
	"github.com/starford/oohmap/internal/storage"
	"github.com/starford/oohmap/internal/testutil"
	"github.com/starford/oohmap/internal/wizard"
)

const sampleKML = testutil.SampleKML

type fakeMaps struct {
	calls int
	err   error
}

func (f *fakeMaps) MapData(_ context.Context, id string) (*mapdata.MapData, bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	pts := []points.MapPoint{{ID: "r1", Lat: -23.5, Lng: -46.6, Address: "Rua A"}}
	return &mapdata.MapData{RecordID: id, DatasetID: "db", ProjectName: "Campanha", Points: pts, PointCount: 1}, f.calls > 1, nil
}

func (f *fakeMaps) TableData(_ context.Context, id string) (*mapdata.TableData, bool, error) {
	return &mapdata.TableData{TableID: id, Points: []points.MapPoint{}}, false, nil
}

type env struct {
	router   http.Handler
	maps     *fakeMaps
	metrics  *metrics.Metrics
	progress []int
}

func testEnv(t *testing.T, authToken string) *env {
	t.Helper()

	layerSvc, _ := testutil.Layers(t)

	e := &env{maps: &fakeMaps{}, metrics: metrics.New()}
	e.router = NewRouter(Deps{
		Maps:        e.maps,
		Layers:      layerSvc,
		Geocoder:    testutil.StubGeocoder{},
		Wizard:      wizard.New(layerSvc, testutil.StubGeocoder{}),
		Progress:    func(_ string, done, _ int) { e.progress = append(e.progress, done) },
		Metrics:     e.metrics,
		AuthEnabled: authToken != "",
		AuthToken:   authToken,
	})
	return e
}

func (e *env) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func (e *env) uploadLayer(t *testing.T, name string) UploadResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/layer-upload", LayerUploadRequest{ProjectID: "p1", FileName: name, KMLData: sampleKML})
	if w.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp UploadResponse
	decode(t, w, &resp)
	return resp
}

func TestMapData(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodGet, "/map-data?recordId=abc", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Cache"); got != "MISS" {
		t.Fatalf("X-Cache = %q, want MISS", got)
	}
	var data mapdata.MapData
	decode(t, w, &data)
	if data.RecordID != "abc" || data.PointCount != 1 || data.Points[0].Address != "Rua A" {
		t.Fatalf("data = %+v", data)
	}

	// Legacy parameter name.
	w = e.do(t, http.MethodGet, "/map-data?id=abc", nil)
	if w.Code != http.StatusOK || w.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("legacy id: status = %d, X-Cache = %q", w.Code, w.Header().Get("X-Cache"))
	}
}

func TestMapDataMissingID(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodGet, "/map-data", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestMapDataUpstreamFailure(t *testing.T) {
	e := testEnv(t, "")
	e.maps.err = &notion.UpstreamError{Op: "query", Status: 502, Body: "bad gateway"}

	w := e.do(t, http.MethodGet, "/map-data?recordId=abc", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body errResponse
	decode(t, w, &body)
	if body.Error != "Failed to fetch map data" || !strings.Contains(body.Details, "502") {
		t.Fatalf("body = %+v", body)
	}
}

func TestTableDataRequiresID(t *testing.T) {
	e := testEnv(t, "")
	if w := e.do(t, http.MethodGet, "/table-data", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/table-data?tableId=db", nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestLayerLifecycle(t *testing.T) {
	e := testEnv(t, "")

	up := e.uploadLayer(t, "Pontos.kml")
	if !up.Success || up.LayerID == "" || up.FileName != "Pontos.kml" {
		t.Fatalf("upload = %+v", up)
	}

	w := e.do(t, http.MethodGet, "/layer-list?projectId=p1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", w.Code, w.Body.String())
	}
	var listing layers.Listing
	decode(t, w, &listing)
	if listing.ProjectName != "Campanha" || listing.LayerCount != 1 || listing.Layers[0].PointCount != 1 {
		t.Fatalf("listing = %+v", listing)
	}

	w = e.do(t, http.MethodPost, "/layer-manage", LayerManageRequest{
		Action: "update_style", ProjectID: "p1", LayerID: up.LayerID, Color: "#00ff00",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("restyle status = %d, body = %s", w.Code, w.Body.String())
	}
	var manage ManageResponse
	decode(t, w, &manage)
	if !manage.Success || manage.Message != "Layer style updated" {
		t.Fatalf("manage = %+v", manage)
	}

	w = e.do(t, http.MethodPost, "/layer-manage", LayerManageRequest{Action: "delete", ProjectID: "p1", LayerID: up.LayerID})
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/layer-list?projectId=p1", nil)
	decode(t, w, &listing)
	if listing.LayerCount != 0 {
		t.Fatalf("deleted layer still listed: %+v", listing)
	}
}

func TestLayerUploadValidation(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodPost, "/layer-upload", LayerUploadRequest{ProjectID: "p1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body errResponse
	decode(t, w, &body)
	if !strings.Contains(body.Error, "fileName") || !strings.Contains(body.Error, "kmlData") {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestLayerManageErrors(t *testing.T) {
	e := testEnv(t, "")
	up := e.uploadLayer(t, "a.kml")

	tests := []struct {
		name string
		req  LayerManageRequest
		want int
	}{
		{"missing layer id", LayerManageRequest{Action: "delete", ProjectID: "p1"}, http.StatusBadRequest},
		{"bad color", LayerManageRequest{Action: "update_style", ProjectID: "p1", LayerID: up.LayerID, Color: "red"}, http.StatusBadRequest},
		{"rename without name", LayerManageRequest{Action: "rename", ProjectID: "p1", LayerID: up.LayerID}, http.StatusBadRequest},
		{"invalid action", LayerManageRequest{Action: "archive", ProjectID: "p1", LayerID: up.LayerID}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := e.do(t, http.MethodPost, "/layer-manage", tt.req); w.Code != tt.want {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestKMLData(t *testing.T) {
	e := testEnv(t, "")
	up := e.uploadLayer(t, "a.kml")

	if w := e.do(t, http.MethodGet, "/kml-data?layerId="+up.LayerID, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing projectId: status = %d", w.Code)
	}

	w := e.do(t, http.MethodGet, "/kml-data?projectId=p1&layerId="+up.LayerID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != storage.KMLMimeType {
		t.Fatalf("content type = %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Fatalf("cache control = %q", cc)
	}
	if w.Body.String() != sampleKML {
		t.Fatalf("body = %q", w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/kml-data?projectId=p1&layerId="+up.LayerID, nil)
	req.Header.Set("If-None-Match", w.Header().Get("ETag"))
	w2 := httptest.NewRecorder()
	e.router.ServeHTTP(w2, req)
	if w2.Code != http.StatusNotModified || w2.Body.Len() != 0 {
		t.Fatalf("conditional GET status = %d, body length %d", w2.Code, w2.Body.Len())
	}
}

func TestKMLDataUnknownLayer(t *testing.T) {
	e := testEnv(t, "")
	if w := e.do(t, http.MethodGet, "/kml-data?projectId=p1&layerId=nope", nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestGeocode(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodPost, "/geocode", map[string]any{
		"projectId": "p1",
		"addresses": []geocode.Address{{Address: "Rua A"}, {Address: "unknown"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp GeocodeResponse
	decode(t, w, &resp)
	if resp.Total != 2 || resp.Succeeded != 1 || resp.Results[1].Success {
		t.Fatalf("resp = %+v", resp)
	}
	if len(e.progress) != 2 {
		t.Fatalf("progress = %v", e.progress)
	}

	// A single address at the top level.
	w = e.do(t, http.MethodPost, "/geocode", geocode.Address{Address: "Rua B", City: "Santos"})
	decode(t, w, &resp)
	if resp.Total != 1 || resp.Results[0].City != "Santos" {
		t.Fatalf("single: resp = %+v", resp)
	}

	if w := e.do(t, http.MethodPost, "/geocode", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty: status = %d, want 400", w.Code)
	}
}

func multipartBody(t *testing.T, fields map[string]string, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(content))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (e *env) upload(t *testing.T, fields map[string]string, fileName, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, fields, fileName, content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestUploadSpreadsheet(t *testing.T) {
	e := testEnv(t, "")

	csv := "Nome,Endereço\nPainel 1,Rua A\nPainel 2,unknown\n"
	w := e.upload(t, map[string]string{"projectId": "p1"}, "pontos.csv", csv)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp UploadResponse
	decode(t, w, &resp)
	if !resp.Success || resp.FileName != "pontos.kml" || resp.Rows != 2 || resp.Geocoded != 1 || resp.Failed != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestUploadWithMapping(t *testing.T) {
	e := testEnv(t, "")
	fields := map[string]string{"projectId": "p1", "mapping": `{"col":"address"}`}
	w := e.upload(t, fields, "a.csv", "col\nRua X\n")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	fields["mapping"] = "not json"
	if w := e.upload(t, fields, "a.csv", "col\nRua X\n"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad mapping: status = %d", w.Code)
	}
}

func TestUploadErrors(t *testing.T) {
	e := testEnv(t, "")

	tests := []struct {
		name     string
		fields   map[string]string
		fileName string
		content  string
	}{
		{"missing project", map[string]string{}, "a.kml", sampleKML},
		{"missing file", map[string]string{"projectId": "p1"}, "", ""},
		{"unsupported type", map[string]string{"projectId": "p1"}, "a.pdf", "x"},
		{"invalid kml", map[string]string{"projectId": "p1"}, "a.kml", "<kml></kml>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := e.upload(t, tt.fields, tt.fileName, tt.content); w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestNotFoundListsRoutes(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodGet, "/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body notFoundResponse
	decode(t, w, &body)
	want := []string{"GET /api/map-data", "POST /api/layer-manage", "POST /api/upload"}
	for _, route := range want {
		found := false
		for _, got := range body.Available {
			if got == route {
				found = true
			}
		}
		if !found {
			t.Errorf("route %q not listed in %v", route, body.Available)
		}
	}
}

func TestCORS(t *testing.T) {
	e := testEnv(t, "secret")

	req := httptest.NewRequest(http.MethodOptions, "/layer-manage", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin = %q", got)
	}

	w = e.do(t, http.MethodGet, "/map-data", nil)
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("CORS header missing on regular response")
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := testEnv(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/map-data?recordId=abc", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	e := testEnv(t, "secret123")
	w := e.do(t, http.MethodGet, "/map-data?recordId=abc", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	e := testEnv(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/map-data?recordId=abc", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestMetricsRecorded(t *testing.T) {
	e := testEnv(t, "")
	e.do(t, http.MethodGet, "/map-data?recordId=abc", nil)
	e.do(t, http.MethodGet, "/missing", nil)

	w := httptest.NewRecorder()
	e.metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	for _, want := range []string{
		`oohmap_http_requests_total{route="/map-data",status="200"} 1`,
		`oohmap_http_requests_total{route="not_found",status="404"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(&wizard.UnsupportedFileTypeError{Ext: "pdf"}); got != http.StatusBadRequest {
		t.Fatalf("validation status = %d", got)
	}
	if got := statusFor(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("generic status = %d", got)
	}
}
