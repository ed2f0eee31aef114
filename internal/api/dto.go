package api

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/oohmap/internal/geocode"
	"github.com/starford/oohmap/internal/layers"
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// LayerUploadRequest is the body of POST /api/layer-upload.
type LayerUploadRequest struct {
	ProjectID string `json:"projectId"`
	FileName  string `json:"fileName"`
	KMLData   string `json:"kmlData"`
}

// Validate checks that every field is present.
func (r LayerUploadRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProjectID, validation.Required),
		validation.Field(&r.FileName, validation.Required),
		validation.Field(&r.KMLData, validation.Required),
	)
}

// LayerManageRequest is the body of POST /api/layer-manage.
type LayerManageRequest struct {
	Action    string `json:"action"`
	ProjectID string `json:"projectId"`
	LayerID   string `json:"layerId"`
	NewName   string `json:"newName,omitempty"`
	Color     string `json:"color,omitempty"`
	Icon      string `json:"icon,omitempty"`
}

// Validate checks the identifying fields. The action itself is checked by
// the layer service.
func (r LayerManageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Action, validation.Required),
		validation.Field(&r.ProjectID, validation.Required),
		validation.Field(&r.LayerID, validation.Required),
		validation.Field(&r.Color, validation.Match(hexColor).Error("must be a #rrggbb color")),
	)
}

func (r LayerManageRequest) params() layers.ManageParams {
	return layers.ManageParams{NewName: r.NewName, Color: r.Color, Icon: r.Icon}
}

// ManageResponse is returned by POST /api/layer-manage.
type ManageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Action  string `json:"action"`
	LayerID string `json:"layerId"`
}

// UploadResponse is returned by the layer upload endpoints.
type UploadResponse struct {
	Success  bool   `json:"success"`
	LayerID  string `json:"layerId"`
	FileName string `json:"fileName"`
	Message  string `json:"message"`
	Rows     int    `json:"rows,omitempty"`
	Geocoded int    `json:"geocoded,omitempty"`
	Failed   int    `json:"failed,omitempty"`
}

// GeocodeRequest is the body of POST /api/geocode: either a list under
// "addresses" or a single address at the top level.
type GeocodeRequest struct {
	ProjectID string            `json:"projectId,omitempty"`
	Addresses []geocode.Address `json:"addresses,omitempty"`
	geocode.Address
}

func (r GeocodeRequest) addresses() []geocode.Address {
	if len(r.Addresses) > 0 {
		return r.Addresses
	}
	if r.Address == (geocode.Address{}) {
		return nil
	}
	return []geocode.Address{r.Address}
}

// GeocodeResponse is returned by POST /api/geocode.
type GeocodeResponse struct {
	Results   []geocode.BatchResult `json:"results"`
	Total     int                   `json:"total"`
	Succeeded int                   `json:"succeeded"`
}
