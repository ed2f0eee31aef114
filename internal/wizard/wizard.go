// Package wizard turns an uploaded file into a stored layer. KML files are
// validated and stored as-is; spreadsheets are column-mapped, geocoded and
// encoded as KML first.
package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/starford/oohmap/internal/apperr"
	"github.com/starford/oohmap/internal/geocode"
	"github.com/starford/oohmap/internal/kml"
	"github.com/starford/oohmap/internal/layers"
)

// Upload limits.
const (
	DefaultMaxFileSize = 10 << 20
	DefaultMaxRows     = 5000
)

var (
	ErrFileTooLarge = fmt.Errorf("wizard: file too large: %w", apperr.ErrValidation)
	ErrTooManyRows  = fmt.Errorf("wizard: too many rows: %w", apperr.ErrValidation)
	ErrEmptyFile    = fmt.Errorf("wizard: empty file: %w", apperr.ErrValidation)
	ErrNoPoints     = fmt.Errorf("wizard: no row could be geocoded: %w", apperr.ErrValidation)
)

// UnsupportedFileTypeError reports an extension the wizard cannot read.
type UnsupportedFileTypeError struct {
	Ext string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("wizard: unsupported file type %q", e.Ext)
}

func (e *UnsupportedFileTypeError) Unwrap() error { return apperr.ErrValidation }

// LayerUploader stores a KML layer.
type LayerUploader interface {
	Upload(ctx context.Context, projectID, fileName string, content []byte) (*layers.Uploaded, error)
}

// BatchGeocoder resolves addresses in bulk.
type BatchGeocoder interface {
	GeocodeBatch(ctx context.Context, addrs []geocode.Address, onProgress geocode.ProgressFunc) ([]geocode.BatchResult, error)
}

// Preview is what a Confirmer sees before geocoding starts.
type Preview struct {
	FileName string                        `json:"fileName"`
	Headers  []string                      `json:"headers"`
	RowCount int                           `json:"rowCount"`
	Sample   [][]string                    `json:"sample"`
	Mapping  map[string]geocode.ColumnType `json:"mapping"`
}

const sampleRows = 5

// Confirmer decides the column mapping of a spreadsheet. It may block
// until a user answers; returning an error cancels the upload.
type Confirmer interface {
	Confirm(ctx context.Context, p Preview) (map[string]geocode.ColumnType, error)
}

// AutoConfirm accepts the detected mapping.
type AutoConfirm struct{}

func (AutoConfirm) Confirm(_ context.Context, p Preview) (map[string]geocode.ColumnType, error) {
	return p.Mapping, nil
}

// StaticConfirm replaces the detected mapping with a fixed one.
type StaticConfirm map[string]geocode.ColumnType

func (s StaticConfirm) Confirm(context.Context, Preview) (map[string]geocode.ColumnType, error) {
	return s, nil
}

// Outcome summarises an ingested file.
type Outcome struct {
	LayerID  string                        `json:"layerId"`
	FileName string                        `json:"fileName"`
	Rows     int                           `json:"rows"`
	Geocoded int                           `json:"geocoded"`
	Failed   int                           `json:"failed"`
	Mapping  map[string]geocode.ColumnType `json:"mapping,omitempty"`
}

// Wizard ingests uploaded files.
type Wizard struct {
	layers      LayerUploader
	geocoder    BatchGeocoder
	maxFileSize int64
	maxRows     int
	progress    func(projectID string, done, total int)
	logger      *slog.Logger
}

// Option configures a Wizard.
type Option func(*Wizard)

func WithMaxFileSize(n int64) Option {
	return func(w *Wizard) {
		if n > 0 {
			w.maxFileSize = n
		}
	}
}

func WithMaxRows(n int) Option {
	return func(w *Wizard) {
		if n > 0 {
			w.maxRows = n
		}
	}
}

// WithProgress reports geocoding progress per project.
func WithProgress(fn func(projectID string, done, total int)) Option {
	return func(w *Wizard) { w.progress = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Wizard) { w.logger = l }
}

// New creates a Wizard.
func New(l LayerUploader, g BatchGeocoder, opts ...Option) *Wizard {
	w := &Wizard{
		layers:      l,
		geocoder:    g,
		maxFileSize: DefaultMaxFileSize,
		maxRows:     DefaultMaxRows,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// MaxFileSize returns the configured size limit in bytes.
func (w *Wizard) MaxFileSize() int64 { return w.maxFileSize }

// CheckSize fails with ErrFileTooLarge when n exceeds the limit.
func (w *Wizard) CheckSize(n int64) error {
	if n > w.maxFileSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, n, w.maxFileSize)
	}
	return nil
}

// Ingest stores fileName's content as a layer of projectID.
func (w *Wizard) Ingest(ctx context.Context, projectID, fileName string, data []byte, c Confirmer) (*Outcome, error) {
	if err := w.CheckSize(int64(len(data))); err != nil {
		return nil, err
	}
	fileName = filepath.Base(fileName)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	switch ext {
	case "kml":
		return w.ingestKML(ctx, projectID, fileName, data)
	case "csv":
		return w.ingestTable(ctx, projectID, fileName, readCSV(data), c)
	case "xlsx":
		rows, err := readXLSX(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", err, apperr.ErrValidation)
		}
		return w.ingestTable(ctx, projectID, fileName, rows, c)
	default:
		return nil, &UnsupportedFileTypeError{Ext: ext}
	}
}

func (w *Wizard) ingestKML(ctx context.Context, projectID, fileName string, data []byte) (*Outcome, error) {
	v := kml.Validate(data)
	if !v.Valid {
		return nil, fmt.Errorf("wizard: %s: %w", v.Error, apperr.ErrValidation)
	}
	up, err := w.layers.Upload(ctx, projectID, fileName, data)
	if err != nil {
		return nil, err
	}
	return &Outcome{LayerID: up.LayerID, FileName: up.FileName, Rows: v.Placemarks}, nil
}

func (w *Wizard) ingestTable(ctx context.Context, projectID, fileName string, rows [][]string, c Confirmer) (*Outcome, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}
	headers, data := rows[0], rows[1:]
	if len(data) > w.maxRows {
		return nil, fmt.Errorf("%w: %d rows, limit %d", ErrTooManyRows, len(data), w.maxRows)
	}

	preview := Preview{
		FileName: fileName,
		Headers:  headers,
		RowCount: len(data),
		Sample:   data[:min(sampleRows, len(data))],
		Mapping:  geocode.AutoMapColumns(headers),
	}
	if c == nil {
		c = AutoConfirm{}
	}
	mapping, err := c.Confirm(ctx, preview)
	if err != nil {
		return nil, fmt.Errorf("wizard: mapping not confirmed: %w", err)
	}

	addrs := make([]geocode.Address, len(data))
	extras := make([]map[string]string, len(data))
	for i, row := range data {
		addrs[i], extras[i] = geocode.ApplyMapping(headers, row, mapping)
	}

	var onProgress geocode.ProgressFunc
	if w.progress != nil {
		onProgress = func(done, total int) { w.progress(projectID, done, total) }
	}
	results, err := w.geocoder.GeocodeBatch(ctx, addrs, onProgress)
	if err != nil {
		return nil, err
	}

	fc := toFeatures(results, extras)
	out := &Outcome{Rows: len(data), Geocoded: len(fc.Features), Failed: len(data) - len(fc.Features), Mapping: mapping}
	if out.Geocoded == 0 {
		return nil, ErrNoPoints
	}

	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	doc := kml.Encode(fc, kml.Options{LayerName: base})
	if v := kml.Validate(doc); !v.Valid {
		return nil, fmt.Errorf("wizard: encoded layer is not valid KML: %s", v.Error)
	}
	up, err := w.layers.Upload(ctx, projectID, base, doc)
	if err != nil {
		return nil, err
	}
	out.LayerID, out.FileName = up.LayerID, up.FileName
	w.logger.Info("wizard: spreadsheet ingested",
		slog.String("file", fileName),
		slog.Int("rows", out.Rows),
		slog.Int("geocoded", out.Geocoded))
	return out, nil
}

// toFeatures keeps the successful results, carrying the mapped fields and
// the unmapped columns as properties.
func toFeatures(results []geocode.BatchResult, extras []map[string]string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, r := range results {
		if !r.Success || r.Result == nil {
			continue
		}
		f := geojson.NewFeature(orb.Point{r.Lng, r.Lat})
		for k, v := range extras[i] {
			f.Properties[k] = v
		}
		set := func(k, v string) {
			if v != "" {
				f.Properties[k] = v
			}
		}
		set("name", r.Label)
		set("category", r.Category)
		set("address", r.Address.Address)
		set("city", r.City)
		set("state", r.State)
		set("zipcode", r.Zipcode)
		set("formatted_address", r.FormattedAddress)
		set("source", r.Source)
		f.Properties["confidence"] = r.Confidence
		fc.Append(f)
	}
	return fc
}
