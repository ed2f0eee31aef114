package points

import (
	"log/slog"

	"github.com/starford/oohmap/internal/notion"
)

// MapPoint is a renderable point derived from one dataset record.
type MapPoint struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	LatLong   string  `json:"latlong"`
	Address   string  `json:"address"`
	Exhibitor string  `json:"exhibitor"`
	Product   any     `json:"product"` // string, []string for multi-select, or nil
	State     string  `json:"state"`
	Locality  string  `json:"locality"`
	ImageURL  string  `json:"imageUrl,omitempty"`
}

// FieldNames lists, per point attribute, the property names to try in order.
type FieldNames struct {
	Coordinates []string
	Address     []string
	Exhibitor   []string
	Product     []string
	State       []string
	Locality    []string
}

// DefaultFields matches the column names used by the OOH inventory datasets.
var DefaultFields = FieldNames{
	Coordinates: []string{"Lat/long", "Latlong", "Coordenadas"},
	Address:     []string{"Endereço", "Endereco", "Nome"},
	Exhibitor:   []string{"Exibidora"},
	Product:     []string{"Produto"},
	State:       []string{"UF", "Estado"},
	Locality:    []string{"Praça", "Praca", "Cidade"},
}

// InclusionPolicy drops records whose inclusion property is present and falsy.
type InclusionPolicy struct {
	Enabled bool
	Field   string
}

// Normalizer maps records to points.
type Normalizer struct {
	fields    FieldNames
	inclusion InclusionPolicy
	logger    *slog.Logger
}

// NewNormalizer creates a Normalizer using DefaultFields.
func NewNormalizer(inclusion InclusionPolicy, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{fields: DefaultFields, inclusion: inclusion, logger: logger}
}

// Normalize returns one point per usable record, in input order. Records
// without coordinates or address, or with unparseable coordinates, are
// dropped and logged.
func (n *Normalizer) Normalize(records []notion.Page) []MapPoint {
	out := make([]MapPoint, 0, len(records))
	for i := range records {
		rec := &records[i]
		if n.excluded(rec) {
			n.logger.Debug("points: record excluded", slog.String("id", rec.ID))
			continue
		}

		raw := n.first(rec, n.fields.Coordinates)
		address := n.first(rec, n.fields.Address)
		if raw == "" || address == "" {
			n.logger.Warn("points: record dropped: missing coordinates or address", slog.String("id", rec.ID))
			continue
		}
		c, ok := ParseLatLong(raw)
		if !ok {
			n.logger.Warn("points: record dropped: invalid coordinates",
				slog.String("id", rec.ID),
				slog.String("latlong", raw))
			continue
		}

		out = append(out, MapPoint{
			ID:        rec.ID,
			Lat:       c.Lat,
			Lng:       c.Lng,
			LatLong:   raw,
			Address:   address,
			Exhibitor: n.first(rec, n.fields.Exhibitor),
			Product:   n.value(rec, n.fields.Product),
			State:     n.first(rec, n.fields.State),
			Locality:  n.first(rec, n.fields.Locality),
			ImageURL:  rec.Cover.URL(),
		})
	}
	return out
}

func (n *Normalizer) first(rec *notion.Page, names []string) string {
	for _, name := range names {
		p, ok := rec.Properties[name]
		if !ok {
			continue
		}
		if v := notion.Text(&p); v != "" {
			return v
		}
	}
	return ""
}

// value is like first but keeps the extracted type, so multi-select
// options stay a list.
func (n *Normalizer) value(rec *notion.Page, names []string) any {
	for _, name := range names {
		p, ok := rec.Properties[name]
		if !ok {
			continue
		}
		switch v := notion.Extract(&p).(type) {
		case nil:
		case string:
			if v != "" {
				return v
			}
		default:
			return v
		}
	}
	return nil
}

func (n *Normalizer) excluded(rec *notion.Page) bool {
	if !n.inclusion.Enabled || n.inclusion.Field == "" {
		return false
	}
	p, ok := rec.Properties[n.inclusion.Field]
	if !ok {
		return false
	}
	switch v := notion.Extract(&p).(type) {
	case nil:
		return false
	case bool:
		return !v
	case string:
		return v == ""
	case float64:
		return v == 0
	default:
		return false
	}
}
