package geocode

import "strings"

// ColumnType is the semantic role of a tabular column.
type ColumnType string

const (
	ColumnLatitude  ColumnType = "latitude"
	ColumnLongitude ColumnType = "longitude"
	ColumnAddress   ColumnType = "address"
	ColumnCity      ColumnType = "city"
	ColumnState     ColumnType = "state"
	ColumnZipcode   ColumnType = "zipcode"
	ColumnLabel     ColumnType = "label"
	ColumnCategory  ColumnType = "category"
)

// columnKeywords is checked in order; the first category with a keyword
// contained in the header wins.
var columnKeywords = []struct {
	typ      ColumnType
	keywords []string
}{
	{ColumnLatitude, []string{"lat", "latitude", "latitud"}},
	{ColumnLongitude, []string{"lng", "lon", "long", "longitude", "longitud"}},
	{ColumnAddress, []string{"endereco", "endereço", "address", "rua", "logradouro"}},
	{ColumnCity, []string{"cidade", "city", "municipio", "município"}},
	{ColumnState, []string{"estado", "state", "uf"}},
	{ColumnZipcode, []string{"cep", "zip", "zipcode", "postal", "codigo postal"}},
	{ColumnLabel, []string{"nome", "name", "titulo", "título", "label", "rotulo", "rótulo"}},
	{ColumnCategory, []string{"categoria", "category", "tipo", "type", "classificacao"}},
}

// DetectColumn returns the semantic type of a header.
func DetectColumn(header string) (ColumnType, bool) {
	name := strings.ToLower(strings.TrimSpace(header))
	for _, c := range columnKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(name, kw) {
				return c.typ, true
			}
		}
	}
	return "", false
}

// AutoMapColumns maps each recognised header to its type. Unrecognised
// headers are left out.
func AutoMapColumns(headers []string) map[string]ColumnType {
	mapping := make(map[string]ColumnType, len(headers))
	for _, h := range headers {
		if t, ok := DetectColumn(h); ok {
			mapping[h] = t
		}
	}
	return mapping
}

// ApplyMapping builds an Address from one row using a header mapping.
// Cells of unmapped columns are returned in extra, keyed by header.
func ApplyMapping(headers, row []string, mapping map[string]ColumnType) (a Address, extra map[string]string) {
	extra = make(map[string]string)
	for i, h := range headers {
		var cell string
		if i < len(row) {
			cell = strings.TrimSpace(row[i])
		}
		t, ok := mapping[h]
		if !ok {
			if cell != "" {
				extra[h] = cell
			}
			continue
		}
		switch t {
		case ColumnLatitude:
			a.Latitude = cell
		case ColumnLongitude:
			a.Longitude = cell
		case ColumnAddress:
			a.Address = cell
		case ColumnCity:
			a.City = cell
		case ColumnState:
			a.State = cell
		case ColumnZipcode:
			a.Zipcode = cell
		case ColumnLabel:
			a.Label = cell
		case ColumnCategory:
			a.Category = cell
		}
	}
	return a, extra
}
