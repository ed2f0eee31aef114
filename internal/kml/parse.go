// Package kml converts between KML documents and GeoJSON feature collections.
package kml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/starford/oohmap/internal/apperr"
)

// DefaultPlacemarkName names placemarks that carry no <name>.
const DefaultPlacemarkName = "Unnamed"

// MalformedXMLError reports a document the XML parser rejected.
type MalformedXMLError struct {
	Err error
}

func (e *MalformedXMLError) Error() string {
	return fmt.Sprintf("kml: invalid XML: %v", e.Err)
}

func (e *MalformedXMLError) Unwrap() []error { return []error{e.Err, apperr.ErrValidation} }

type coordinates struct {
	Text string `xml:"coordinates"`
}

type polygonXML struct {
	Outer string `xml:"outerBoundaryIs>LinearRing>coordinates"`
}

type geometryXML struct {
	Point      *coordinates `xml:"Point"`
	LineString *coordinates `xml:"LineString"`
	Polygon    *polygonXML  `xml:"Polygon"`
}

type dataXML struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type simpleDataXML struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type placemarkXML struct {
	Name          *string `xml:"name"`
	Description   string  `xml:"description"`
	geometryXML
	MultiGeometry *geometryXML    `xml:"MultiGeometry"`
	Data          []dataXML       `xml:"ExtendedData>Data"`
	SimpleData    []simpleDataXML `xml:"ExtendedData>SchemaData>SimpleData"`
	IconColor     string          `xml:"Style>IconStyle>color"`
	IconHref      string          `xml:"Style>IconStyle>Icon>href"`
}

// document is the raw scan result shared by Parse and Validate.
type document struct {
	root       string
	placemarks []placemarkXML
}

func scan(data []byte) (*document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	doc := &document{}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &MalformedXMLError{Err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if doc.root == "" {
			doc.root = se.Name.Local
		}
		if se.Name.Local != "Placemark" {
			continue
		}
		var pm placemarkXML
		if err := dec.DecodeElement(&pm, &se); err != nil {
			return nil, &MalformedXMLError{Err: err}
		}
		doc.placemarks = append(doc.placemarks, pm)
	}
	if doc.root == "" {
		return nil, &MalformedXMLError{Err: errors.New("no root element")}
	}
	return doc, nil
}

// Parse reads every placemark of a KML document into a feature collection.
// Placemarks without a usable Point, LineString or Polygon are skipped.
func Parse(data []byte) (*geojson.FeatureCollection, error) {
	doc, err := scan(data)
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	for i := range doc.placemarks {
		f := toFeature(&doc.placemarks[i])
		if f == nil {
			slog.Debug("kml: placemark without geometry skipped", slog.Int("index", i))
			continue
		}
		fc.Append(f)
	}
	return fc, nil
}

func toFeature(pm *placemarkXML) *geojson.Feature {
	geom := pm.geometryXML.geometry()
	if geom == nil && pm.MultiGeometry != nil {
		geom = pm.MultiGeometry.geometry()
	}
	if geom == nil {
		return nil
	}

	f := geojson.NewFeature(geom)
	name := DefaultPlacemarkName
	if pm.Name != nil && strings.TrimSpace(*pm.Name) != "" {
		name = strings.TrimSpace(*pm.Name)
	}
	f.Properties["name"] = name
	f.Properties["description"] = strings.TrimSpace(pm.Description)
	for _, d := range pm.Data {
		if d.Name != "" {
			f.Properties[d.Name] = d.Value
		}
	}
	for _, d := range pm.SimpleData {
		if d.Name != "" {
			f.Properties[d.Name] = d.Value
		}
	}
	if c := strings.TrimSpace(pm.IconColor); c != "" {
		f.Properties["color"] = KMLColorToHex(c)
	}
	if href := strings.TrimSpace(pm.IconHref); href != "" {
		f.Properties["iconUrl"] = href
	}
	return f
}

// geometry tries Point, then LineString, then Polygon.
func (g *geometryXML) geometry() orb.Geometry {
	if g.Point != nil {
		if pts := parseTuples(g.Point.Text); len(pts) > 0 {
			return pts[0]
		}
	}
	if g.LineString != nil {
		if pts := parseTuples(g.LineString.Text); len(pts) > 0 {
			return orb.LineString(pts)
		}
	}
	if g.Polygon != nil {
		if pts := parseTuples(g.Polygon.Outer); len(pts) > 0 {
			ring := orb.Ring(pts)
			if !ring.Closed() {
				ring = append(ring, ring[0])
			}
			return orb.Polygon{ring}
		}
	}
	return nil
}

// parseTuples reads whitespace-separated "lng,lat[,alt]" tuples, skipping
// malformed ones.
func parseTuples(s string) []orb.Point {
	fields := strings.Fields(s)
	out := make([]orb.Point, 0, len(fields))
	for _, tuple := range fields {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			continue
		}
		lng, err1 := strconv.ParseFloat(parts[0], 64)
		lat, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil || !finite(lng) || !finite(lat) {
			continue
		}
		out = append(out, orb.Point{lng, lat})
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Validation is the outcome of Validate.
type Validation struct {
	Valid      bool   `json:"valid"`
	Error      string `json:"error,omitempty"`
	Placemarks int    `json:"placemarks"`
}

// Validate checks that data is well-formed XML with a kml root element and
// at least one placemark.
func Validate(data []byte) Validation {
	doc, err := scan(data)
	if err != nil {
		return Validation{Error: err.Error()}
	}
	if doc.root != "kml" {
		return Validation{Error: fmt.Sprintf("kml: root element is <%s>, want <kml>", doc.root)}
	}
	if len(doc.placemarks) == 0 {
		return Validation{Error: "kml: no placemarks found"}
	}
	return Validation{Valid: true, Placemarks: len(doc.placemarks)}
}

// CountPlacemarks returns the number of placemarks with usable geometry,
// or 0 when data does not parse.
func CountPlacemarks(data []byte) int {
	fc, err := Parse(data)
	if err != nil {
		return 0
	}
	return len(fc.Features)
}
