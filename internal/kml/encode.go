package kml

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultLayerName names documents encoded without an explicit layer name.
const DefaultLayerName = "Camada OOH"

const styleID = "layer-style"

// Options controls document-level output of Encode.
type Options struct {
	LayerName string
	Color     string // #rrggbb
	Icon      string // layer icon name, see IconHref
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escape(s string) string { return xmlEscaper.Replace(sanitize(s)) }

// cdata wraps s in a CDATA section, splitting any embedded terminator.
func cdata(s string) string {
	return "<![CDATA[" + strings.ReplaceAll(sanitize(s), "]]>", "]]]]><![CDATA[>") + "]]>"
}

// sanitize replaces invalid UTF-8 with U+FFFD and drops runes XML 1.0 does
// not allow in character data.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if xmlChar(r) {
			return r
		}
		return -1
	}, strings.ToValidUTF8(s, "\uFFFD"))
}

func xmlChar(r rune) bool {
	switch {
	case r == '\t', r == '\n', r == '\r':
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	default:
		return r >= 0x10000 && r <= 0x10FFFF
	}
}

// reserved properties are carried by dedicated KML elements.
var reserved = map[string]bool{"name": true, "description": true, "color": true, "iconUrl": true}

// Encode renders a feature collection as a KML document with one shared
// style. Features whose geometry is not a Point, LineString or Polygon are
// skipped.
func Encode(fc *geojson.FeatureCollection, opts Options) []byte {
	if opts.LayerName == "" {
		opts.LayerName = DefaultLayerName
	}
	if opts.Color == "" {
		opts.Color = DefaultColor
	}

	var b bytes.Buffer
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<kml xmlns=\"http://www.opengis.net/kml/2.2\">\n")
	b.WriteString("  <Document>\n")
	fmt.Fprintf(&b, "    <name>%s</name>\n", escape(opts.LayerName))
	fmt.Fprintf(&b, "    <Style id=\"%s\">\n", styleID)
	b.WriteString("      <IconStyle>\n")
	fmt.Fprintf(&b, "        <color>%s</color>\n", HexToKMLColor(opts.Color))
	fmt.Fprintf(&b, "        <Icon><href>%s</href></Icon>\n", escape(IconHref(opts.Icon)))
	b.WriteString("      </IconStyle>\n")
	b.WriteString("    </Style>\n")

	if fc != nil {
		for i, f := range fc.Features {
			if !writePlacemark(&b, f) {
				slog.Debug("kml: feature with unsupported geometry skipped", slog.Int("index", i))
			}
		}
	}

	b.WriteString("  </Document>\n")
	b.WriteString("</kml>\n")
	return b.Bytes()
}

func writePlacemark(b *bytes.Buffer, f *geojson.Feature) bool {
	if f == nil || f.Geometry == nil {
		return false
	}
	var geom bytes.Buffer
	switch g := f.Geometry.(type) {
	case orb.Point:
		fmt.Fprintf(&geom, "      <Point><coordinates>%s</coordinates></Point>\n", tuple(g))
	case orb.LineString:
		geom.WriteString("      <LineString><coordinates>\n")
		writeTuples(&geom, g)
		geom.WriteString("      </coordinates></LineString>\n")
	case orb.Polygon:
		if len(g) == 0 {
			return false
		}
		geom.WriteString("      <Polygon><outerBoundaryIs><LinearRing><coordinates>\n")
		writeTuples(&geom, g[0])
		geom.WriteString("      </coordinates></LinearRing></outerBoundaryIs></Polygon>\n")
	default:
		return false
	}

	props := f.Properties
	b.WriteString("    <Placemark>\n")
	fmt.Fprintf(b, "      <name>%s</name>\n", escape(placemarkName(props)))
	fmt.Fprintf(b, "      <styleUrl>#%s</styleUrl>\n", styleID)
	if desc := stringify(props["description"]); desc != "" {
		fmt.Fprintf(b, "      <description>%s</description>\n", cdata(desc))
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		if !reserved[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		b.WriteString("      <ExtendedData>\n")
		for _, k := range keys {
			fmt.Fprintf(b, "        <Data name=\"%s\"><value>%s</value></Data>\n", escape(k), escape(stringify(props[k])))
		}
		b.WriteString("      </ExtendedData>\n")
	}
	b.Write(geom.Bytes())
	b.WriteString("    </Placemark>\n")
	return true
}

func placemarkName(props geojson.Properties) string {
	for _, key := range []string{"name", "label"} {
		if s := stringify(props[key]); s != "" {
			return s
		}
	}
	return DefaultPlacemarkName
}

func tuple(p orb.Point) string {
	return formatFloat(p.Lon()) + "," + formatFloat(p.Lat()) + ",0"
}

func writeTuples[T ~[]orb.Point](b *bytes.Buffer, pts T) {
	for _, p := range pts {
		b.WriteString("        ")
		b.WriteString(tuple(p))
		b.WriteByte('\n')
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	case []string:
		return strings.Join(x, ",")
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}
