package kml

import (
	"regexp"
	"strings"
)

// DefaultColor is used when a color is absent or malformed.
const DefaultColor = "#e74c3c"

var (
	hexColor = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)
	kmlColor = regexp.MustCompile(`^[0-9a-fA-F]{8}$`)
)

// KMLColorToHex converts a KML aabbggrr color to #rrggbb. Alpha is dropped.
func KMLColorToHex(c string) string {
	c = strings.TrimSpace(c)
	if !kmlColor.MatchString(c) {
		return DefaultColor
	}
	return "#" + c[6:8] + c[4:6] + c[2:4]
}

// HexToKMLColor converts #rrggbb to the fully opaque KML form ffbbggrr.
func HexToKMLColor(c string) string {
	c = strings.TrimSpace(c)
	if !hexColor.MatchString(c) {
		c = DefaultColor
	}
	c = strings.TrimPrefix(c, "#")
	return "ff" + c[4:6] + c[2:4] + c[0:2]
}

var iconHrefs = map[string]string{
	"pin":       "http://maps.google.com/mapfiles/kml/pushpin/red-pushpin.png",
	"store":     "http://maps.google.com/mapfiles/kml/shapes/shopping.png",
	"building":  "http://maps.google.com/mapfiles/kml/shapes/homegardenbusiness.png",
	"flag":      "http://maps.google.com/mapfiles/kml/shapes/flag.png",
	"star":      "http://maps.google.com/mapfiles/kml/shapes/star.png",
	"target":    "http://maps.google.com/mapfiles/kml/shapes/target.png",
	"billboard": "http://maps.google.com/mapfiles/kml/shapes/info-i.png",
}

// IconHref returns the icon image URL for a layer icon name, falling back
// to the pushpin.
func IconHref(icon string) string {
	if href, ok := iconHrefs[icon]; ok {
		return href
	}
	return iconHrefs["pin"]
}

// KnownIcon reports whether icon is one of the layer icon names.
func KnownIcon(icon string) bool {
	_, ok := iconHrefs[icon]
	return ok
}
