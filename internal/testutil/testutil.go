// Package testutil provides shared test helpers for the layer stack and geocoding.
package testutil

import (
	"context"
	"testing"

	"github.com/starford/oohmap/internal/geocode"
	"github.com/starford/oohmap/internal/layers"
	"github.com/starford/oohmap/internal/project"
	"github.com/starford/oohmap/internal/storage"
)

// SampleKML is a one-placemark KML document.
const SampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2"><Document>
<Placemark><name>Painel</name><Point><coordinates>-46.6,-23.5,0</coordinates></Point></Placemark>
</Document></kml>`

// ProjectName is the title every project resolves to in Layers.
const ProjectName = "Campanha"

type staticTitles string

func (s staticTitles) ResolveTitle(context.Context, string) (string, error) { return string(s), nil }

// Layers creates a layer service over an in-memory file store. Every
// project is named ProjectName.
func Layers(t *testing.T, opts ...layers.Option) (*layers.Service, *storage.Store) {
	t.Helper()
	files := storage.NewStore(storage.NewMemory(), "")
	dir := project.NewDirectory(staticTitles(ProjectName), files, project.DefaultRootFolder)
	return layers.NewService(dir, files, layers.NewMetadataStore(files), opts...), files
}

// StubGeocoder resolves every address to a fixed point except "unknown".
type StubGeocoder struct{}

// GeocodeBatch implements the batch geocoder used by the wizard and the API.
func (StubGeocoder) GeocodeBatch(_ context.Context, addrs []geocode.Address, onProgress geocode.ProgressFunc) ([]geocode.BatchResult, error) {
	out := make([]geocode.BatchResult, len(addrs))
	for i, a := range addrs {
		if a.Address == "unknown" {
			out[i] = geocode.BatchResult{Address: a, Error: "not found"}
		} else {
			out[i] = geocode.BatchResult{Address: a, Result: &geocode.Result{Lat: -23, Lng: -46, Source: geocode.SourceNominatim}, Success: true}
		}
		if onProgress != nil {
			onProgress(i+1, len(addrs))
		}
	}
	return out, nil
}
