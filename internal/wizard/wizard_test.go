package wizard

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/starford/oohmap/internal/apperr"
	"github.com/starford/oohmap/internal/geocode"
	"github.com/starford/oohmap/internal/kml"
	"github.com/starford/oohmap/internal/layers"
)

type uploaded struct {
	projectID, fileName string
	content             []byte
}

type fakeLayers struct {
	uploads []uploaded
}

func (f *fakeLayers) Upload(_ context.Context, projectID, fileName string, content []byte) (*layers.Uploaded, error) {
	f.uploads = append(f.uploads, uploaded{projectID, fileName, content})
	return &layers.Uploaded{LayerID: "layer-1", FileName: fileName + ".kml"}, nil
}

// fakeGeocoder resolves every address except "unknown".
type fakeGeocoder struct {
	got []geocode.Address
}

func (f *fakeGeocoder) GeocodeBatch(_ context.Context, addrs []geocode.Address, onProgress geocode.ProgressFunc) ([]geocode.BatchResult, error) {
	f.got = addrs
	out := make([]geocode.BatchResult, len(addrs))
	for i, a := range addrs {
		if a.Address == "unknown" {
			out[i] = geocode.BatchResult{Address: a, Error: "not found"}
		} else {
			out[i] = geocode.BatchResult{Address: a, Result: &geocode.Result{Lat: float64(-i), Lng: float64(i), Confidence: 0.8, Source: "nominatim"}, Success: true}
		}
		if onProgress != nil {
			onProgress(i+1, len(addrs))
		}
	}
	return out, nil
}

const sampleKML = `<kml><Document><Placemark><name>x</name><Point><coordinates>1,2</coordinates></Point></Placemark></Document></kml>`

func TestIngestWindows1252CSV(t *testing.T) {
	l := &fakeLayers{}
	g := &fakeGeocoder{}
	w := New(l, g)

	csv := "Nome,Endere\xe7o,Pra\xe7a\r\nPainel \x93A\x94,Rua A,S\xe3o Paulo\r\n"
	out, err := w.Ingest(context.Background(), "p1", "latin.csv", []byte(csv), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if out.Mapping["Endereço"] != geocode.ColumnAddress {
		t.Fatalf("mapping = %v", out.Mapping)
	}
	if g.got[0].Address != "Rua A" || g.got[0].Label != "Painel \u201cA\u201d" {
		t.Fatalf("address = %+v", g.got[0])
	}
	if v := kml.Validate(l.uploads[0].content); !v.Valid || v.Placemarks != 1 {
		t.Fatalf("uploaded layer = %+v", v)
	}
}

func TestIngestKMLUploadsRawText(t *testing.T) {
	l := &fakeLayers{}
	w := New(l, &fakeGeocoder{})
	out, err := w.Ingest(context.Background(), "p1", "pontos.kml", []byte(sampleKML), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if out.LayerID != "layer-1" || out.Rows != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(l.uploads) != 1 || string(l.uploads[0].content) != sampleKML || l.uploads[0].fileName != "pontos.kml" {
		t.Fatalf("uploads = %+v", l.uploads)
	}
}

func TestIngestInvalidKML(t *testing.T) {
	w := New(&fakeLayers{}, &fakeGeocoder{})
	_, err := w.Ingest(context.Background(), "p1", "a.kml", []byte("<kml></kml>"), nil)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestIngestCSV(t *testing.T) {
	l := &fakeLayers{}
	g := &fakeGeocoder{}
	var progress []int
	w := New(l, g, WithProgress(func(projectID string, done, total int) {
		if projectID != "p1" {
			t.Errorf("progress for %q", projectID)
		}
		progress = append(progress, done)
	}))

	csv := "Nome,Endereço,Cidade,Qtd\r\n" +
		"Painel 1, Rua A ,São Paulo,3\n" +
		"\n" +
		"Painel 2,unknown,Rio,1\n" +
		"Painel 3,Rua C,Santos,7\n"
	out, err := w.Ingest(context.Background(), "p1", "campanha.csv", []byte(csv), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if out.Rows != 3 || out.Geocoded != 2 || out.Failed != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	wantMapping := map[string]geocode.ColumnType{"Nome": geocode.ColumnLabel, "Endereço": geocode.ColumnAddress, "Cidade": geocode.ColumnCity}
	if diff := cmp.Diff(wantMapping, out.Mapping); diff != "" {
		t.Fatalf("mapping (-want +got):\n%s", diff)
	}
	if g.got[0].Address != "Rua A" || g.got[0].City != "São Paulo" || g.got[0].Label != "Painel 1" {
		t.Fatalf("first address = %+v", g.got[0])
	}
	if diff := cmp.Diff([]int{1, 2, 3}, progress); diff != "" {
		t.Fatalf("progress (-want +got):\n%s", diff)
	}

	if len(l.uploads) != 1 || l.uploads[0].fileName != "campanha" {
		t.Fatalf("uploads = %+v", l.uploads)
	}
	fc, err := kml.Parse(l.uploads[0].content)
	if err != nil {
		t.Fatalf("uploaded KML does not parse: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d, want 2", len(fc.Features))
	}
	props := fc.Features[1].Properties
	if props["name"] != "Painel 3" || props["Qtd"] != "7" || props["address"] != "Rua C" {
		t.Fatalf("properties = %v", props)
	}
	if !strings.Contains(string(l.uploads[0].content), "<name>campanha</name>") {
		t.Fatal("layer name not set from file name")
	}
}

func TestIngestStaticMapping(t *testing.T) {
	g := &fakeGeocoder{}
	w := New(&fakeLayers{}, g)
	csv := "col1,col2\nRua X,Curitiba\n"
	confirm := StaticConfirm{"col1": geocode.ColumnAddress, "col2": geocode.ColumnCity}
	if _, err := w.Ingest(context.Background(), "p1", "a.csv", []byte(csv), confirm); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if g.got[0].Address != "Rua X" || g.got[0].City != "Curitiba" {
		t.Fatalf("address = %+v", g.got[0])
	}
}

type refuse struct{}

func (refuse) Confirm(context.Context, Preview) (map[string]geocode.ColumnType, error) {
	return nil, errors.New("cancelled by user")
}

func TestIngestConfirmerCancels(t *testing.T) {
	l := &fakeLayers{}
	w := New(l, &fakeGeocoder{})
	if _, err := w.Ingest(context.Background(), "p1", "a.csv", []byte("Endereço\nRua\n"), refuse{}); err == nil {
		t.Fatal("expected error")
	}
	if len(l.uploads) != 0 {
		t.Fatal("uploaded after cancelled confirmation")
	}
}

func TestIngestLimits(t *testing.T) {
	w := New(&fakeLayers{}, &fakeGeocoder{}, WithMaxFileSize(16), WithMaxRows(2))
	ctx := context.Background()

	if _, err := w.Ingest(ctx, "p1", "a.csv", []byte(strings.Repeat("x", 17)), nil); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("size: err = %v", err)
	}
	if _, err := w.Ingest(ctx, "p1", "a.csv", []byte("h\n1\n2\n3"), nil); !errors.Is(err, ErrTooManyRows) {
		t.Fatalf("rows: err = %v", err)
	}
	if _, err := w.Ingest(ctx, "p1", "a.csv", []byte("h\n1\n2"), nil); errors.Is(err, ErrTooManyRows) {
		t.Fatal("header counted as a row")
	}
	if _, err := w.Ingest(ctx, "p1", "a.csv", []byte(" \n"), nil); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("empty: err = %v", err)
	}

	var uErr *UnsupportedFileTypeError
	if _, err := w.Ingest(ctx, "p1", "a.xls", []byte("x"), nil); !errors.As(err, &uErr) || uErr.Ext != "xls" {
		t.Fatalf("xls: err = %v", err)
	}
	if _, err := w.Ingest(ctx, "p1", "a.pdf", []byte("x"), nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("pdf: err = %v", err)
	}
}

func TestIngestNothingGeocoded(t *testing.T) {
	w := New(&fakeLayers{}, &fakeGeocoder{})
	_, err := w.Ingest(context.Background(), "p1", "a.csv", []byte("Endereço\nunknown\n"), nil)
	if !errors.Is(err, ErrNoPoints) {
		t.Fatalf("err = %v, want ErrNoPoints", err)
	}
}

func TestIngestXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &[]any{"Nome", "Endereço"}); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow(sheet, "A2", &[]any{"Ponto", "Av. Brasil"}); err != nil {
		t.Fatal(err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	l := &fakeLayers{}
	g := &fakeGeocoder{}
	out, err := New(l, g).Ingest(context.Background(), "p1", "planilha.xlsx", buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if out.Geocoded != 1 || g.got[0].Address != "Av. Brasil" || l.uploads[0].fileName != "planilha" {
		t.Fatalf("outcome = %+v, addresses = %+v", out, g.got)
	}
}
