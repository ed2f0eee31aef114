package mapdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/oohmap/internal/apperr"
	"github.com/starford/oohmap/internal/cache"
	"github.com/starford/oohmap/internal/notion"
	"github.com/starford/oohmap/internal/points"
)

const (
	recordID  = "0123456789abcdef0123456789abcdef"
	dashedID  = "01234567-89ab-cdef-0123-456789abcdef"
	datasetID = "db-1"
)

func text(s string) notion.Property {
	return notion.Property{Type: notion.TypeRichText, RichText: []notion.RichText{{PlainText: s}}}
}

type fakeNotion struct {
	resolves int
	queries  int
	err      error
}

func (f *fakeNotion) ResolveDataset(_ context.Context, id string) (string, error) {
	f.resolves++
	if id != dashedID {
		return "", errors.New("unexpected id " + id)
	}
	return datasetID, f.err
}

func (f *fakeNotion) QueryDataset(_ context.Context, id string) ([]notion.Page, error) {
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	return []notion.Page{
		{ID: "r1", Properties: map[string]notion.Property{"Lat/long": text("-23.5,-46.6"), "Endereço": text("Rua A")}},
		{ID: "r2", Properties: map[string]notion.Property{"Endereço": text("sem coordenadas")}},
	}, nil
}

func (f *fakeNotion) Name(context.Context, string) (string, error) { return "Campanha", nil }

func newService(f *fakeNotion) *Service {
	c := cache.NewStore(cache.NewMemory(), nil)
	s := NewService(f, f, f, points.NewNormalizer(points.InclusionPolicy{}, nil), c, time.Minute)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return s
}

func TestMapDataCachesByNormalizedID(t *testing.T) {
	f := &fakeNotion{}
	s := newService(f)
	ctx := context.Background()

	got, hit, err := s.MapData(ctx, recordID)
	if err != nil {
		t.Fatalf("MapData: %v", err)
	}
	if hit {
		t.Fatal("first call reported a cache hit")
	}
	if got.RecordID != dashedID || got.DatasetID != datasetID || got.ProjectName != "Campanha" ||
		got.PointCount != 1 || got.Points[0].ID != "r1" || got.Timestamp != 1700000000000 {
		t.Fatalf("map data = %+v", got)
	}

	again, hit, err := s.MapData(ctx, "https://www.notion.so/Campanha-"+recordID+"?pvs=4")
	if err != nil {
		t.Fatal(err)
	}
	if !hit || again.PointCount != 1 {
		t.Fatalf("second call hit=%v data=%+v", hit, again)
	}
	if f.resolves != 1 || f.queries != 1 {
		t.Fatalf("upstream calls resolve=%d query=%d, want 1 each", f.resolves, f.queries)
	}
}

func TestTableData(t *testing.T) {
	f := &fakeNotion{}
	s := newService(f)
	got, hit, err := s.TableData(context.Background(), datasetID)
	if err != nil || hit {
		t.Fatalf("TableData: hit=%v err=%v", hit, err)
	}
	if got.TableID != datasetID || got.PointCount != 1 || f.resolves != 0 {
		t.Fatalf("table data = %+v, resolves = %d", got, f.resolves)
	}
	if _, hit, _ := s.TableData(context.Background(), datasetID); !hit {
		t.Fatal("second table read missed the cache")
	}
}

func TestMapDataPropagatesUpstreamErrors(t *testing.T) {
	upstream := &notion.UpstreamError{Op: "query", Status: 502, Body: "bad gateway"}
	s := newService(&fakeNotion{err: upstream})
	_, _, err := s.MapData(context.Background(), recordID)
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("err = %v, want upstream error", err)
	}
}
