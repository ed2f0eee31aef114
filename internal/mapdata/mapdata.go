// Package mapdata serves the map points of a project or dataset, with
// responses cached for a fixed TTL.
package mapdata

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/oohmap/internal/cache"
	"github.com/starford/oohmap/internal/notion"
	"github.com/starford/oohmap/internal/points"
)

// DefaultTTL is how long map and table responses are cached.
const DefaultTTL = 300 * time.Second

// DatasetResolver finds the dataset owning a record.
type DatasetResolver interface {
	ResolveDataset(ctx context.Context, recordID string) (string, error)
}

// DatasetReader lists the records of a dataset.
type DatasetReader interface {
	QueryDataset(ctx context.Context, datasetID string) ([]notion.Page, error)
}

// ProjectNamer returns the display name of a project record.
type ProjectNamer interface {
	Name(ctx context.Context, projectID string) (string, error)
}

// MapData is the response for a project record.
type MapData struct {
	RecordID    string            `json:"recordId"`
	DatasetID   string            `json:"datasetId"`
	ProjectName string            `json:"projectName"`
	Points      []points.MapPoint `json:"points"`
	PointCount  int               `json:"pointCount"`
	Timestamp   int64             `json:"timestamp"`
}

// TableData is the response for a dataset read directly.
type TableData struct {
	TableID    string            `json:"tableId"`
	Points     []points.MapPoint `json:"points"`
	PointCount int               `json:"pointCount"`
	Timestamp  int64             `json:"timestamp"`
}

// Service assembles map data.
type Service struct {
	resolver   DatasetResolver
	reader     DatasetReader
	names      ProjectNamer
	normalizer *points.Normalizer
	cache      *cache.Store
	ttl        time.Duration
	now        func() time.Time
}

// NewService creates a Service. A nil cache disables caching; ttl <= 0
// selects DefaultTTL.
func NewService(resolver DatasetResolver, reader DatasetReader, names ProjectNamer, normalizer *points.Normalizer, c *cache.Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if c == nil {
		c = cache.NewStore(cache.NoOp{}, nil)
	}
	return &Service{
		resolver:   resolver,
		reader:     reader,
		names:      names,
		normalizer: normalizer,
		cache:      c,
		ttl:        ttl,
		now:        time.Now,
	}
}

// MapData returns the points of the dataset owning recordID. hit reports
// whether the response came from cache.
func (s *Service) MapData(ctx context.Context, recordID string) (_ *MapData, hit bool, err error) {
	id := notion.NormalizeID(notion.ExtractID(recordID))
	key := "map-data-" + id

	var cached MapData
	if s.cache.GetJSON(ctx, key, &cached) {
		return &cached, true, nil
	}

	datasetID, err := s.resolver.ResolveDataset(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("mapdata: resolve dataset: %w", err)
	}
	pts, err := s.points(ctx, datasetID)
	if err != nil {
		return nil, false, err
	}
	name, err := s.names.Name(ctx, id)
	if err != nil {
		return nil, false, err
	}

	out := &MapData{
		RecordID:    id,
		DatasetID:   datasetID,
		ProjectName: name,
		Points:      pts,
		PointCount:  len(pts),
		Timestamp:   s.now().UnixMilli(),
	}
	s.cache.SetJSON(ctx, key, out, s.ttl)
	return out, false, nil
}

// TableData returns the points of a dataset without walking parents.
func (s *Service) TableData(ctx context.Context, tableID string) (_ *TableData, hit bool, err error) {
	id := notion.NormalizeID(notion.ExtractID(tableID))
	key := "table-data-" + id

	var cached TableData
	if s.cache.GetJSON(ctx, key, &cached) {
		return &cached, true, nil
	}

	pts, err := s.points(ctx, id)
	if err != nil {
		return nil, false, err
	}
	out := &TableData{TableID: id, Points: pts, PointCount: len(pts), Timestamp: s.now().UnixMilli()}
	s.cache.SetJSON(ctx, key, out, s.ttl)
	return out, false, nil
}

func (s *Service) points(ctx context.Context, datasetID string) ([]points.MapPoint, error) {
	rows, err := s.reader.QueryDataset(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("mapdata: query dataset: %w", err)
	}
	pts := s.normalizer.Normalize(rows)
	if pts == nil {
		pts = []points.MapPoint{}
	}
	return pts, nil
}
