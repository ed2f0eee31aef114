package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/starford/oohmap/internal/cache"
	"github.com/starford/oohmap/internal/geocode"
	"github.com/starford/oohmap/internal/layers"
	"github.com/starford/oohmap/internal/mapdata"
	"github.com/starford/oohmap/internal/metrics"
	"github.com/starford/oohmap/internal/notion"
	"github.com/starford/oohmap/internal/points"
	"github.com/starford/oohmap/internal/project"
	"github.com/starford/oohmap/internal/storage"
	"github.com/starford/oohmap/internal/wizard"
)

// services holds the wired domain layer shared by the HTTP and MCP servers.
type services struct {
	maps     *mapdata.Service
	projects *project.Directory
	layers   *layers.Service
	geocoder *geocode.Service
	wizard   *wizard.Wizard

	closers []func() error
}

// hooks connects the services to the process-level observers.
type hooks struct {
	metrics  *metrics.Metrics
	events   layers.Events
	progress func(projectID string, done, total int)
}

// setup applies the options and installs the JSON logger.
func setup(opts []Option, defaultOutput io.Writer) (*Config, *slog.Logger, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	out := app.logOutput
	if out == nil {
		out = defaultOutput
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return app.config, logger, nil
}

func buildServices(ctx context.Context, cfg *Config, logger *slog.Logger, h hooks) (*services, error) {
	s := &services{}

	cacheBackend, err := cache.Open(ctx, cfg.Cache.backendConfig())
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	responses := cache.NewStore(cacheBackend, logger, cache.WithLookupHook(h.metrics.RecordCacheLookup))
	s.closers = append(s.closers, responses.Close)

	fileBackend, err := storage.Open(ctx, cfg.Storage.backendConfig())
	if err != nil {
		_ = s.close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if c, ok := fileBackend.(io.Closer); ok {
		s.closers = append(s.closers, c.Close)
	}
	files := storage.NewStore(fileBackend, cfg.Storage.DeletedMarker)

	client := notion.NewClient(cfg.Notion.Token,
		notion.WithBaseURL(cfg.Notion.BaseURL),
		notion.WithAPIVersion(cfg.Notion.APIVersion),
		notion.WithPageSize(cfg.Notion.PageSize),
	)
	resolver := notion.NewResolver(client, cfg.Notion.MaxParentHops,
		cfg.Notion.DefaultTitle, cfg.Notion.DatasetFallbackTitle, logger)

	s.projects = project.NewDirectory(resolver, files, cfg.Storage.RootFolder,
		project.WithNameCache(responses, cfg.Cache.TTL))

	meta := layers.NewMetadataStore(files,
		layers.WithFileName(cfg.Storage.MetadataFile),
		layers.WithOptimisticWrites(cfg.Storage.OptimisticMetadata),
		layers.WithMetadataLogger(logger),
	)
	layerOpts := []layers.Option{
		layers.WithObserver(h.metrics.RecordLayerOperation),
		layers.WithLogger(logger),
	}
	if h.events != nil {
		layerOpts = append(layerOpts, layers.WithEvents(h.events))
	}
	s.layers = layers.NewService(s.projects, files, meta, layerOpts...)

	nominatim := geocode.NewNominatim(
		geocode.WithBaseURL(cfg.Geocoding.BaseURL),
		geocode.WithUserAgent(cfg.Geocoding.UserAgent),
		geocode.WithTimeout(cfg.Geocoding.Timeout),
	)
	s.geocoder = geocode.NewService(nominatim,
		geocode.WithMinInterval(cfg.Geocoding.MinInterval),
		geocode.WithBatchSize(cfg.Geocoding.BatchSize),
		geocode.WithDefaultCountry(cfg.Geocoding.DefaultCountry),
		geocode.WithLogger(logger),
		geocode.WithObserver(h.metrics.RecordGeocode),
		geocode.WithQueueDepth(h.metrics.SetGeocodeQueueDepth),
	)
	s.closers = append(s.closers, func() error {
		s.geocoder.Close()
		return nil
	})

	wizardOpts := []wizard.Option{
		wizard.WithMaxFileSize(cfg.Upload.MaxFileSize),
		wizard.WithMaxRows(cfg.Upload.MaxRows),
		wizard.WithLogger(logger),
	}
	if h.progress != nil {
		wizardOpts = append(wizardOpts, wizard.WithProgress(h.progress))
	}
	s.wizard = wizard.New(s.layers, s.geocoder, wizardOpts...)

	normalizer := points.NewNormalizer(points.InclusionPolicy{
		Enabled: cfg.Points.InclusionFilter,
		Field:   cfg.Points.InclusionField,
	}, logger)
	s.maps = mapdata.NewService(resolver, client, s.projects, normalizer, responses, cfg.Cache.TTL)

	return s, nil
}

// close releases the services in reverse order of creation.
func (s *services) close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func logConfig(logger *slog.Logger, cfg *Config) {
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("cache_backend", cfg.Cache.Backend),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("root_folder", cfg.Storage.RootFolder),
		slog.Bool("inbox_enabled", cfg.Inbox.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))
}
