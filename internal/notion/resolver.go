package notion

import (
	"context"
	"log/slog"
	"sort"
)

// Defaults for Resolver.
const (
	DefaultMaxParentHops        = 20
	DefaultTitle                = "Untitled Project"
	DefaultDatasetFallbackTitle = "Untitled Dataset"
)

// Fetcher is the subset of the API the resolver needs.
type Fetcher interface {
	GetPage(ctx context.Context, id string) (*Page, error)
	GetDatabase(ctx context.Context, id string) (*Database, error)
}

// Resolver walks parent chains and derives display titles.
type Resolver struct {
	api          Fetcher
	maxHops      int
	defaultTitle string
	datasetTitle string
	logger       *slog.Logger
}

// NewResolver creates a Resolver. maxHops <= 0 selects DefaultMaxParentHops;
// empty titles select the package defaults.
func NewResolver(api Fetcher, maxHops int, defaultTitle, datasetFallbackTitle string, logger *slog.Logger) *Resolver {
	if maxHops <= 0 {
		maxHops = DefaultMaxParentHops
	}
	if defaultTitle == "" {
		defaultTitle = DefaultTitle
	}
	if datasetFallbackTitle == "" {
		datasetFallbackTitle = DefaultDatasetFallbackTitle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		api:          api,
		maxHops:      maxHops,
		defaultTitle: defaultTitle,
		datasetTitle: datasetFallbackTitle,
		logger:       logger,
	}
}

// ResolveDataset follows parent links from recordID until a record whose
// parent is a dataset, and returns that dataset id. At most maxHops records
// are fetched.
func (r *Resolver) ResolveDataset(ctx context.Context, recordID string) (string, error) {
	current := recordID
	for hop := 0; hop < r.maxHops; hop++ {
		page, err := r.api.GetPage(ctx, current)
		if err != nil {
			return "", err
		}
		if page.Parent == nil || page.Parent.Type == "" {
			return "", ErrMissingParent
		}
		switch page.Parent.Type {
		case "database_id":
			return page.Parent.DatabaseID, nil
		case "page_id":
			current = page.Parent.PageID
		default:
			return "", &UnsupportedParentError{Kind: page.Parent.Type}
		}
	}
	return "", ErrParentChainTooDeep
}

// ResolveTitle returns the record's own title, or its dataset's title when
// the record has none, or the default title.
func (r *Resolver) ResolveTitle(ctx context.Context, recordID string) (string, error) {
	page, err := r.api.GetPage(ctx, recordID)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(page.Properties))
	for name := range page.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := page.Properties[name]
		if p.Type == TypeTitle && len(p.Title) > 0 && p.Title[0].PlainText != "" {
			return p.Title[0].PlainText, nil
		}
	}

	if page.Parent != nil && page.Parent.Type == "database_id" {
		db, err := r.api.GetDatabase(ctx, page.Parent.DatabaseID)
		if err != nil {
			r.logger.Warn("notion: dataset title lookup failed",
				slog.String("dataset_id", page.Parent.DatabaseID),
				slog.String("error", err.Error()))
			return r.datasetTitle, nil
		}
		if len(db.Title) > 0 && db.Title[0].PlainText != "" {
			return db.Title[0].PlainText, nil
		}
		return r.datasetTitle, nil
	}

	return r.defaultTitle, nil
}
