// Package project maps a project record to its display name and its folder
// in the file store.
package project

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/oohmap/internal/cache"
	"github.com/starford/oohmap/internal/notion"
	"github.com/starford/oohmap/internal/storage"
)

// DefaultRootFolder is the top-level folder holding one folder per project.
const DefaultRootFolder = "Mapeamento_OOH"

// TitleResolver derives a display title for a record.
type TitleResolver interface {
	ResolveTitle(ctx context.Context, recordID string) (string, error)
}

// Project is a resolved project.
type Project struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FolderID string `json:"folderId"`
}

// Directory resolves projects. Names may be cached; folders are looked up
// (and created when missing) on every call.
type Directory struct {
	titles     TitleResolver
	store      *storage.Store
	rootFolder string
	names      *cache.Store
	nameTTL    time.Duration
}

// Option configures a Directory.
type Option func(*Directory)

// WithNameCache caches resolved project names for ttl.
func WithNameCache(c *cache.Store, ttl time.Duration) Option {
	return func(d *Directory) {
		d.names = c
		d.nameTTL = ttl
	}
}

// NewDirectory creates a Directory. An empty rootFolder selects DefaultRootFolder.
func NewDirectory(titles TitleResolver, store *storage.Store, rootFolder string, opts ...Option) *Directory {
	if rootFolder == "" {
		rootFolder = DefaultRootFolder
	}
	d := &Directory{titles: titles, store: store, rootFolder: rootFolder}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the display name of a project.
func (d *Directory) Name(ctx context.Context, projectID string) (string, error) {
	id := notion.NormalizeID(projectID)
	key := "project-name-" + id
	if d.names != nil {
		if v, ok := d.names.Get(ctx, key); ok {
			return string(v), nil
		}
	}
	name, err := d.titles.ResolveTitle(ctx, id)
	if err != nil {
		return "", fmt.Errorf("project: resolve name: %w", err)
	}
	if d.names != nil {
		d.names.Set(ctx, key, []byte(name), d.nameTTL)
	}
	return name, nil
}

// Resolve returns the project with its folder, creating the folder path
// <root>/<name> when missing.
func (d *Directory) Resolve(ctx context.Context, projectID string) (*Project, error) {
	name, err := d.Name(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rootID, err := d.store.GetOrCreateFolder(ctx, d.rootFolder, "")
	if err != nil {
		return nil, fmt.Errorf("project: root folder: %w", err)
	}
	folderID, err := d.store.GetOrCreateFolder(ctx, name, rootID)
	if err != nil {
		return nil, fmt.Errorf("project: folder %q: %w", name, err)
	}
	return &Project{ID: notion.NormalizeID(projectID), Name: name, FolderID: folderID}, nil
}
