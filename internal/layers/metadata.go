// Package layers implements the layer lifecycle: KML files in a project
// folder plus a side-car metadata document holding their style.
package layers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/oohmap/internal/apperr"
	"github.com/starford/oohmap/internal/checksum"
	"github.com/starford/oohmap/internal/storage"
)

// Layer style defaults applied when a file has no metadata entry.
const (
	DefaultMetadataFile = ".metadata.json"
	DefaultColor        = "#e74c3c"
	DefaultIcon         = "pin"
	DefaultOpacity      = 1.0
)

var (
	ErrLayerMetadataNotFound = fmt.Errorf("layer metadata not found: %w", apperr.ErrNotFound)
	// ErrConcurrentModification is returned when the metadata document
	// changed between read and write. Only raised in optimistic mode.
	ErrConcurrentModification = fmt.Errorf("layer metadata modified concurrently: %w", apperr.ErrConflict)
)

// ProjectRef identifies the project a document belongs to.
type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Entry is the metadata of one layer, keyed by file id in Document.Layers.
type Entry struct {
	Name       string   `json:"name"`
	Color      string   `json:"color,omitempty"`
	Icon       string   `json:"icon,omitempty"`
	Visible    *bool    `json:"visible,omitempty"`
	Opacity    *float64 `json:"opacity,omitempty"`
	PointCount int      `json:"pointCount,omitempty"`
	File       string   `json:"file,omitempty"`
	Created    string   `json:"created,omitempty"`
}

// Document is the side-car metadata file of a project folder.
type Document struct {
	Project ProjectRef        `json:"project"`
	Layers  map[string]*Entry `json:"layers"`
}

// NewDocument returns an empty document for a project.
func NewDocument(projectID, projectName string) *Document {
	return &Document{
		Project: ProjectRef{ID: projectID, Name: projectName},
		Layers:  map[string]*Entry{},
	}
}

// namedFiles is the part of storage.Store the metadata store needs.
type namedFiles interface {
	ReadNamed(ctx context.Context, folderID, name string) ([]byte, bool, error)
	WriteNamed(ctx context.Context, folderID, name, mimeType string, content []byte) error
}

// MetadataStore reads and writes the metadata document of a folder.
type MetadataStore struct {
	files      namedFiles
	name       string
	optimistic bool
	logger     *slog.Logger
}

// MetadataOption configures a MetadataStore.
type MetadataOption func(*MetadataStore)

// WithFileName overrides DefaultMetadataFile.
func WithFileName(name string) MetadataOption {
	return func(m *MetadataStore) {
		if name != "" {
			m.name = name
		}
	}
}

// WithOptimisticWrites makes Update fail with ErrConcurrentModification
// when the stored document changed while the mutation ran.
func WithOptimisticWrites(enabled bool) MetadataOption {
	return func(m *MetadataStore) { m.optimistic = enabled }
}

// WithMetadataLogger sets the logger used for unreadable documents.
func WithMetadataLogger(l *slog.Logger) MetadataOption {
	return func(m *MetadataStore) { m.logger = l }
}

// NewMetadataStore creates a MetadataStore over files.
func NewMetadataStore(files namedFiles, opts ...MetadataOption) *MetadataStore {
	m := &MetadataStore{files: files, name: DefaultMetadataFile, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ namedFiles = (*storage.Store)(nil)

// Read returns the folder's document, or nil when it is missing or cannot
// be read or decoded. Failures are logged.
func (m *MetadataStore) Read(ctx context.Context, folderID string) *Document {
	doc, _ := m.read(ctx, folderID)
	return doc
}

// read also returns the checksum of the raw content ("" when absent).
func (m *MetadataStore) read(ctx context.Context, folderID string) (*Document, string) {
	data, found, err := m.files.ReadNamed(ctx, folderID, m.name)
	if err != nil {
		m.logger.Warn("layers: read metadata", slog.String("folder", folderID), slog.String("error", err.Error()))
		return nil, ""
	}
	if !found {
		return nil, ""
	}
	sum := checksum.Sum(data)
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		m.logger.Warn("layers: decode metadata", slog.String("folder", folderID), slog.String("error", err.Error()))
		return nil, sum
	}
	if doc.Layers == nil {
		doc.Layers = map[string]*Entry{}
	}
	return &doc, sum
}

// Write replaces the folder's document.
func (m *MetadataStore) Write(ctx context.Context, folderID string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("layers: encode metadata: %w", err)
	}
	if err := m.files.WriteNamed(ctx, folderID, m.name, storage.JSONMimeType, data); err != nil {
		return fmt.Errorf("layers: write metadata: %w", err)
	}
	return nil
}

// errSkipWrite lets a mutation end an Update without writing.
var errSkipWrite = errors.New("skip write")

// Update runs a read-modify-write cycle on the folder's document. mutate
// receives the current document (nil when there is none) and returns the
// document to store; returning errSkipWrite leaves the store untouched.
func (m *MetadataStore) Update(ctx context.Context, folderID string, mutate func(*Document) (*Document, error)) error {
	doc, sum := m.read(ctx, folderID)
	next, err := mutate(doc)
	if errors.Is(err, errSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.optimistic {
		if _, current := m.read(ctx, folderID); current != sum {
			return ErrConcurrentModification
		}
	}
	return m.Write(ctx, folderID, next)
}
