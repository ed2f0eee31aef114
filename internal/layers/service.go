package layers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/oohmap/internal/apperr"
	"github.com/starford/oohmap/internal/kml"
	"github.com/starford/oohmap/internal/project"
	"github.com/starford/oohmap/internal/storage"
)

// Layer event kinds passed to Events.
const (
	EventCreated  = "created"
	EventRenamed  = "renamed"
	EventDeleted  = "deleted"
	EventRestyled = "restyled"
)

// Projects resolves a project id to its folder.
type Projects interface {
	Resolve(ctx context.Context, projectID string) (*project.Project, error)
}

// Events receives layer changes after they are stored.
type Events interface {
	PublishLayerEvent(kind, projectID, layerID string)
}

// Layer is one active layer as listed to clients.
type Layer struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	FileName     string    `json:"fileName"`
	KMLURL       string    `json:"kmlUrl"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Color        string    `json:"color"`
	Icon         string    `json:"icon"`
	Visible      bool      `json:"visible"`
	Opacity      float64   `json:"opacity"`
	PointCount   int       `json:"pointCount"`
}

// Listing is the result of List.
type Listing struct {
	ProjectID   string  `json:"projectId"`
	ProjectName string  `json:"projectName"`
	FolderID    string  `json:"folderId"`
	Layers      []Layer `json:"layers"`
	LayerCount  int     `json:"layerCount"`
}

// Uploaded is the result of Upload.
type Uploaded struct {
	LayerID  string `json:"layerId"`
	FileName string `json:"fileName"`
}

// Service implements the layer lifecycle of a project.
type Service struct {
	projects Projects
	files    *storage.Store
	meta     *MetadataStore
	events   Events
	observe  func(op string, err error)
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes layer changes to e.
func WithEvents(e Events) Option {
	return func(s *Service) { s.events = e }
}

// WithObserver calls fn after every operation with its outcome.
func WithObserver(fn func(op string, err error)) Option {
	return func(s *Service) { s.observe = fn }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a layer service.
func NewService(projects Projects, files *storage.Store, meta *MetadataStore, opts ...Option) *Service {
	s := &Service{
		projects: projects,
		files:    files,
		meta:     meta,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) done(op string, err error) {
	if s.observe != nil {
		s.observe(op, err)
	}
}

func (s *Service) publish(kind, projectID, layerID string) {
	if s.events != nil {
		s.events.PublishLayerEvent(kind, projectID, layerID)
	}
}

// List returns the active layers of a project merged with their metadata.
// Files without metadata get default style; metadata without an active file
// is ignored.
func (s *Service) List(ctx context.Context, projectID string) (_ *Listing, err error) {
	defer func() { s.done("list", err) }()

	p, err := s.projects.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	files, err := s.files.ListActiveFiles(ctx, p.FolderID)
	if err != nil {
		return nil, fmt.Errorf("layers: list: %w", err)
	}
	doc := s.meta.Read(ctx, p.FolderID)

	out := &Listing{
		ProjectID:   p.ID,
		ProjectName: p.Name,
		FolderID:    p.FolderID,
		Layers:      make([]Layer, 0, len(files)),
	}
	for _, f := range files {
		var entry *Entry
		if doc != nil {
			entry = doc.Layers[f.ID]
		}
		out.Layers = append(out.Layers, merge(f, entry))
	}
	out.LayerCount = len(out.Layers)
	return out, nil
}

func merge(f storage.FileDescriptor, e *Entry) Layer {
	l := Layer{
		ID:           f.ID,
		Name:         storage.DisplayName(f.Name),
		FileName:     f.Name,
		KMLURL:       f.ContentURL,
		Size:         f.Size,
		ModifiedTime: f.ModifiedTime,
		Color:        DefaultColor,
		Icon:         DefaultIcon,
		Visible:      true,
		Opacity:      DefaultOpacity,
	}
	if e == nil {
		return l
	}
	if e.Name != "" {
		l.Name = e.Name
	}
	if e.Color != "" {
		l.Color = e.Color
	}
	if e.Icon != "" {
		l.Icon = e.Icon
	}
	if e.Visible != nil {
		l.Visible = *e.Visible
	}
	if e.Opacity != nil {
		l.Opacity = *e.Opacity
	}
	l.PointCount = e.PointCount
	return l
}

// Upload stores a KML file in the project folder and records a metadata
// entry with default style. The file is not removed if the metadata write
// fails.
func (s *Service) Upload(ctx context.Context, projectID, fileName string, content []byte) (_ *Uploaded, err error) {
	defer func() { s.done("upload", err) }()

	p, err := s.projects.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	fd, err := s.files.UploadFile(ctx, p.FolderID, fileName, content)
	if err != nil {
		return nil, fmt.Errorf("layers: upload: %w", err)
	}

	visible, opacity := true, DefaultOpacity
	entry := &Entry{
		Name:       storage.TrimKMLExtension(fileName),
		Color:      DefaultColor,
		Icon:       DefaultIcon,
		Visible:    &visible,
		Opacity:    &opacity,
		PointCount: kml.CountPlacemarks(content),
		File:       fd.Name,
		Created:    s.now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	err = s.meta.Update(ctx, p.FolderID, func(doc *Document) (*Document, error) {
		if doc == nil {
			doc = NewDocument(p.ID, p.Name)
		}
		doc.Layers[fd.ID] = entry
		return doc, nil
	})
	if err != nil {
		s.logger.Error("layers: metadata not written for uploaded file",
			slog.String("file_id", fd.ID), slog.String("error", err.Error()))
		return nil, err
	}

	s.publish(EventCreated, p.ID, fd.ID)
	return &Uploaded{LayerID: fd.ID, FileName: fd.Name}, nil
}

// Manage applies a rename, soft delete or style change to a layer and
// returns a human-readable outcome.
func (s *Service) Manage(ctx context.Context, action Action, projectID, layerID string, params ManageParams) (_ string, err error) {
	defer func() { s.done(string(action), err) }()

	if action == ActionRename && strings.TrimSpace(params.NewName) == "" {
		return "", fmt.Errorf("layers: newName is required for rename: %w", apperr.ErrValidation)
	}
	if _, err := ParseAction(string(action)); err != nil {
		return "", err
	}

	p, err := s.projects.Resolve(ctx, projectID)
	if err != nil {
		return "", err
	}
	if _, err := s.files.LayerFile(ctx, p.FolderID, layerID); err != nil {
		return "", fmt.Errorf("layers: %s: %w", action, err)
	}

	switch action {
	case ActionRename:
		if _, err := s.files.RenameFile(ctx, layerID, params.NewName); err != nil {
			return "", fmt.Errorf("layers: rename: %w", err)
		}
		err := s.meta.Update(ctx, p.FolderID, func(doc *Document) (*Document, error) {
			if doc == nil || doc.Layers[layerID] == nil {
				return nil, errSkipWrite
			}
			doc.Layers[layerID].Name = params.NewName
			return doc, nil
		})
		if err != nil {
			return "", err
		}
		s.publish(EventRenamed, p.ID, layerID)
		return "Layer renamed", nil

	case ActionDelete:
		if _, err := s.files.SoftDelete(ctx, layerID); err != nil {
			return "", fmt.Errorf("layers: delete: %w", err)
		}
		s.publish(EventDeleted, p.ID, layerID)
		return "Layer deleted", nil

	case ActionUpdateStyle:
		err := s.meta.Update(ctx, p.FolderID, func(doc *Document) (*Document, error) {
			if doc == nil || doc.Layers[layerID] == nil {
				return nil, ErrLayerMetadataNotFound
			}
			if params.Color != "" {
				doc.Layers[layerID].Color = params.Color
			}
			if params.Icon != "" {
				doc.Layers[layerID].Icon = params.Icon
			}
			return doc, nil
		})
		if err != nil {
			return "", err
		}
		s.publish(EventRestyled, p.ID, layerID)
		return "Layer style updated", nil
	}
	return "", &InvalidActionError{Action: string(action)}
}

// ReadKML returns the raw content of a layer file of the project.
func (s *Service) ReadKML(ctx context.Context, projectID, layerID string) ([]byte, error) {
	p, err := s.projects.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := s.files.LayerFile(ctx, p.FolderID, layerID); err != nil {
		return nil, fmt.Errorf("layers: read: %w", err)
	}
	data, err := s.files.ReadFile(ctx, layerID)
	if err != nil {
		return nil, fmt.Errorf("layers: read: %w", err)
	}
	return data, nil
}
