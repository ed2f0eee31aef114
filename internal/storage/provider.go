// Package storage is the cloud file store abstraction behind layer files.
// A Backend speaks to one substrate (Google Drive, local disk, memory); Store
// layers the naming, soft-delete and listing rules on top of it.
package storage

import (
	"context"
	"time"
)

// MIME types used by the store.
const (
	FolderMimeType   = "application/vnd.google-apps.folder"
	KMLMimeType      = "application/vnd.google-earth.kml+xml"
	JSONMimeType     = "application/json"
	DefaultMarker    = "_EXCLUIDO_"
	KMLExtension     = ".kml"
	maxFileNameBytes = 255
)

// FileDescriptor describes one stored file.
type FileDescriptor struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ParentID     string    `json:"parentId,omitempty"`
	MimeType     string    `json:"mimeType,omitempty"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modifiedTime"`
	ContentURL   string    `json:"contentUrl,omitempty"`
}

// Backend is a flat folder/file substrate addressed by opaque ids.
type Backend interface {
	// FindFolder returns the id of a non-trashed folder named name under parentID
	// (or at the root when parentID is empty).
	FindFolder(ctx context.Context, name, parentID string) (string, bool, error)
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
	// ListFiles returns every non-folder, non-trashed child of folderID.
	ListFiles(ctx context.Context, folderID string) ([]FileDescriptor, error)
	FindFile(ctx context.Context, folderID, name string) (string, bool, error)
	CreateFile(ctx context.Context, folderID, name, mimeType string, content []byte) (*FileDescriptor, error)
	UpdateContent(ctx context.Context, fileID, mimeType string, content []byte) error
	Rename(ctx context.Context, fileID, name string) (*FileDescriptor, error)
	Stat(ctx context.Context, fileID string) (*FileDescriptor, error)
	Read(ctx context.Context, fileID string) ([]byte, error)
}
