package storage

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"
)

// Store applies layer file rules on top of a Backend.
type Store struct {
	backend Backend
	marker  string
	folders singleflight.Group
}

// NewStore wraps backend. An empty marker selects DefaultMarker.
func NewStore(backend Backend, deletedMarker string) *Store {
	if deletedMarker == "" {
		deletedMarker = DefaultMarker
	}
	return &Store{backend: backend, marker: deletedMarker}
}

// DeletedMarker returns the soft-delete marker in use.
func (s *Store) DeletedMarker() string { return s.marker }

// GetOrCreateFolder returns the id of the folder named name under parentID,
// creating it when absent. Concurrent calls in this process for the same
// folder share one lookup; callers in other processes may still race.
func (s *Store) GetOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	v, err, _ := s.folders.Do(parentID+"/"+name, func() (any, error) {
		id, ok, err := s.backend.FindFolder(ctx, name, parentID)
		if err != nil {
			return "", opError("find folder", err)
		}
		if ok {
			return id, nil
		}
		id, err = s.backend.CreateFolder(ctx, name, parentID)
		if err != nil {
			return "", opError("create folder", err)
		}
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ListActiveFiles returns the KML files of a folder that are not soft-deleted,
// sorted by name.
func (s *Store) ListActiveFiles(ctx context.Context, folderID string) ([]FileDescriptor, error) {
	all, err := s.backend.ListFiles(ctx, folderID)
	if err != nil {
		return nil, opError("list files", err)
	}
	out := make([]FileDescriptor, 0, len(all))
	for _, f := range all {
		if !isKML(f) || strings.Contains(f.Name, s.marker) {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func isKML(f FileDescriptor) bool {
	return strings.HasSuffix(strings.ToLower(f.Name), KMLExtension) || f.MimeType == KMLMimeType
}

// LayerFile returns the descriptor of fileID if it is a KML file directly
// inside folderID. Any other file, including side-cars and files of other
// folders, is reported as not found.
func (s *Store) LayerFile(ctx context.Context, folderID, fileID string) (*FileDescriptor, error) {
	fd, err := s.backend.Stat(ctx, fileID)
	if err != nil {
		return nil, opError("stat", err)
	}
	if fd.ParentID != folderID || !isKML(*fd) {
		return nil, opError("stat", notFound("layer file", fileID))
	}
	return fd, nil
}

// UploadFile stores KML content under a sanitized name with a .kml extension.
func (s *Store) UploadFile(ctx context.Context, folderID, name string, content []byte) (*FileDescriptor, error) {
	fd, err := s.backend.CreateFile(ctx, folderID, LayerFileName(name), KMLMimeType, content)
	if err != nil {
		return nil, opError("upload", err)
	}
	return fd, nil
}

// RenameFile renames a layer file, applying the same naming rules as upload.
func (s *Store) RenameFile(ctx context.Context, fileID, newName string) (*FileDescriptor, error) {
	fd, err := s.backend.Rename(ctx, fileID, LayerFileName(newName))
	if err != nil {
		return nil, opError("rename", err)
	}
	return fd, nil
}

// SoftDelete marks a file as deleted by renaming it. Marking an already
// marked file is a no-op.
func (s *Store) SoftDelete(ctx context.Context, fileID string) (*FileDescriptor, error) {
	fd, err := s.backend.Stat(ctx, fileID)
	if err != nil {
		return nil, opError("stat", err)
	}
	if strings.Contains(fd.Name, s.marker) {
		return fd, nil
	}
	fd, err = s.backend.Rename(ctx, fileID, DeletedName(fd.Name, s.marker))
	if err != nil {
		return nil, opError("soft delete", err)
	}
	return fd, nil
}

// ReadFile returns the content of a file.
func (s *Store) ReadFile(ctx context.Context, fileID string) ([]byte, error) {
	data, err := s.backend.Read(ctx, fileID)
	if err != nil {
		return nil, opError("read", err)
	}
	return data, nil
}

// ReadNamed returns the content of the file called name in folderID.
// found is false when no such file exists.
func (s *Store) ReadNamed(ctx context.Context, folderID, name string) (data []byte, found bool, err error) {
	id, ok, err := s.backend.FindFile(ctx, folderID, name)
	if err != nil {
		return nil, false, opError("find file", err)
	}
	if !ok {
		return nil, false, nil
	}
	data, err = s.backend.Read(ctx, id)
	if err != nil {
		return nil, false, opError("read", err)
	}
	return data, true, nil
}

// WriteNamed creates or overwrites the file called name in folderID. The
// name is used verbatim.
func (s *Store) WriteNamed(ctx context.Context, folderID, name, mimeType string, content []byte) error {
	id, ok, err := s.backend.FindFile(ctx, folderID, name)
	if err != nil {
		return opError("find file", err)
	}
	if ok {
		if err := s.backend.UpdateContent(ctx, id, mimeType, content); err != nil {
			return opError("update", err)
		}
		return nil
	}
	if _, err := s.backend.CreateFile(ctx, folderID, name, mimeType, content); err != nil {
		return opError("create", err)
	}
	return nil
}
