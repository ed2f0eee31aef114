package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const driveFileFields = "id, name, parents, mimeType, size, modifiedTime, webContentLink"

// Drive is a Backend on the Google Drive v3 API. Shared drives are supported.
type Drive struct {
	files *drive.FilesService
}

// NewDrive creates a Drive backend. credentialsFile may be empty to use
// application default credentials; extra options are passed to the client.
func NewDrive(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*Drive, error) {
	all := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	if credentialsFile != "" {
		all = append(all, option.WithCredentialsFile(credentialsFile))
	}
	all = append(all, opts...)
	srv, err := drive.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("storage: drive client: %w", err)
	}
	return &Drive{files: srv.Files}, nil
}

func quoteQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, `'`, `\'`) + "'"
}

func toDescriptor(f *drive.File) *FileDescriptor {
	fd := &FileDescriptor{
		ID:         f.Id,
		Name:       f.Name,
		MimeType:   f.MimeType,
		Size:       f.Size,
		ContentURL: f.WebContentLink,
	}
	if len(f.Parents) > 0 {
		fd.ParentID = f.Parents[0]
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		fd.ModifiedTime = t
	}
	return fd
}

func (d *Drive) findOne(ctx context.Context, q string) (string, bool, error) {
	list, err := d.files.List().
		Q(q).
		Fields("files(id, name)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", false, err
	}
	if len(list.Files) == 0 {
		return "", false, nil
	}
	return list.Files[0].Id, true, nil
}

func (d *Drive) FindFolder(ctx context.Context, name, parentID string) (string, bool, error) {
	q := fmt.Sprintf("name = %s and mimeType = %s and trashed = false", quoteQuery(name), quoteQuery(FolderMimeType))
	if parentID != "" {
		q += fmt.Sprintf(" and %s in parents", quoteQuery(parentID))
	}
	return d.findOne(ctx, q)
}

func (d *Drive) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	meta := &drive.File{Name: name, MimeType: FolderMimeType}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}
	f, err := d.files.Create(meta).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

func (d *Drive) ListFiles(ctx context.Context, folderID string) ([]FileDescriptor, error) {
	q := fmt.Sprintf("%s in parents and trashed = false and mimeType != %s", quoteQuery(folderID), quoteQuery(FolderMimeType))
	var out []FileDescriptor
	err := d.files.List().
		Q(q).
		Fields(googleapi.Field("nextPageToken, files(" + driveFileFields + ")")).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				out = append(out, *toDescriptor(f))
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Drive) FindFile(ctx context.Context, folderID, name string) (string, bool, error) {
	q := fmt.Sprintf("name = %s and %s in parents and trashed = false", quoteQuery(name), quoteQuery(folderID))
	return d.findOne(ctx, q)
}

func (d *Drive) CreateFile(ctx context.Context, folderID, name, mimeType string, content []byte) (*FileDescriptor, error) {
	meta := &drive.File{Name: name, MimeType: mimeType, Parents: []string{folderID}}
	f, err := d.files.Create(meta).
		Media(bytes.NewReader(content), googleapi.ContentType(mimeType)).
		Fields(driveFileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	return toDescriptor(f), nil
}

func (d *Drive) UpdateContent(ctx context.Context, fileID, mimeType string, content []byte) error {
	_, err := d.files.Update(fileID, &drive.File{}).
		Media(bytes.NewReader(content), googleapi.ContentType(mimeType)).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	return err
}

func (d *Drive) Rename(ctx context.Context, fileID, name string) (*FileDescriptor, error) {
	f, err := d.files.Update(fileID, &drive.File{Name: name}).
		Fields(driveFileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	return toDescriptor(f), nil
}

func (d *Drive) Stat(ctx context.Context, fileID string) (*FileDescriptor, error) {
	f, err := d.files.Get(fileID).Fields(driveFileFields).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return toDescriptor(f), nil
}

func (d *Drive) Read(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := d.files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: drive read %s: %w", fileID, err)
	}
	return data, nil
}
