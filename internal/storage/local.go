package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const localSchemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	parent_id   TEXT NOT NULL DEFAULT '',
	is_folder   INTEGER NOT NULL DEFAULT 0,
	mime_type   TEXT NOT NULL DEFAULT '',
	size        INTEGER NOT NULL DEFAULT 0,
	modified_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_parent ON entries(parent_id, name);
`

// Local is a disk Backend: a SQLite catalog of folders and files plus one
// blob per file under <root>/blobs.
type Local struct {
	conn  *sql.DB
	blobs *blobDir
}

// OpenLocal opens (or creates) a local store rooted at dir.
func OpenLocal(dir string) (*Local, error) {
	blobs, err := newBlobDir(filepath.Join(dir, "blobs"))
	if err != nil {
		return nil, err
	}
	dsn := filepath.Join(dir, "catalog.db")
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("storage: open catalog: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping catalog: %w", err)
	}
	if _, err := conn.Exec(localSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &Local{conn: conn, blobs: blobs}, nil
}

// Close closes the catalog.
func (l *Local) Close() error {
	return l.conn.Close()
}

func (l *Local) findEntry(ctx context.Context, name, parentID string, folder bool) (string, bool, error) {
	var id string
	err := l.conn.QueryRowContext(ctx,
		`SELECT id FROM entries WHERE name = ? AND parent_id = ? AND is_folder = ? ORDER BY modified_at LIMIT 1`,
		name, parentID, folder).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: find %s: %w", name, err)
	}
	return id, true, nil
}

func (l *Local) FindFolder(ctx context.Context, name, parentID string) (string, bool, error) {
	return l.findEntry(ctx, name, parentID, true)
}

func (l *Local) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	id := uuid.NewString()
	_, err := l.conn.ExecContext(ctx,
		`INSERT INTO entries (id, name, parent_id, is_folder, mime_type, modified_at) VALUES (?, ?, ?, 1, ?, ?)`,
		id, name, parentID, FolderMimeType, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("storage: create folder %s: %w", name, err)
	}
	return id, nil
}

func (l *Local) ListFiles(ctx context.Context, folderID string) ([]FileDescriptor, error) {
	rows, err := l.conn.QueryContext(ctx,
		`SELECT id, name, mime_type, size, modified_at FROM entries WHERE parent_id = ? AND is_folder = 0`, folderID)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", folderID, err)
	}
	defer rows.Close()

	var out []FileDescriptor
	for rows.Next() {
		var (
			fd       FileDescriptor
			modified int64
		)
		if err := rows.Scan(&fd.ID, &fd.Name, &fd.MimeType, &fd.Size, &modified); err != nil {
			return nil, fmt.Errorf("storage: scan: %w", err)
		}
		fd.ModifiedTime = time.Unix(0, modified).UTC()
		out = append(out, fd)
	}
	return out, rows.Err()
}

func (l *Local) FindFile(ctx context.Context, folderID, name string) (string, bool, error) {
	return l.findEntry(ctx, name, folderID, false)
}

func (l *Local) CreateFile(ctx context.Context, folderID, name, mimeType string, content []byte) (*FileDescriptor, error) {
	var isFolder bool
	err := l.conn.QueryRowContext(ctx, `SELECT is_folder FROM entries WHERE id = ?`, folderID).Scan(&isFolder)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !isFolder) {
		return nil, notFound("folder", folderID)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: stat folder %s: %w", folderID, err)
	}

	id := uuid.NewString()
	if err := l.blobs.write(id, content); err != nil {
		return nil, err
	}
	now := time.Now()
	_, err = l.conn.ExecContext(ctx,
		`INSERT INTO entries (id, name, parent_id, is_folder, mime_type, size, modified_at) VALUES (?, ?, ?, 0, ?, ?, ?)`,
		id, name, folderID, mimeType, len(content), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("storage: insert %s: %w", name, err)
	}
	return &FileDescriptor{ID: id, Name: name, MimeType: mimeType, Size: int64(len(content)), ModifiedTime: now.UTC()}, nil
}

func (l *Local) UpdateContent(ctx context.Context, fileID, mimeType string, content []byte) error {
	if _, err := l.Stat(ctx, fileID); err != nil {
		return err
	}
	if err := l.blobs.write(fileID, content); err != nil {
		return err
	}
	_, err := l.conn.ExecContext(ctx,
		`UPDATE entries SET mime_type = ?, size = ?, modified_at = ? WHERE id = ?`,
		mimeType, len(content), time.Now().UnixNano(), fileID)
	if err != nil {
		return fmt.Errorf("storage: update %s: %w", fileID, err)
	}
	return nil
}

func (l *Local) Rename(ctx context.Context, fileID, name string) (*FileDescriptor, error) {
	res, err := l.conn.ExecContext(ctx,
		`UPDATE entries SET name = ?, modified_at = ? WHERE id = ? AND is_folder = 0`,
		name, time.Now().UnixNano(), fileID)
	if err != nil {
		return nil, fmt.Errorf("storage: rename %s: %w", fileID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, notFound("file", fileID)
	}
	return l.Stat(ctx, fileID)
}

func (l *Local) Stat(ctx context.Context, fileID string) (*FileDescriptor, error) {
	var (
		fd       FileDescriptor
		modified int64
	)
	err := l.conn.QueryRowContext(ctx,
		`SELECT id, name, parent_id, mime_type, size, modified_at FROM entries WHERE id = ?`, fileID).
		Scan(&fd.ID, &fd.Name, &fd.ParentID, &fd.MimeType, &fd.Size, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("file", fileID)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", fileID, err)
	}
	fd.ModifiedTime = time.Unix(0, modified).UTC()
	return &fd, nil
}

func (l *Local) Read(ctx context.Context, fileID string) ([]byte, error) {
	if _, err := l.Stat(ctx, fileID); err != nil {
		return nil, err
	}
	return l.blobs.read(fileID)
}
