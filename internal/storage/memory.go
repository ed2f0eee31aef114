package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memNode struct {
	id       string
	name     string
	parent   string
	folder   bool
	mimeType string
	content  []byte
	modified time.Time
}

// Memory is an in-process Backend used by tests and the "memory" storage mode.
type Memory struct {
	mu    sync.Mutex
	nodes map[string]*memNode
	last  time.Time
}

// NewMemory creates an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{nodes: make(map[string]*memNode)}
}

// tick returns a strictly increasing modification timestamp.
func (m *Memory) tick() time.Time {
	now := time.Now().UTC()
	if !now.After(m.last) {
		now = m.last.Add(time.Millisecond)
	}
	m.last = now
	return now
}

func (m *Memory) describe(n *memNode) *FileDescriptor {
	return &FileDescriptor{
		ID:           n.id,
		Name:         n.name,
		ParentID:     n.parent,
		MimeType:     n.mimeType,
		Size:         int64(len(n.content)),
		ModifiedTime: n.modified,
		ContentURL:   "memory://" + n.id,
	}
}

func (m *Memory) find(name, parentID string, folder bool) (string, bool) {
	for _, n := range m.nodes {
		if n.folder == folder && n.parent == parentID && n.name == name {
			return n.id, true
		}
	}
	return "", false
}

func (m *Memory) FindFolder(_ context.Context, name, parentID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.find(name, parentID, true)
	return id, ok, nil
}

func (m *Memory) CreateFolder(_ context.Context, name, parentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := &memNode{id: uuid.NewString(), name: name, parent: parentID, folder: true, mimeType: FolderMimeType, modified: m.tick()}
	m.nodes[n.id] = n
	return n.id, nil
}

func (m *Memory) ListFiles(_ context.Context, folderID string) ([]FileDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FileDescriptor
	for _, n := range m.nodes {
		if !n.folder && n.parent == folderID {
			out = append(out, *m.describe(n))
		}
	}
	return out, nil
}

func (m *Memory) FindFile(_ context.Context, folderID, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.find(name, folderID, false)
	return id, ok, nil
}

func (m *Memory) CreateFile(_ context.Context, folderID, name, mimeType string, content []byte) (*FileDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.nodes[folderID]; !ok || !p.folder {
		return nil, notFound("folder", folderID)
	}
	n := &memNode{
		id:       uuid.NewString(),
		name:     name,
		parent:   folderID,
		mimeType: mimeType,
		content:  append([]byte(nil), content...),
		modified: m.tick(),
	}
	m.nodes[n.id] = n
	return m.describe(n), nil
}

func (m *Memory) UpdateContent(_ context.Context, fileID, mimeType string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[fileID]
	if !ok || n.folder {
		return notFound("file", fileID)
	}
	n.content = append([]byte(nil), content...)
	n.mimeType = mimeType
	n.modified = m.tick()
	return nil
}

func (m *Memory) Rename(_ context.Context, fileID, name string) (*FileDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[fileID]
	if !ok || n.folder {
		return nil, notFound("file", fileID)
	}
	n.name = name
	n.modified = m.tick()
	return m.describe(n), nil
}

func (m *Memory) Stat(_ context.Context, fileID string) (*FileDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[fileID]
	if !ok {
		return nil, notFound("file", fileID)
	}
	return m.describe(n), nil
}

func (m *Memory) Read(_ context.Context, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[fileID]
	if !ok || n.folder {
		return nil, notFound("file", fileID)
	}
	return append([]byte(nil), n.content...), nil
}
