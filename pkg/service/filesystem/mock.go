// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package filesystem

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// MockFileSystem is a mock implementation of the filesystem.Service interface.
// By default it operates on an in-memory file map; individual operations can
// be overridden via the XxxFunc fields.
type MockFileSystem struct {
	ReadFileFunc        func(ctx context.Context, path string) ([]byte, error)
	WriteFileFunc       func(ctx context.Context, path string, data []byte, perm os.FileMode) error
	PathExistsFunc      func(ctx context.Context, path string) (bool, error)
	EnsureDirectoryFunc func(ctx context.Context, path string) error
	RemoveFunc          func(ctx context.Context, path string) error
	StatFunc            func(ctx context.Context, path string) (os.FileInfo, error)
	ReadDirFunc         func(ctx context.Context, path string) ([]os.DirEntry, error)
	RenameFunc          func(ctx context.Context, oldPath, newPath string) error

	files map[string][]byte
	dirs  map[string]bool
	mutex sync.Mutex
}

// NewMockFileSystem creates a new MockFileSystem instance.
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

// EnsureDirectory creates a directory if it doesn't exist.
func (m *MockFileSystem) EnsureDirectory(ctx context.Context, path string) error {
	if m.EnsureDirectoryFunc != nil {
		return m.EnsureDirectoryFunc(ctx, path)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.dirs[path] = true

	return nil
}

// ReadFile reads a file's contents.
func (m *MockFileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(ctx, path)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("failed to read file %s: %w", path, os.ErrNotExist)
	}

	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

// WriteFile writes data to a file.
func (m *MockFileSystem) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(ctx, path, data, perm)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[path] = stored

	return nil
}

// PathExists checks if a file or directory exists.
func (m *MockFileSystem) PathExists(ctx context.Context, path string) (bool, error) {
	if m.PathExistsFunc != nil {
		return m.PathExistsFunc(ctx, path)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.files[path]; ok {
		return true, nil
	}

	return m.dirs[path], nil
}

// Remove removes a file.
func (m *MockFileSystem) Remove(ctx context.Context, path string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, path)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.files, path)
	delete(m.dirs, path)

	return nil
}

// Stat returns file info for an in-memory file.
func (m *MockFileSystem) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	if m.StatFunc != nil {
		return m.StatFunc(ctx, path)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("failed to stat %s: %w", path, os.ErrNotExist)
	}

	return mockFileInfo{name: path, size: int64(len(data))}, nil
}

// ReadDir reads a directory.
func (m *MockFileSystem) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	if m.ReadDirFunc != nil {
		return m.ReadDirFunc(ctx, path)
	}

	return nil, nil
}

// Rename renames a file.
func (m *MockFileSystem) Rename(ctx context.Context, oldPath, newPath string) error {
	if m.RenameFunc != nil {
		return m.RenameFunc(ctx, oldPath, newPath)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, ok := m.files[oldPath]
	if !ok {
		return fmt.Errorf("failed to rename file %s to %s: %w", oldPath, newPath, os.ErrNotExist)
	}

	m.files[newPath] = data
	delete(m.files, oldPath)

	return nil
}

type mockFileInfo struct {
	name string
	size int64
}

func (f mockFileInfo) Name() string       { return f.name }
func (f mockFileInfo) Size() int64        { return f.size }
func (f mockFileInfo) Mode() os.FileMode  { return 0644 }
func (f mockFileInfo) ModTime() time.Time { return time.Time{} }
func (f mockFileInfo) IsDir() bool        { return false }
func (f mockFileInfo) Sys() any           { return nil }
