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
)

// DefaultService is the default implementation of Service.
type DefaultService struct{}

// NewDefaultService creates a new DefaultService.
func NewDefaultService() *DefaultService {
	return &DefaultService{}
}

// checkContext checks if the context is done before proceeding with an operation.
func (s *DefaultService) checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// EnsureDirectory creates a directory if it doesn't exist.
func (s *DefaultService) EnsureDirectory(ctx context.Context, path string) error {
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- os.MkdirAll(path, 0755)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadFile reads a file's contents respecting the context.
func (s *DefaultService) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := s.checkContext(ctx); err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		err  error
	}

	resCh := make(chan result, 1)
	go func() {
		data, err := os.ReadFile(path)
		resCh <- result{data: data, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, res.err)
		}

		return res.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteFile writes data to a file respecting the context.
func (s *DefaultService) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- os.WriteFile(path, data, perm)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to write file %s: %w", path, err)
		}

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PathExists checks if a file or directory exists at the given path.
func (s *DefaultService) PathExists(ctx context.Context, path string) (bool, error) {
	if err := s.checkContext(ctx); err != nil {
		return false, err
	}

	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}

	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

// Remove removes a file or directory.
func (s *DefaultService) Remove(ctx context.Context, path string) error {
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// Stat returns file info.
func (s *DefaultService) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	if err := s.checkContext(ctx); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return info, nil
}

// ReadDir reads a directory, returning all its directory entries.
func (s *DefaultService) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	if err := s.checkContext(ctx); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}

	return entries, nil
}

// Rename renames (moves) a file or directory from oldPath to newPath.
func (s *DefaultService) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- os.Rename(oldPath, newPath)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to rename file %s to %s: %w", oldPath, newPath, err)
		}

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
