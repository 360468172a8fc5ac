// Copyright (c) 2026 John Earle
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

package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/paperchase/collector/internal/models"
)

// Local is the "internal" provider: files live on disk under a root
// directory on the service host.
type Local struct {
	root string
}

// NewLocal creates the internal storage adapter rooted at the given
// directory.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Provider names the backend this adapter serves.
func (l *Local) Provider() string { return models.ProviderInternal }

// Upload writes the file under the root, creating parent directories as
// needed.
func (l *Local) Upload(ctx context.Context, destPath string, data []byte) (ObjectRef, error) {
	if err := ctx.Err(); err != nil {
		return ObjectRef{}, classifyTransport(err)
	}

	full, err := l.resolve(destPath)
	if err != nil {
		return ObjectRef{}, err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ObjectRef{}, NewError(ClassPath, "create destination directory: %v", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return ObjectRef{}, NewError(ClassPermission, "write %s: %v", destPath, err)
		}
		return ObjectRef{}, NewError(ClassPath, "write %s: %v", destPath, err)
	}

	return ObjectRef{Provider: l.Provider(), Path: destPath}, nil
}

// Exists checks the file on disk.
func (l *Local) Exists(ctx context.Context, ref ObjectRef) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, classifyTransport(err)
	}

	full, err := l.resolve(ref.Path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if errors.Is(err, fs.ErrPermission) {
		return false, NewError(ClassPermission, "stat %s: %v", ref.Path, err)
	}
	return false, NewError(ClassPath, "stat %s: %v", ref.Path, err)
}

// resolve joins the destination path to the root and rejects escapes.
func (l *Local) resolve(destPath string) (string, error) {
	cleaned := filepath.Clean("/" + strings.Trim(destPath, "/"))
	if cleaned == "/" {
		return "", NewError(ClassValidation, "empty destination path")
	}
	full := filepath.Join(l.root, cleaned)
	if !strings.HasPrefix(full, filepath.Clean(l.root)+string(os.PathSeparator)) {
		return "", NewError(ClassValidation, "destination path %q escapes storage root", destPath)
	}
	return full, nil
}
