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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// HTTPDrive talks to a cloud drive's JSON API through an OAuth-aware HTTP
// client (golang.org/x/oauth2 clientcredentials transport). It serves the
// drive-a, drive-b and blob providers, which differ only in endpoint and
// credentials.
type HTTPDrive struct {
	httpClient *http.Client
	provider   string
	baseURL    string
	rootPath   string
}

// NewHTTPDrive creates an adapter for one HTTP storage destination.
func NewHTTPDrive(httpClient *http.Client, provider, baseURL, rootPath string) *HTTPDrive {
	return &HTTPDrive{
		httpClient: httpClient,
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		rootPath:   strings.Trim(rootPath, "/"),
	}
}

// Provider names the backend this adapter serves.
func (d *HTTPDrive) Provider() string { return d.provider }

// Upload PUTs the file bytes to the destination path under the configured
// root and returns a reference to the stored object.
func (d *HTTPDrive) Upload(ctx context.Context, destPath string, data []byte) (ObjectRef, error) {
	full := d.fullPath(destPath)
	endpoint := fmt.Sprintf("%s/files/%s", d.baseURL, url.PathEscape(full))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return ObjectRef{}, NewError(ClassValidation, "build upload request: %v", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return ObjectRef{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ObjectRef{}, classifyStatus(resp.StatusCode, string(body))
	}

	// The API echoes the stored path; fall back to the requested one.
	var result struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.Path == "" {
		result.Path = full
	}

	slog.Debug("uploaded object",
		"provider", d.provider,
		"path", result.Path,
		"bytes", len(data),
	)

	return ObjectRef{Provider: d.provider, Path: result.Path}, nil
}

// Exists issues a HEAD against the stored object.
func (d *HTTPDrive) Exists(ctx context.Context, ref ObjectRef) (bool, error) {
	endpoint := fmt.Sprintf("%s/files/%s", d.baseURL, url.PathEscape(ref.Path))

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return false, NewError(ClassValidation, "build existence request: %v", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, classifyTransport(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, classifyStatus(resp.StatusCode, "")
	}
}

func (d *HTTPDrive) fullPath(destPath string) string {
	destPath = strings.Trim(destPath, "/")
	if d.rootPath == "" {
		return destPath
	}
	return path.Join(d.rootPath, destPath)
}
