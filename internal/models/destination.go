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

package models

// Storage provider identifiers.
const (
	ProviderDriveA   = "drive-a"
	ProviderDriveB   = "drive-b"
	ProviderBlob     = "blob"
	ProviderInternal = "internal"
)

// StorageDestination is one configured upload target. Credentials are opaque
// to the pipeline and refreshed by the token job.
type StorageDestination struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	RootPath  string `json:"root_path"`
	BaseURL   string `json:"base_url,omitempty"`
	IsDefault bool   `json:"is_default"`
	IsActive  bool   `json:"is_active"`
}
