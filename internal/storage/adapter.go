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

// Package storage exposes every upload backend through one uniform adapter
// contract. The pipeline is provider-agnostic beyond this contract.
package storage

import "context"

// ObjectRef identifies an uploaded object well enough to check its
// existence later.
type ObjectRef struct {
	Provider string `json:"provider"`
	Path     string `json:"path"`
}

// Adapter is the uniform contract every storage backend implements.
type Adapter interface {
	// Upload stores data at the destination path and returns a reference
	// to the stored object.
	Upload(ctx context.Context, path string, data []byte) (ObjectRef, error)

	// Exists reports whether a previously uploaded object is present.
	Exists(ctx context.Context, ref ObjectRef) (bool, error)

	// Provider names the backend ("drive-a", "drive-b", "blob", "internal").
	Provider() string
}

// Registry maps destination IDs to adapters and tracks the organization
// default used when no routing rule matches.
type Registry struct {
	adapters  map[string]Adapter
	defaultID string
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under a destination ID.
func (r *Registry) Register(destinationID string, a Adapter, isDefault bool) {
	r.adapters[destinationID] = a
	if isDefault {
		r.defaultID = destinationID
	}
}

// Lookup returns the adapter for a destination ID, falling back to the
// default destination when the ID is empty or unknown.
func (r *Registry) Lookup(destinationID string) (Adapter, string, bool) {
	if a, ok := r.adapters[destinationID]; ok {
		return a, destinationID, true
	}
	if a, ok := r.adapters[r.defaultID]; ok {
		return a, r.defaultID, true
	}
	return nil, "", false
}

// ByProvider returns any adapter serving the named provider. Used by the
// verifier, which records the provider rather than the destination ID.
func (r *Registry) ByProvider(provider string) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.Provider() == provider {
			return a, true
		}
	}
	return nil, false
}
