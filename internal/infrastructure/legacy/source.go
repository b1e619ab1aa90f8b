// Package legacy serves API keys issued before keys were hashed: a flat
// allow-list from the environment and the old JSON key file.
package legacy

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"keygate.backend/internal/domain/entities"
	"keygate.backend/pkg/crypto"
)

const (
	// AllowListName is the name reported for keys from the allow-list.
	AllowListName = "Legacy API Key"

	SourceEnv  = "env"
	SourceFile = "file"
)

// fileFormat is the layout of the legacy JSON key file.
type fileFormat struct {
	ApiKeys map[string]struct {
		Name        string   `json:"name"`
		Service     string   `json:"service"`
		Permissions []string `json:"permissions"`
		IsActive    *bool    `json:"is_active"`
	} `json:"api_keys"`
}

// Source looks up legacy keys by raw value. It is read-only after creation.
type Source struct {
	byPrefix map[string][]entities.LegacyKey
	entries  []entities.LegacyKey
}

// NewSource builds a source from allow-list keys and file entries. An active
// file entry takes precedence over an identical allow-list key; an inactive
// one does not hide it.
func NewSource(allowList []string, fileEntries []entities.LegacyKey) *Source {
	s := &Source{byPrefix: make(map[string][]entities.LegacyKey)}
	seen := make(map[string]struct{})

	for _, e := range fileEntries {
		if e.Key == "" {
			continue
		}
		e.Source = SourceFile
		s.add(e)
		if e.IsActive {
			seen[e.Key] = struct{}{}
		}
	}
	for _, key := range allowList {
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		s.add(entities.LegacyKey{
			Key:         key,
			Name:        AllowListName,
			Service:     entities.LegacyService,
			Permissions: []string{entities.PermissionAdmin},
			IsActive:    true,
			Source:      SourceEnv,
		})
	}
	return s
}

func (s *Source) add(e entities.LegacyKey) {
	prefix := crypto.LookupPrefix(e.Key)
	s.byPrefix[prefix] = append(s.byPrefix[prefix], e)
	s.entries = append(s.entries, e)
}

// LoadFile reads the legacy JSON key file. A missing path yields no entries.
func LoadFile(path string) ([]entities.LegacyKey, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read legacy key file: %w", err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse legacy key file: %w", err)
	}

	keys := make([]string, 0, len(f.ApiKeys))
	for k := range f.ApiKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]entities.LegacyKey, 0, len(keys))
	for _, k := range keys {
		info := f.ApiKeys[k]
		active := true
		if info.IsActive != nil {
			active = *info.IsActive
		}
		service := info.Service
		if service == "" {
			service = entities.LegacyService
		}
		perms := info.Permissions
		if len(perms) == 0 {
			perms = []string{entities.PermissionRead}
		}
		entries = append(entries, entities.LegacyKey{
			Key:         k,
			Name:        info.Name,
			Service:     service,
			Permissions: perms,
			IsActive:    active,
		})
	}
	return entries, nil
}

// Lookup returns the active entry matching raw. Inactive entries never
// match. Keys are compared in constant time.
func (s *Source) Lookup(raw string) (entities.LegacyKey, bool) {
	if s == nil || raw == "" {
		return entities.LegacyKey{}, false
	}
	for _, e := range s.byPrefix[crypto.LookupPrefix(raw)] {
		if e.IsActive && subtle.ConstantTimeCompare([]byte(e.Key), []byte(raw)) == 1 {
			e.Permissions = append([]string(nil), e.Permissions...)
			return e, true
		}
	}
	return entities.LegacyKey{}, false
}

// Len is the number of legacy keys.
func (s *Source) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// List describes the legacy keys with masked values, optionally filtered by
// service.
func (s *Source) List(service string, activeOnly bool) []entities.LegacyKeyView {
	if s == nil {
		return nil
	}
	out := make([]entities.LegacyKeyView, 0, len(s.entries))
	for _, e := range s.entries {
		if service != "" && e.Service != service {
			continue
		}
		if activeOnly && !e.IsActive {
			continue
		}
		out = append(out, entities.LegacyKeyView{
			MaskedKey:   entities.MaskRawKey(e.Key),
			Name:        e.Name,
			Service:     e.Service,
			Permissions: append([]string(nil), e.Permissions...),
			IsActive:    e.IsActive,
			Source:      e.Source,
		})
	}
	return out
}
