// Package docstore holds whole JSON documents under string keys with
// etag-based compare-and-swap writes.
package docstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/aura-hunt/backend/internal/models"
	"github.com/aura-hunt/backend/internal/ports"
	"github.com/aura-hunt/backend/internal/schema"
)

// IfAbsent as an expected etag makes Put create-only.
const IfAbsent = "*"

// Object is a stored document and the etag it was read at.
type Object struct {
	Data []byte
	ETag string
}

// Store is a key-value document backend.
//
// Put with expectedETag "" writes unconditionally, IfAbsent only creates, and
// any other value must equal the stored etag. Failed preconditions return
// ports.ErrConcurrencyConflict and leave the stored document unchanged.
// Missing keys return ports.ErrNotFound; transport failures wrap
// ports.ErrBackendUnavailable.
type Store interface {
	Get(ctx context.Context, key string) (Object, error)
	Put(ctx context.Context, key string, data []byte, expectedETag string) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Document keys.
const (
	RegistryKey        = "registry.json"
	OrganizationPrefix = "orgs/"
)

// OrganizationKey returns the key of the organization document for slug.
func OrganizationKey(slug string) (string, error) {
	if !schema.ValidSlug(slug) {
		return "", ports.Invalid(schema.TypeOrganization, slug, schema.FieldErrors{{
			Path:    "orgSlug",
			Message: fmt.Sprintf("invalid organization slug %q", slug),
		}})
	}
	return OrganizationPrefix + slug + ".json", nil
}

// SlugFromKey returns the organization slug encoded in key.
func SlugFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, OrganizationPrefix) || !strings.HasSuffix(key, ".json") {
		return "", false
	}
	slug := strings.TrimSuffix(strings.TrimPrefix(key, OrganizationPrefix), ".json")
	return slug, schema.ValidSlug(slug)
}

// DatedEntry is one row of a dedicated date index.
type DatedEntry struct {
	Date string
	models.DateIndexEntry
}

// IndexedStore is a Store that keeps a dedicated date index next to the
// organization documents. PutOrganization writes the document and replaces
// every index row of slug with entries atomically.
type IndexedStore interface {
	Store
	PutOrganization(ctx context.Context, key, slug string, data []byte, expectedETag string, entries []DatedEntry) (string, error)
	EventsOnDate(ctx context.Context, date string) ([]models.DateIndexEntry, error)
}
