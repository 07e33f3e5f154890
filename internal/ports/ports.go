// Package ports defines the storage-agnostic repository contracts used by the
// API layer, and the error taxonomy every adapter reports through.
package ports

import (
	"context"

	"github.com/aura-hunt/backend/internal/models"
)

// OrganizationFilter narrows ListOrganizations. Zero values match everything.
type OrganizationFilter struct {
	Slugs        []string
	NameContains string
}

// EventFilter narrows ListEventsForDate. Zero values match everything.
type EventFilter struct {
	OrgSlugs []string
	Statuses []models.EventStatus
}

// RegistryRepo reads and writes the registry and organization documents.
//
// expectedETag "" writes unconditionally; any other value must match the
// stored document's etag or the write fails with ErrConcurrencyConflict.
type RegistryRepo interface {
	GetRegistry(ctx context.Context) (*models.RegistryDocument, string, error)
	ListOrganizations(ctx context.Context, filter OrganizationFilter) ([]models.OrganizationSummary, error)
	GetOrganization(ctx context.Context, orgSlug string) (*models.OrganizationDocument, string, error)
	UpsertOrganization(ctx context.Context, orgSlug string, doc *models.OrganizationDocument, expectedETag string) (string, error)
	UpsertRegistry(ctx context.Context, doc *models.RegistryDocument, expectedETag string) (string, error)
}

// EventRepo reads and writes hunts inside organization documents.
// The etag passed to UpsertEvent is the owning organization document's etag.
type EventRepo interface {
	ListEventsForDate(ctx context.Context, date string, filter EventFilter) ([]models.EventSummary, error)
	GetEvent(ctx context.Context, orgSlug, eventID string) (*models.Event, error)
	UpsertEvent(ctx context.Context, orgSlug string, event *models.Event, expectedETag string) (*models.Event, string, error)
}

// Adapter implements both ports against one backend.
type Adapter interface {
	RegistryRepo
	EventRepo
	Close() error
}

// Match reports whether s passes f.
func (f OrganizationFilter) Match(s models.OrganizationSummary) bool {
	if len(f.Slugs) > 0 && !contains(f.Slugs, s.OrgSlug) {
		return false
	}
	if f.NameContains != "" && !containsFold(s.OrgName, f.NameContains) {
		return false
	}
	return true
}

// MatchOrg reports whether events of orgSlug can pass f.
func (f EventFilter) MatchOrg(orgSlug string) bool {
	return len(f.OrgSlugs) == 0 || contains(f.OrgSlugs, orgSlug)
}

// MatchStatus reports whether an event with status s passes f.
func (f EventFilter) MatchStatus(s models.EventStatus) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, want := range f.Statuses {
		if want == s {
			return true
		}
	}
	return false
}
