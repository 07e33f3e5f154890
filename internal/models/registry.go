package models

import (
	"sort"
	"time"
)

// RegistryDocument is the deployment-wide singleton listing every organization
// and the date index of their hunts.
type RegistryDocument struct {
	SchemaVersion string                      `json:"schemaVersion" validate:"required,semver"`
	Metadata      RegistryMetadata            `json:"metadata"`
	FeatureFlags  map[string]bool             `json:"featureFlags"`
	Limits        Limits                      `json:"limits"`
	Organizations []OrganizationSummary       `json:"organizations" validate:"unique=OrgSlug,dive"`
	ByDate        map[string][]DateIndexEntry `json:"byDate" validate:"dive,keys,datekey,endkeys,dive"`
}

// RegistryMetadata describes the deployment.
type RegistryMetadata struct {
	Name        string `json:"name" validate:"required"`
	Environment string `json:"environment" validate:"required"`
	UIVersion   string `json:"uiVersion,omitempty"`
}

// Limits are deployment-wide upload limits.
type Limits struct {
	MaxUploadSizeMB   int      `json:"maxUploadSizeMB" validate:"gte=0"`
	MaxMediaPerTeam   int      `json:"maxMediaPerTeam" validate:"gte=0"`
	AllowedMediaTypes []string `json:"allowedMediaTypes"`
}

// OrganizationSummary is the registry's denormalized view of one organization.
type OrganizationSummary struct {
	OrgSlug             string    `json:"orgSlug" validate:"required,slug"`
	OrgName             string    `json:"orgName" validate:"required,max=255"`
	PrimaryContactEmail string    `json:"primaryContactEmail" validate:"omitempty,email"`
	CreatedAt           time.Time `json:"createdAt"`
	HuntsTotal          int       `json:"huntsTotal" validate:"gte=0"`
	CommonTeams         []string  `json:"commonTeams"`
}

// DateIndexEntry points at one event starting on an indexed date.
type DateIndexEntry struct {
	OrgSlug string `json:"orgSlug" validate:"required"`
	EventID string `json:"eventId" validate:"required"`
}

// Default registry values used for skeleton documents and migration defaults.
var (
	DefaultAllowedMediaTypes = []string{"image/jpeg", "image/png", "image/webp", "video/mp4", "video/quicktime"}
)

const (
	DefaultMaxUploadSizeMB = 50
	DefaultMaxMediaPerTeam = 200
)

// NewRegistrySkeleton returns the registry synthesized when none is stored yet.
func NewRegistrySkeleton(version string) *RegistryDocument {
	return &RegistryDocument{
		SchemaVersion: version,
		Metadata:      RegistryMetadata{Name: "hunts", Environment: "development"},
		FeatureFlags:  map[string]bool{},
		Limits: Limits{
			MaxUploadSizeMB:   DefaultMaxUploadSizeMB,
			MaxMediaPerTeam:   DefaultMaxMediaPerTeam,
			AllowedMediaTypes: append([]string(nil), DefaultAllowedMediaTypes...),
		},
		Organizations: []OrganizationSummary{},
		ByDate:        map[string][]DateIndexEntry{},
	}
}

// FindOrganization returns the index of the summary for slug, or -1.
func (r *RegistryDocument) FindOrganization(slug string) int {
	for i := range r.Organizations {
		if r.Organizations[i].OrgSlug == slug {
			return i
		}
	}
	return -1
}

// PutOrganization inserts or replaces the summary keyed by its slug.
// CreatedAt of an existing summary is preserved.
func (r *RegistryDocument) PutOrganization(s OrganizationSummary) {
	if i := r.FindOrganization(s.OrgSlug); i >= 0 {
		if !r.Organizations[i].CreatedAt.IsZero() {
			s.CreatedAt = r.Organizations[i].CreatedAt
		}
		r.Organizations[i] = s
		return
	}
	r.Organizations = append(r.Organizations, s)
	sort.SliceStable(r.Organizations, func(i, j int) bool {
		return r.Organizations[i].OrgSlug < r.Organizations[j].OrgSlug
	})
}

// IndexEvent adds entry under date. It reports whether the index changed;
// adding an entry that is already present is a no-op.
func (r *RegistryDocument) IndexEvent(date string, entry DateIndexEntry) bool {
	if r.ByDate == nil {
		r.ByDate = map[string][]DateIndexEntry{}
	}
	for _, e := range r.ByDate[date] {
		if e == entry {
			return false
		}
	}
	r.ByDate[date] = append(r.ByDate[date], entry)
	return true
}

// UnindexEvent removes entry from date, dropping the date when it becomes empty.
func (r *RegistryDocument) UnindexEvent(date string, entry DateIndexEntry) bool {
	list, ok := r.ByDate[date]
	if !ok {
		return false
	}
	out := list[:0]
	removed := false
	for _, e := range list {
		if e == entry {
			removed = true
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		delete(r.ByDate, date)
	} else {
		r.ByDate[date] = out
	}
	return removed
}

// IndexedDates returns the dates that currently list entry, sorted.
func (r *RegistryDocument) IndexedDates(entry DateIndexEntry) []string {
	var dates []string
	for d, list := range r.ByDate {
		for _, e := range list {
			if e == entry {
				dates = append(dates, d)
				break
			}
		}
	}
	sort.Strings(dates)
	return dates
}
