package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/aura-hunt/backend/internal/docstore"
	"github.com/aura-hunt/backend/internal/models"
	"github.com/aura-hunt/backend/internal/ports"
	"github.com/aura-hunt/backend/internal/schema"
)

// GetEvent returns hunt eventID of orgSlug.
func (r *Repository) GetEvent(ctx context.Context, orgSlug, eventID string) (*models.Event, error) {
	doc, _, err := r.GetOrganization(ctx, orgSlug)
	if err != nil {
		return nil, err
	}
	i := doc.FindEvent(eventID)
	if i < 0 {
		return nil, ports.NotFound("event %s in organization %s", eventID, orgSlug)
	}
	e := doc.Hunts[i]
	return &e, nil
}

// UpsertEvent inserts or replaces event in the organization document of
// orgSlug, then moves its registry date index entry to the event's start date.
// expectedETag is the organization document etag; "" skips the caller
// precondition but the write is still conditional on the document just read.
func (r *Repository) UpsertEvent(ctx context.Context, orgSlug string, event *models.Event, expectedETag string) (*models.Event, string, error) {
	if event == nil {
		return nil, "", ports.Invalid(schema.TypeOrganization, orgSlug, errors.New("event is required"))
	}
	doc, etag, err := r.GetOrganization(ctx, orgSlug)
	if err != nil {
		return nil, "", err
	}
	key, _ := docstore.OrganizationKey(orgSlug)
	if expectedETag != "" && expectedETag != etag {
		return nil, "", ports.Conflict(key)
	}

	ev, err := clone(event)
	if err != nil {
		return nil, "", fmt.Errorf("copy event: %w", err)
	}
	if ev.ID == "" {
		ev.ID = r.opts.NewID()
	}
	i := doc.FindEvent(ev.ID)
	if i >= 0 && ev.Audit.CreatedAt.IsZero() {
		ev.Audit = doc.Hunts[i].Audit
	}
	if ev.Audit.CreatedAt.IsZero() {
		ev.Audit.CreatedAt = r.opts.Now().UTC()
	}
	if i >= 0 {
		doc.Hunts[i] = *ev
	} else {
		doc.Hunts = append(doc.Hunts, *ev)
	}

	newETag, err := r.writeOrganization(ctx, key, doc, etag)
	if err != nil {
		return nil, "", err
	}
	stored := doc.Hunts[doc.FindEvent(ev.ID)]
	r.refreshRegistry(ctx, doc, func(reg *models.RegistryDocument) bool { return indexEvent(reg, orgSlug, &stored) })
	return &stored, newETag, nil
}

// ListEventsForDate returns the hunts starting on date. Index entries are
// hints: entries whose organization or hunt is gone, or whose hunt now starts
// on another day, are skipped.
func (r *Repository) ListEventsForDate(ctx context.Context, date string, filter ports.EventFilter) ([]models.EventSummary, error) {
	day, err := models.DateKey(date)
	if err != nil {
		return nil, ports.Invalid("date", date, schema.FieldErrors{{Path: "date", Message: err.Error()}})
	}
	entries, err := r.entriesOn(ctx, day)
	if err != nil {
		return nil, err
	}

	byOrg := make(map[string][]string)
	var orgs []string
	for _, e := range entries {
		if !filter.MatchOrg(e.OrgSlug) {
			continue
		}
		if _, seen := byOrg[e.OrgSlug]; !seen {
			orgs = append(orgs, e.OrgSlug)
		}
		byOrg[e.OrgSlug] = append(byOrg[e.OrgSlug], e.EventID)
	}

	out := []models.EventSummary{}
	for _, slug := range orgs {
		doc, _, err := r.GetOrganization(ctx, slug)
		if err != nil {
			switch {
			case errors.Is(err, ports.ErrNotFound):
				r.logger.Debug("skipping stale date index entry",
					zap.String("date", day),
					zap.String("org_slug", slug),
					zap.Error(err),
				)
				continue
			case errors.Is(err, ports.ErrValidationFailed):
				r.logger.Warn("skipping invalid organization in date listing",
					zap.String("date", day),
					zap.String("org_slug", slug),
					zap.Error(err),
				)
				continue
			}
			return nil, err
		}
		for _, id := range byOrg[slug] {
			i := doc.FindEvent(id)
			if i < 0 {
				r.logger.Debug("date index names a missing event",
					zap.String("date", day), zap.String("org_slug", slug), zap.String("event_id", id))
				continue
			}
			e := &doc.Hunts[i]
			if k, err := e.DateKey(); err != nil || k != day {
				r.logger.Debug("date index entry is stale",
					zap.String("date", day), zap.String("org_slug", slug), zap.String("event_id", id))
				continue
			}
			if !filter.MatchStatus(e.Status) {
				continue
			}
			out = append(out, e.Summarize(doc.Org))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrgSlug != out[j].OrgSlug {
			return out[i].OrgSlug < out[j].OrgSlug
		}
		return out[i].EventID < out[j].EventID
	})
	return out, nil
}

// entriesOn reads the index entries of day. An indexed store's dedicated
// index is authoritative; otherwise the registry's byDate is used.
func (r *Repository) entriesOn(ctx context.Context, day string) ([]models.DateIndexEntry, error) {
	if ix, ok := r.store.(docstore.IndexedStore); ok {
		return ix.EventsOnDate(ctx, day)
	}
	reg, _, err := r.GetRegistry(ctx)
	if err != nil {
		return nil, err
	}
	return reg.ByDate[day], nil
}
