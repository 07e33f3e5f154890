package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/aura-hunt/backend/internal/docstore"
	"github.com/aura-hunt/backend/internal/models"
	"github.com/aura-hunt/backend/internal/ports"
	"github.com/aura-hunt/backend/internal/schema"
)

// registryBackoff is the pause between registry update attempts, growing
// linearly up to registryMaxBackoff.
const (
	registryBackoff    = time.Millisecond
	registryMaxBackoff = 20 * time.Millisecond
)

// GetRegistry returns the registry and its etag. When no registry is stored
// yet a skeleton is returned with an empty etag.
func (r *Repository) GetRegistry(ctx context.Context) (*models.RegistryDocument, string, error) {
	l, err := r.load(ctx, schema.TypeRegistry, docstore.RegistryKey)
	if errors.Is(err, ports.ErrNotFound) {
		return models.NewRegistrySkeleton(schema.RegistryVersion), "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return l.data.(*models.RegistryDocument), l.etag, nil
}

// UpsertRegistry validates doc and writes it. An empty expectedETag writes
// unconditionally.
func (r *Repository) UpsertRegistry(ctx context.Context, doc *models.RegistryDocument, expectedETag string) (string, error) {
	if doc == nil {
		return "", ports.Invalid(schema.TypeRegistry, docstore.RegistryKey, errors.New("registry document is required"))
	}
	d, err := clone(doc)
	if err != nil {
		return "", fmt.Errorf("copy registry: %w", err)
	}
	if err := r.validator.ValidateRegistry(d, r.opts.Strict); err != nil {
		return "", ports.Invalid(schema.TypeRegistry, docstore.RegistryKey, err)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode registry: %w", err)
	}
	return r.store.Put(ctx, docstore.RegistryKey, raw, expectedETag)
}

// updateRegistry applies mutate to the current registry and writes it with the
// etag it was read at. On conflict it re-reads and re-applies until the write
// lands or ctx ends; mutate must be idempotent. mutate reports whether it
// changed anything.
func (r *Repository) updateRegistry(ctx context.Context, mutate func(*models.RegistryDocument) bool) error {
	for attempt := 1; ; attempt++ {
		reg, etag, err := r.GetRegistry(ctx)
		if err != nil {
			return err
		}
		if !mutate(reg) {
			return nil
		}
		expected := etag
		if expected == "" {
			expected = docstore.IfAbsent
		}
		_, err = r.UpsertRegistry(ctx, reg, expected)
		if err == nil {
			if attempt > 1 {
				r.logger.Debug("registry update landed after conflicts", zap.Int("attempts", attempt))
			}
			return nil
		}
		if !errors.Is(err, ports.ErrConcurrencyConflict) {
			return err
		}
		wait := time.NewTimer(min(time.Duration(attempt)*registryBackoff, registryMaxBackoff))
		select {
		case <-ctx.Done():
			wait.Stop()
			return fmt.Errorf("update registry after %d attempts: %w: %w", attempt, ports.ErrConcurrencyConflict, ctx.Err())
		case <-wait.C:
		}
	}
}

// ListOrganizations returns the registry's organization summaries matching filter.
func (r *Repository) ListOrganizations(ctx context.Context, filter ports.OrganizationFilter) ([]models.OrganizationSummary, error) {
	reg, _, err := r.GetRegistry(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.OrganizationSummary, 0, len(reg.Organizations))
	for _, s := range reg.Organizations {
		if filter.Match(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// StoredOrganizations lists the slugs of every organization document in the
// store, including ones the registry does not know about.
func (r *Repository) StoredOrganizations(ctx context.Context) ([]string, error) {
	keys, err := r.store.List(ctx, docstore.OrganizationPrefix)
	if err != nil {
		return nil, err
	}
	slugs := make([]string, 0, len(keys))
	for _, key := range keys {
		if slug, ok := docstore.SlugFromKey(key); ok {
			slugs = append(slugs, slug)
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

// GetOrganization returns the organization document of orgSlug and its etag.
func (r *Repository) GetOrganization(ctx context.Context, orgSlug string) (*models.OrganizationDocument, string, error) {
	key, err := docstore.OrganizationKey(orgSlug)
	if err != nil {
		return nil, "", err
	}
	l, err := r.load(ctx, schema.TypeOrganization, key)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, "", ports.NotFound("organization %s", orgSlug)
	}
	if err != nil {
		return nil, "", err
	}
	doc := l.data.(*models.OrganizationDocument)
	if doc.Org.OrgSlug != orgSlug {
		return nil, "", &ports.ValidationError{
			DataType: schema.TypeOrganization,
			Key:      key,
			Errors:   schema.FieldErrors{{Path: "org.orgSlug", Message: fmt.Sprintf("stored under %s but names %q", key, doc.Org.OrgSlug)}},
		}
	}
	return doc, l.etag, nil
}

// UpsertOrganization validates doc and writes it under orgSlug, then refreshes
// the registry summary and date index of the organization. An empty
// expectedETag writes unconditionally.
func (r *Repository) UpsertOrganization(ctx context.Context, orgSlug string, doc *models.OrganizationDocument, expectedETag string) (string, error) {
	key, err := docstore.OrganizationKey(orgSlug)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", ports.Invalid(schema.TypeOrganization, orgSlug, errors.New("organization document is required"))
	}
	d, err := clone(doc)
	if err != nil {
		return "", fmt.Errorf("copy organization: %w", err)
	}
	if d.Org.OrgSlug == "" {
		d.Org.OrgSlug = orgSlug
	}
	if d.Org.OrgSlug != orgSlug {
		return "", ports.Invalid(schema.TypeOrganization, orgSlug, schema.FieldErrors{{
			Path:    "org.orgSlug",
			Message: fmt.Sprintf("must equal %q", orgSlug),
		}})
	}
	etag, err := r.writeOrganization(ctx, key, d, expectedETag)
	if err != nil {
		return "", err
	}
	r.refreshRegistry(ctx, d, func(reg *models.RegistryDocument) bool { return syncOrganizationIndex(reg, d) })
	return etag, nil
}

func (r *Repository) writeOrganization(ctx context.Context, key string, d *models.OrganizationDocument, expectedETag string) (string, error) {
	if err := r.validator.ValidateOrganization(d, r.opts.Strict); err != nil {
		return "", ports.Invalid(schema.TypeOrganization, d.Org.OrgSlug, err)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode organization: %w", err)
	}
	return r.putDocument(ctx, key, d, raw, expectedETag)
}

// refreshRegistry updates the summary of d and applies index in one registry
// write. The organization write already stands, so failures are logged.
func (r *Repository) refreshRegistry(ctx context.Context, d *models.OrganizationDocument, index func(*models.RegistryDocument) bool) {
	now := r.opts.Now().UTC()
	err := r.updateRegistry(ctx, func(reg *models.RegistryDocument) bool {
		changed := putSummary(reg, d.Summary(), now)
		return index(reg) || changed
	})
	if err != nil {
		r.logger.Warn("registry not updated after organization write",
			zap.String("org_slug", d.Org.OrgSlug),
			zap.Error(err),
		)
	}
}

// putSummary stores s in reg, stamping CreatedAt for new organizations.
func putSummary(reg *models.RegistryDocument, s models.OrganizationSummary, now time.Time) bool {
	i := reg.FindOrganization(s.OrgSlug)
	if i < 0 {
		s.CreatedAt = now
		reg.PutOrganization(s)
		return true
	}
	s.CreatedAt = reg.Organizations[i].CreatedAt
	if reflect.DeepEqual(reg.Organizations[i], s) {
		return false
	}
	reg.PutOrganization(s)
	return true
}

// syncOrganizationIndex makes byDate list exactly the hunts of d under their
// start dates.
func syncOrganizationIndex(reg *models.RegistryDocument, d *models.OrganizationDocument) bool {
	entries := datedEntries(d)
	want := make(map[models.DateIndexEntry]string, len(entries))
	for _, e := range entries {
		want[e.DateIndexEntry] = e.Date
	}
	changed := false
	dates := make([]string, 0, len(reg.ByDate))
	for date := range reg.ByDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	for _, date := range dates {
		for _, e := range append([]models.DateIndexEntry(nil), reg.ByDate[date]...) {
			if e.OrgSlug != d.Org.OrgSlug {
				continue
			}
			if want[e] != date {
				changed = reg.UnindexEvent(date, e) || changed
			}
		}
	}
	for _, e := range entries {
		changed = reg.IndexEvent(e.Date, e.DateIndexEntry) || changed
	}
	return changed
}

// indexEvent moves the entry of one hunt to its current start date.
func indexEvent(reg *models.RegistryDocument, orgSlug string, e *models.Event) bool {
	date, err := e.DateKey()
	if err != nil {
		return false
	}
	entry := models.DateIndexEntry{OrgSlug: orgSlug, EventID: e.ID}
	changed := false
	for _, d := range reg.IndexedDates(entry) {
		if d != date {
			changed = reg.UnindexEvent(d, entry) || changed
		}
	}
	return reg.IndexEvent(date, entry) || changed
}
