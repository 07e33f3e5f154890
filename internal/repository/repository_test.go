package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aura-hunt/backend/internal/docstore"
	"github.com/aura-hunt/backend/internal/models"
	"github.com/aura-hunt/backend/internal/ports"
	"github.com/aura-hunt/backend/internal/schema"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRepo(t *testing.T, store docstore.Store, mutate ...func(*Options)) *Repository {
	t.Helper()
	opts := Options{AutoMigrate: true, Now: func() time.Time { return fixedNow }}
	n := 0
	opts.NewID = func() string { n++; return fmt.Sprintf("evt-%d", n) }
	for _, m := range mutate {
		m(&opts)
	}
	r, err := New(store, nil, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func newOrg(slug, name string) *models.OrganizationDocument {
	return &models.OrganizationDocument{
		Org: models.Organization{
			OrgSlug:  slug,
			OrgName:  name,
			Contacts: []models.Contact{{Name: "Ann", Email: "ann@" + slug + ".com"}},
			Settings: models.OrgSettings{DefaultTeams: []string{"red"}},
		},
	}
}

func newEvent(id, date string) *models.Event {
	return &models.Event{
		ID:        id,
		Slug:      "spring-hunt",
		Name:      "Spring Hunt",
		StartDate: date,
		Status:    models.EventStatusScheduled,
		Access:    models.Access{Visibility: "public"},
	}
}

// interferingStore makes a concurrent writer change key right before the next
// n conditional puts to it, so those puts fail their etag check.
type interferingStore struct {
	docstore.Store
	mu        sync.Mutex
	interfere map[string]int
	// onHit runs after each interfering write.
	onHit func()
}

func interfering(s docstore.Store) *interferingStore {
	return &interferingStore{Store: s, interfere: map[string]int{}}
}

func (s *interferingStore) set(key string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interfere[key] = n
}

func (s *interferingStore) Put(ctx context.Context, key string, data []byte, expectedETag string) (string, error) {
	s.mu.Lock()
	hit := s.interfere[key] > 0 && expectedETag != ""
	if hit {
		s.interfere[key]--
	}
	s.mu.Unlock()
	if hit {
		payload := data
		if obj, err := s.Store.Get(ctx, key); err == nil {
			payload = obj.Data
		}
		if _, err := s.Store.Put(ctx, key, payload, ""); err != nil {
			return "", err
		}
		if s.onHit != nil {
			s.onHit()
		}
	}
	return s.Store.Put(ctx, key, data, expectedETag)
}

// failingPutStore fails every put with err.
type failingPutStore struct {
	docstore.Store
	err error
}

func (s failingPutStore) Put(context.Context, string, []byte, string) (string, error) {
	return "", s.err
}

func TestGetRegistry_Skeleton(t *testing.T) {
	r := newRepo(t, docstore.NewMemory())
	reg, etag, err := r.GetRegistry(context.Background())
	require.NoError(t, err)
	assert.Empty(t, etag)
	assert.Equal(t, schema.RegistryVersion, reg.SchemaVersion)
	assert.Empty(t, reg.Organizations)
}

func TestUpsertRegistry(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, docstore.NewMemory())

	reg, _, err := r.GetRegistry(ctx)
	require.NoError(t, err)
	reg.FeatureFlags["leaderboard"] = true
	etag, err := r.UpsertRegistry(ctx, reg, docstore.IfAbsent)
	require.NoError(t, err)

	got, gotETag, err := r.GetRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, etag, gotETag)
	assert.True(t, got.FeatureFlags["leaderboard"])

	_, err = r.UpsertRegistry(ctx, reg, `"stale"`)
	assert.ErrorIs(t, err, ports.ErrConcurrencyConflict)

	reg.ByDate["not-a-date"] = []models.DateIndexEntry{{OrgSlug: "acme", EventID: "e"}}
	_, err = r.UpsertRegistry(ctx, reg, "")
	assert.ErrorIs(t, err, ports.ErrValidationFailed)

	_, err = r.UpsertRegistry(ctx, nil, "")
	assert.ErrorIs(t, err, ports.ErrValidationFailed)
}

func TestUpsertOrganization(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, docstore.NewMemory())

	etag, err := r.UpsertOrganization(ctx, "acme", newOrg("acme", "Acme"), "")
	require.NoError(t, err)

	doc, got, err := r.GetOrganization(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, etag, got)
	assert.Equal(t, schema.OrganizationVersion, doc.SchemaVersion)
	assert.Equal(t, models.DefaultTimezone, doc.Org.Settings.Timezone)

	orgs, err := r.ListOrganizations(ctx, ports.OrganizationFilter{})
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "ann@acme.com", orgs[0].PrimaryContactEmail)
	assert.True(t, orgs[0].CreatedAt.Equal(fixedNow))

	t.Run("summary follows later writes", func(t *testing.T) {
		d := newOrg("acme", "Acme Renamed")
		_, err := r.UpsertOrganization(ctx, "acme", d, etag)
		require.NoError(t, err)
		orgs, err := r.ListOrganizations(ctx, ports.OrganizationFilter{NameContains: "renamed"})
		require.NoError(t, err)
		require.Len(t, orgs, 1)
		assert.True(t, orgs[0].CreatedAt.Equal(fixedNow))
	})

	t.Run("caller document is not modified", func(t *testing.T) {
		d := newOrg("zeta", "Zeta")
		_, err := r.UpsertOrganization(ctx, "zeta", d, "")
		require.NoError(t, err)
		assert.Empty(t, d.SchemaVersion)
		assert.Empty(t, d.Org.Settings.Timezone)
	})

	t.Run("invalid writes never reach the store", func(t *testing.T) {
		d := newOrg("bad-co", "Bad")
		d.Org.Contacts = nil
		_, err := r.UpsertOrganization(ctx, "bad-co", d, "")
		var ve *ports.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "org.contacts", ve.Errors[0].Path)

		_, _, err = r.GetOrganization(ctx, "bad-co")
		assert.ErrorIs(t, err, ports.ErrNotFound)
	})

	t.Run("slug mismatch", func(t *testing.T) {
		_, err := r.UpsertOrganization(ctx, "acme", newOrg("other", "Other"), "")
		assert.ErrorIs(t, err, ports.ErrValidationFailed)
	})

	t.Run("invalid slug", func(t *testing.T) {
		_, _, err := r.GetOrganization(ctx, "../etc")
		assert.ErrorIs(t, err, ports.ErrValidationFailed)
	})

	t.Run("missing organization", func(t *testing.T) {
		_, _, err := r.GetOrganization(ctx, "nobody")
		assert.ErrorIs(t, err, ports.ErrNotFound)
	})
}

// Both writers start from the same etag; only the first write to reach the
// store wins and a fresh read shows only its change.
func TestUpsertOrganization_ConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, docstore.NewMemory())
	etag1, err := r.UpsertOrganization(ctx, "acme", newOrg("acme", "Acme"), "")
	require.NoError(t, err)

	_, err = r.UpsertOrganization(ctx, "acme", newOrg("acme", "First Writer"), etag1)
	require.NoError(t, err)
	_, err = r.UpsertOrganization(ctx, "acme", newOrg("acme", "Second Writer"), etag1)
	require.ErrorIs(t, err, ports.ErrConcurrencyConflict)

	doc, _, err := r.GetOrganization(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "First Writer", doc.Org.OrgName)

	t.Run("parallel writers", func(t *testing.T) {
		_, etag, err := r.GetOrganization(ctx, "acme")
		require.NoError(t, err)
		const writers = 6
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = r.UpsertOrganization(ctx, "acme", newOrg("acme", fmt.Sprintf("Writer %d", i)), etag)
			}(i)
		}
		wg.Wait()

		winner := -1
		for i, err := range errs {
			if err == nil {
				require.Equal(t, -1, winner, "more than one writer succeeded")
				winner = i
				continue
			}
			assert.ErrorIs(t, err, ports.ErrConcurrencyConflict)
		}
		require.NotEqual(t, -1, winner)
		doc, _, err := r.GetOrganization(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("Writer %d", winner), doc.Org.OrgName)
	})
}

func TestRead_MigratesAndWritesBack(t *testing.T) {
	ctx := context.Background()
	legacy := []byte(`{"orgSlug":"acme","orgName":"Acme","contactEmail":"a@acme.com"}`)

	t.Run("write-back", func(t *testing.T) {
		mem := docstore.NewMemory()
		_, err := mem.Put(ctx, "orgs/acme.json", legacy, "")
		require.NoError(t, err)
		r := newRepo(t, mem)

		doc, etag, err := r.GetOrganization(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "a@acme.com", doc.Org.Contacts[0].Email)
		assert.True(t, doc.Privacy.AllowLeaderboard)

		stored, err := mem.Get(ctx, "orgs/acme.json")
		require.NoError(t, err)
		assert.Equal(t, stored.ETag, etag, "caller gets the etag of the upgraded document")
		assert.Contains(t, string(stored.Data), `"schemaVersion":"1.1.0"`)

		// the returned etag is usable for the next write
		_, err = r.UpsertOrganization(ctx, "acme", doc, etag)
		assert.NoError(t, err)
	})

	t.Run("write-back failures are swallowed", func(t *testing.T) {
		for _, cause := range []error{ports.Conflict("orgs/acme.json"), ports.Unavailable("put", errors.New("down"))} {
			mem := docstore.NewMemory()
			seeded, err := mem.Put(ctx, "orgs/acme.json", legacy, "")
			require.NoError(t, err)
			r := newRepo(t, failingPutStore{Store: mem, err: cause})

			doc, etag, err := r.GetOrganization(ctx, "acme")
			require.NoError(t, err)
			assert.Equal(t, "acme", doc.Org.OrgSlug)
			assert.Equal(t, seeded, etag)
		}
	})

	t.Run("no write-back", func(t *testing.T) {
		mem := docstore.NewMemory()
		seeded, err := mem.Put(ctx, "orgs/acme.json", legacy, "")
		require.NoError(t, err)
		r := newRepo(t, mem, func(o *Options) { o.NoWriteBack = true })

		_, etag, err := r.GetOrganization(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, seeded, etag)
		stored, err := mem.Get(ctx, "orgs/acme.json")
		require.NoError(t, err)
		assert.Equal(t, legacy, stored.Data)
	})

	t.Run("outdated without auto-migrate is a validation error", func(t *testing.T) {
		mem := docstore.NewMemory()
		_, err := mem.Put(ctx, "orgs/acme.json", legacy, "")
		require.NoError(t, err)
		r := newRepo(t, mem, func(o *Options) { o.AutoMigrate = false })
		_, _, err = r.GetOrganization(ctx, "acme")
		assert.ErrorIs(t, err, ports.ErrValidationFailed)
	})
}

func TestRead_InvalidStoredDocument(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	raw := []byte(`{"schemaVersion":"1.1.0","org":{"orgSlug":"acme","orgName":"Acme","contacts":[]},"hunts":[]}`)
	_, err := mem.Put(ctx, "orgs/acme.json", raw, "")
	require.NoError(t, err)
	r := newRepo(t, mem)

	_, _, err = r.GetOrganization(ctx, "acme")
	var ve *ports.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "orgs/acme.json", ve.Key)
	assert.JSONEq(t, string(raw), string(ve.Raw))
	assert.False(t, ports.Retryable(err))

	t.Run("migration failure keeps the engine error", func(t *testing.T) {
		_, err := mem.Put(ctx, "orgs/acme.json", []byte(`{"orgSlug":"acme","orgName":"Acme"}`), "")
		require.NoError(t, err)
		_, _, err = r.GetOrganization(ctx, "acme")
		require.ErrorAs(t, err, &ve)
		assert.Error(t, ve.Migration)
		assert.NotEmpty(t, ve.Raw)
	})

	t.Run("strict mode rejects nulls", func(t *testing.T) {
		_, err := mem.Put(ctx, "orgs/acme.json", []byte(`{"schemaVersion":"1.1.0","org":{"orgSlug":"acme","orgName":"Acme",
			"contacts":[{"email":"a@acme.com"}],"settings":{"timezone":"UTC","locale":"en-US","defaultTeams":null}},"hunts":[]}`), "")
		require.NoError(t, err)
		_, _, err = r.GetOrganization(ctx, "acme")
		require.NoError(t, err)

		strict := newRepo(t, mem, func(o *Options) { o.Strict = true })
		_, _, err = strict.GetOrganization(ctx, "acme")
		assert.ErrorIs(t, err, ports.ErrValidationFailed)
	})

	t.Run("backend failure", func(t *testing.T) {
		mem.FailNext(context.DeadlineExceeded)
		_, _, err := r.GetOrganization(ctx, "acme")
		assert.ErrorIs(t, err, ports.ErrBackendUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestUpsertEvent(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, docstore.NewMemory())
	_, err := r.UpsertOrganization(ctx, "acme", newOrg("acme", "Acme"), "")
	require.NoError(t, err)

	ev, etag, err := r.UpsertEvent(ctx, "acme", newEvent("", "2026-05-01"), "")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", ev.ID)
	assert.True(t, ev.Audit.CreatedAt.Equal(fixedNow))
	assert.NotNil(t, ev.Stops)

	got, err := r.GetEvent(ctx, "acme", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Spring Hunt", got.Name)

	reg, _, err := r.GetRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.DateIndexEntry{{OrgSlug: "acme", EventID: "evt-1"}}, reg.ByDate["2026-05-01"])
	assert.Equal(t, 1, reg.Organizations[reg.FindOrganization("acme")].HuntsTotal)

	t.Run("replacing keeps the audit trail", func(t *testing.T) {
		upd := newEvent("evt-1", "2026-05-01")
		upd.Name = "Spring Hunt II"
		stored, next, err := r.UpsertEvent(ctx, "acme", upd, etag)
		require.NoError(t, err)
		etag = next
		assert.True(t, stored.Audit.CreatedAt.Equal(fixedNow))
		doc, _, err := r.GetOrganization(ctx, "acme")
		require.NoError(t, err)
		assert.Len(t, doc.Hunts, 1)
	})

	t.Run("stale etag", func(t *testing.T) {
		_, _, err := r.UpsertEvent(ctx, "acme", newEvent("evt-1", "2026-05-01"), `"stale"`)
		assert.ErrorIs(t, err, ports.ErrConcurrencyConflict)
	})

	t.Run("missing organization", func(t *testing.T) {
		_, _, err := r.UpsertEvent(ctx, "nobody", newEvent("", "2026-05-01"), "")
		assert.ErrorIs(t, err, ports.ErrNotFound)
	})

	t.Run("invalid event", func(t *testing.T) {
		bad := newEvent("evt-9", "2026-05-01")
		bad.EndDate = "2026-04-01"
		_, _, err := r.UpsertEvent(ctx, "acme", bad, "")
		assert.ErrorIs(t, err, ports.ErrValidationFailed)
		_, err = r.GetEvent(ctx, "acme", "evt-9")
		assert.ErrorIs(t, err, ports.ErrNotFound)
	})

	t.Run("nil event", func(t *testing.T) {
		_, _, err := r.UpsertEvent(ctx, "acme", nil, "")
		assert.ErrorIs(t, err, ports.ErrValidationFailed)
	})
}

func TestUpsertEvent_DateIndexMove(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, docstore.NewMemory())
	_, err := r.UpsertOrganization(ctx, "acme", newOrg("acme", "Acme"), "")
	require.NoError(t, err)
	_, _, err = r.UpsertEvent(ctx, "acme", newEvent("e1", "2026-05-01"), "")
	require.NoError(t, err)
	_, _, err = r.UpsertEvent(ctx, "acme", newEvent("e2", "2026-05-01"), "")
	require.NoError(t, err)

	_, _, err = r.UpsertEvent(ctx, "acme", newEvent("e1", "2026-06-15T10:00:00Z"), "")
	require.NoError(t, err)

	reg, regETag, err := r.GetRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.DateIndexEntry{{OrgSlug: "acme", EventID: "e2"}}, reg.ByDate["2026-05-01"])
	assert.Equal(t, []models.DateIndexEntry{{OrgSlug: "acme", EventID: "e1"}}, reg.ByDate["2026-06-15"])

	// same date again leaves the index untouched
	_, _, err = r.UpsertEvent(ctx, "acme", newEvent("e1", "2026-06-15"), "")
	require.NoError(t, err)
	again, againETag, err := r.GetRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, reg.ByDate, again.ByDate)
	assert.Equal(t, regETag, againETag)

	t.Run("organization rewrite drops removed hunts", func(t *testing.T) {
		doc, etag, err := r.GetOrganization(ctx, "acme")
		require.NoError(t, err)
		doc.Hunts = doc.Hunts[:1]
		_, err = r.UpsertOrganization(ctx, "acme", doc, etag)
		require.NoError(t, err)
		reg, _, err := r.GetRegistry(ctx)
		require.NoError(t, err)
		var dates []string
		for d := range reg.ByDate {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		assert.Equal(t, []string{"2026-06-15"}, dates)
		assert.Equal(t, 1, reg.Organizations[0].HuntsTotal)
	})
}

func TestUpsertEvent_RegistryRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("conflicts are absorbed", func(t *testing.T) {
		store := interfering(docstore.NewMemory())
		r := newRepo(t, store)
		_, err := r.UpsertOrganization(ctx, "acme", newOrg("acme", "Acme"), "")
		require.NoError(t, err)

		store.set(docstore.RegistryKey, 12)
		_, _, err = r.UpsertEvent(ctx, "acme", newEvent("e1", "2026-05-01"), "")
		require.NoError(t, err)

		reg, _, err := r.GetRegistry(ctx)
		require.NoError(t, err)
		assert.Len(t, reg.ByDate["2026-05-01"], 1)
	})

	t.Run("an ended context stops bookkeeping and the event write stands", func(t *testing.T) {
		store := interfering(docstore.NewMemory())
		r := newRepo(t, store)
		_, err := r.UpsertOrganization(ctx, "acme", newOrg("acme", "Acme"), "")
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		hits := 0
		store.onHit = func() {
			if hits++; hits == 3 {
				cancel()
			}
		}
		store.set(docstore.RegistryKey, 1000)
		_, _, err = r.UpsertEvent(cctx, "acme", newEvent("e1", "2026-05-01"), "")
		require.NoError(t, err)
		store.set(docstore.RegistryKey, 0)

		_, err = r.GetEvent(ctx, "acme", "e1")
		require.NoError(t, err)
		reg, _, err := r.GetRegistry(ctx)
		require.NoError(t, err)
		assert.Empty(t, reg.ByDate["2026-05-01"])
	})

	t.Run("the caller's own write is not retried", func(t *testing.T) {
		store := interfering(docstore.NewMemory())
		r := newRepo(t, store)
		_, err := r.UpsertOrganization(ctx, "acme", newOrg("acme", "Acme"), "")
		require.NoError(t, err)

		store.set("orgs/acme.json", 1)
		_, _, err = r.UpsertEvent(ctx, "acme", newEvent("e1", "2026-05-01"), "")
		assert.ErrorIs(t, err, ports.ErrConcurrencyConflict)
	})
}

func TestUpsertEvent_ConcurrentOrganizationsAllIndexed(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, docstore.NewMemory())
	const orgs = 40
	for i := 0; i < orgs; i++ {
		slug := fmt.Sprintf("org-%02d", i)
		_, err := r.UpsertOrganization(ctx, slug, newOrg(slug, "Org"), "")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < orgs; i++ {
		wg.Add(1)
		go func(slug string) {
			defer wg.Done()
			_, _, err := r.UpsertEvent(ctx, slug, newEvent("e1", "2026-05-01"), "")
			assert.NoError(t, err)
		}(fmt.Sprintf("org-%02d", i))
	}
	wg.Wait()

	got, err := r.ListEventsForDate(ctx, "2026-05-01", ports.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, got, orgs)
	reg, _, err := r.GetRegistry(ctx)
	require.NoError(t, err)
	assert.Len(t, reg.ByDate["2026-05-01"], orgs)
	assert.Len(t, reg.Organizations, orgs)
}

func TestListEventsForDate(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, docstore.NewMemory())
	for _, slug := range []string{"acme", "zeta"} {
		_, err := r.UpsertOrganization(ctx, slug, newOrg(slug, slug), "")
		require.NoError(t, err)
	}
	_, _, err := r.UpsertEvent(ctx, "zeta", newEvent("z1", "2026-05-01"), "")
	require.NoError(t, err)
	_, _, err = r.UpsertEvent(ctx, "acme", newEvent("a1", "2026-05-01"), "")
	require.NoError(t, err)
	draft := newEvent("a2", "2026-05-01T08:00:00Z")
	draft.Status = models.EventStatusDraft
	_, _, err = r.UpsertEvent(ctx, "acme", draft, "")
	require.NoError(t, err)
	_, _, err = r.UpsertEvent(ctx, "acme", newEvent("a3", "2026-05-02"), "")
	require.NoError(t, err)

	ids := func(list []models.EventSummary) []string {
		out := []string{}
		for _, s := range list {
			out = append(out, s.OrgSlug+"/"+s.EventID)
		}
		return out
	}

	all, err := r.ListEventsForDate(ctx, "2026-05-01", ports.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/a1", "acme/a2", "zeta/z1"}, ids(all))
	assert.Equal(t, "acme", all[0].OrgName)

	byOrg, err := r.ListEventsForDate(ctx, "2026-05-01", ports.EventFilter{OrgSlugs: []string{"zeta"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta/z1"}, ids(byOrg))

	byStatus, err := r.ListEventsForDate(ctx, "2026-05-01", ports.EventFilter{Statuses: []models.EventStatus{models.EventStatusDraft}})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/a2"}, ids(byStatus))

	empty, err := r.ListEventsForDate(ctx, "2030-01-01", ports.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = r.ListEventsForDate(ctx, "May 1st", ports.EventFilter{})
	assert.ErrorIs(t, err, ports.ErrValidationFailed)

	t.Run("stale hints are skipped", func(t *testing.T) {
		reg, etag, err := r.GetRegistry(ctx)
		require.NoError(t, err)
		reg.IndexEvent("2026-05-01", models.DateIndexEntry{OrgSlug: "ghost", EventID: "g1"})
		reg.IndexEvent("2026-05-01", models.DateIndexEntry{OrgSlug: "acme", EventID: "deleted"})
		reg.IndexEvent("2026-05-01", models.DateIndexEntry{OrgSlug: "acme", EventID: "a3"})
		_, err = r.UpsertRegistry(ctx, reg, etag)
		require.NoError(t, err)

		got, err := r.ListEventsForDate(ctx, "2026-05-01", ports.EventFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"acme/a1", "acme/a2", "zeta/z1"}, ids(got))
	})
}

func TestListEventsForDate_SkipLogging(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	seed := newRepo(t, mem)
	for _, slug := range []string{"acme", "zeta"} {
		_, err := seed.UpsertOrganization(ctx, slug, newOrg(slug, slug), "")
		require.NoError(t, err)
		_, _, err = seed.UpsertEvent(ctx, slug, newEvent(slug+"1", "2026-05-01"), "")
		require.NoError(t, err)
	}
	reg, etag, err := seed.GetRegistry(ctx)
	require.NoError(t, err)
	reg.IndexEvent("2026-05-01", models.DateIndexEntry{OrgSlug: "ghost", EventID: "g1"})
	_, err = seed.UpsertRegistry(ctx, reg, etag)
	require.NoError(t, err)
	_, err = mem.Put(ctx, "orgs/acme.json",
		[]byte(`{"schemaVersion":"1.1.0","org":{"orgSlug":"acme","orgName":"Acme","contacts":[]},"hunts":[]}`), "")
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	r, err := New(mem, nil, Options{AutoMigrate: true, Now: func() time.Time { return fixedNow }}, zap.New(core))
	require.NoError(t, err)

	got, err := r.ListEventsForDate(ctx, "2026-05-01", ports.EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "zeta", got[0].OrgSlug)

	invalid := logs.FilterMessage("skipping invalid organization in date listing").All()
	require.Len(t, invalid, 1)
	assert.Equal(t, zapcore.WarnLevel, invalid[0].Level)
	assert.Equal(t, "acme", invalid[0].ContextMap()["org_slug"])

	missing := logs.FilterMessage("skipping stale date index entry").All()
	require.Len(t, missing, 1)
	assert.Equal(t, zapcore.DebugLevel, missing[0].Level)
	assert.Equal(t, "ghost", missing[0].ContextMap()["org_slug"])
}

// indexedMemory is a docstore.IndexedStore over Memory with a map index.
type indexedMemory struct {
	*docstore.Memory
	mu    sync.Mutex
	index map[string][]models.DateIndexEntry
}

func (s *indexedMemory) PutOrganization(ctx context.Context, key, slug string, data []byte, expectedETag string, entries []docstore.DatedEntry) (string, error) {
	etag, err := s.Memory.Put(ctx, key, data, expectedETag)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for date, list := range s.index {
		kept := list[:0]
		for _, e := range list {
			if e.OrgSlug != slug {
				kept = append(kept, e)
			}
		}
		s.index[date] = kept
	}
	for _, e := range entries {
		s.index[e.Date] = append(s.index[e.Date], e.DateIndexEntry)
	}
	return etag, nil
}

func (s *indexedMemory) EventsOnDate(_ context.Context, date string) ([]models.DateIndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DateIndexEntry(nil), s.index[date]...), nil
}

func TestIndexedStore(t *testing.T) {
	ctx := context.Background()
	store := &indexedMemory{Memory: docstore.NewMemory(), index: map[string][]models.DateIndexEntry{}}
	r := newRepo(t, store)

	_, err := r.UpsertOrganization(ctx, "acme", newOrg("acme", "Acme"), "")
	require.NoError(t, err)
	_, _, err = r.UpsertEvent(ctx, "acme", newEvent("e1", "2026-05-01"), "")
	require.NoError(t, err)

	rows, err := store.EventsOnDate(ctx, "2026-05-01")
	require.NoError(t, err)
	assert.Equal(t, []models.DateIndexEntry{{OrgSlug: "acme", EventID: "e1"}}, rows)

	// the embedded index is still refreshed
	reg, etag, err := r.GetRegistry(ctx)
	require.NoError(t, err)
	assert.Len(t, reg.ByDate["2026-05-01"], 1)

	// the dedicated index is authoritative for date queries
	reg.ByDate = map[string][]models.DateIndexEntry{}
	_, err = r.UpsertRegistry(ctx, reg, etag)
	require.NoError(t, err)
	got, err := r.ListEventsForDate(ctx, "2026-05-01", ports.EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].EventID)

	_, _, err = r.UpsertEvent(ctx, "acme", newEvent("e1", "2026-05-03"), "")
	require.NoError(t, err)
	rows, err = store.EventsOnDate(ctx, "2026-05-01")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil, nil, Options{}, nil)
	assert.Error(t, err)
}

func TestStoredOrganizations(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	_, err := mem.Put(ctx, "orgs/zeta.json", []byte(`{}`), "")
	require.NoError(t, err)
	_, err = mem.Put(ctx, "orgs/acme.json", []byte(`{}`), "")
	require.NoError(t, err)
	_, err = mem.Put(ctx, "orgs/notes.txt", []byte(`x`), "")
	require.NoError(t, err)
	_, err = mem.Put(ctx, docstore.RegistryKey, []byte(`{}`), "")
	require.NoError(t, err)

	slugs, err := newRepo(t, mem).StoredOrganizations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "zeta"}, slugs)
}
