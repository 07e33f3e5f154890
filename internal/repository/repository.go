// Package repository implements the registry and event ports over any
// docstore.Store. Reads validate and migrate stored documents, writing the
// upgraded form back; writes validate before the conditional put.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-hunt/backend/internal/docstore"
	"github.com/aura-hunt/backend/internal/models"
	"github.com/aura-hunt/backend/internal/ports"
	"github.com/aura-hunt/backend/internal/schema"
)

var _ ports.Adapter = (*Repository)(nil)

// Options tune a Repository.
type Options struct {
	AutoMigrate bool
	Strict      bool
	// NoWriteBack keeps migrated documents in memory only.
	NoWriteBack bool
	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Repository is the document adapter over one store.
type Repository struct {
	store     docstore.Store
	validator *schema.Validator
	opts      Options
	logger    *zap.Logger
}

// New returns a repository over store. A nil validator uses the default schemas.
func New(store docstore.Store, validator *schema.Validator, opts Options, logger *zap.Logger) (*Repository, error) {
	if store == nil {
		return nil, errors.New("document store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		v, err := schema.NewValidator(nil)
		if err != nil {
			return nil, fmt.Errorf("build validator: %w", err)
		}
		validator = v
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Repository{store: store, validator: validator, opts: opts, logger: logger}, nil
}

// Close releases the underlying store.
func (r *Repository) Close() error { return r.store.Close() }

// loaded is a validated document as read from the store.
type loaded struct {
	data any
	etag string
	// migrated is true when the stored form was outdated.
	migrated bool
}

// load reads key and runs it through the validator, writing a migrated
// document back with the etag it was read at.
func (r *Repository) load(ctx context.Context, dataType, key string) (loaded, error) {
	obj, err := r.store.Get(ctx, key)
	if err != nil {
		return loaded{}, err
	}
	res := r.validator.ValidateRaw(dataType, obj.Data, schema.Options{
		AutoMigrate:     r.opts.AutoMigrate,
		Strict:          r.opts.Strict,
		IncludeWarnings: true,
	})
	if !res.Success {
		r.logger.Error("stored document failed validation",
			zap.String("key", key),
			zap.String("data_type", dataType),
			zap.String("from_version", res.FromVersion),
			zap.Int("applied_steps", len(res.AppliedSteps)),
			zap.Error(res.Errors),
		)
		return loaded{}, ports.FromResult(dataType, key, res, obj.Data)
	}
	for _, w := range res.Warnings {
		r.logger.Debug("document validation warning", zap.String("key", key), zap.String("warning", w))
	}
	out := loaded{data: res.Data, etag: obj.ETag, migrated: res.MigrationApplied}
	if res.MigrationApplied {
		out.etag = r.writeBack(ctx, key, res, obj.ETag)
	}
	return out, nil
}

// writeBack persists a migrated document with the etag it was read at and
// returns the etag now current for the caller. Failures are logged only; the
// read already holds valid data.
func (r *Repository) writeBack(ctx context.Context, key string, res schema.Result, readETag string) string {
	log := r.logger.With(
		zap.String("key", key),
		zap.String("from_version", res.FromVersion),
		zap.String("to_version", res.ToVersion),
	)
	if r.opts.NoWriteBack {
		log.Info("migrated document not written back")
		return readETag
	}
	raw, err := json.Marshal(res.Data)
	if err != nil {
		log.Warn("encode migrated document", zap.Error(err))
		return readETag
	}
	etag, err := r.putDocument(ctx, key, res.Data, raw, readETag)
	if err != nil {
		if errors.Is(err, ports.ErrConcurrencyConflict) {
			log.Info("migrated document write-back lost to a concurrent writer")
		} else {
			log.Warn("migrated document write-back failed", zap.Error(err))
		}
		return readETag
	}
	log.Info("migrated document written back", zap.Int("steps", len(res.AppliedSteps)))
	return etag
}

// putDocument writes raw under key. Organization documents on an indexed
// store update their date index rows in the same write.
func (r *Repository) putDocument(ctx context.Context, key string, doc any, raw []byte, expectedETag string) (string, error) {
	if ix, ok := r.store.(docstore.IndexedStore); ok {
		if org, isOrg := doc.(*models.OrganizationDocument); isOrg {
			return ix.PutOrganization(ctx, key, org.Org.OrgSlug, raw, expectedETag, datedEntries(org))
		}
	}
	return r.store.Put(ctx, key, raw, expectedETag)
}

func datedEntries(doc *models.OrganizationDocument) []docstore.DatedEntry {
	entries := make([]docstore.DatedEntry, 0, len(doc.Hunts))
	for i := range doc.Hunts {
		date, err := doc.Hunts[i].DateKey()
		if err != nil {
			continue
		}
		entries = append(entries, docstore.DatedEntry{
			Date:           date,
			DateIndexEntry: models.DateIndexEntry{OrgSlug: doc.Org.OrgSlug, EventID: doc.Hunts[i].ID},
		})
	}
	return entries
}

// clone deep-copies a document through its JSON form.
func clone[T any](v *T) (*T, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
