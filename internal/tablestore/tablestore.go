// Package tablestore keeps documents in PostgreSQL tables addressed by a
// partition and row key, with a dedicated date index table.
package tablestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aura-hunt/backend/internal/docstore"
	"github.com/aura-hunt/backend/internal/models"
	"github.com/aura-hunt/backend/internal/ports"
)

var _ docstore.IndexedStore = (*Store)(nil)

const (
	registryPartition = "registry"
	registryRow       = "registry"
	orgPartition      = "org"
)

// location is the table and keys a document key maps to.
type location struct {
	table     string
	partition string
	row       string
}

func locate(key string) (location, error) {
	if key == docstore.RegistryKey {
		return location{table: "hunt_registry", partition: registryPartition, row: registryRow}, nil
	}
	if slug, ok := docstore.SlugFromKey(key); ok {
		return location{table: "hunt_organizations", partition: orgPartition, row: slug}, nil
	}
	return location{}, ports.Invalid("document", key, fmt.Errorf("no table for key %q", key))
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the table backend.
type Store struct {
	pool     *pgxpool.Pool
	ownsPool bool
	logger   *zap.Logger
}

// New returns a store over pool. When ownsPool is set Close closes the pool.
func New(pool *pgxpool.Pool, ownsPool bool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, ownsPool: ownsPool, logger: logger}
}

// Get returns the document stored under key and its etag.
func (s *Store) Get(ctx context.Context, key string) (docstore.Object, error) {
	loc, err := locate(key)
	if err != nil {
		return docstore.Object{}, err
	}
	q := `SELECT doc, etag FROM ` + loc.table + ` WHERE partition_key = $1 AND row_key = $2`
	var obj docstore.Object
	err = s.pool.QueryRow(ctx, q, loc.partition, loc.row).Scan(&obj.Data, &obj.ETag)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Object{}, ports.NotFound("row %s/%s", loc.table, loc.row)
	}
	if err != nil {
		return docstore.Object{}, ports.Unavailable("get "+key, err)
	}
	return obj, nil
}

// Put writes data under key if expectedETag allows it and returns the new etag.
func (s *Store) Put(ctx context.Context, key string, data []byte, expectedETag string) (string, error) {
	loc, err := locate(key)
	if err != nil {
		return "", err
	}
	return put(ctx, s.pool, loc, key, data, expectedETag)
}

// put writes one document row. A precondition that matches no row is a conflict.
func put(ctx context.Context, db querier, loc location, key string, data []byte, expectedETag string) (string, error) {
	etag := uuid.NewString()
	var (
		q    string
		args = []any{loc.partition, loc.row, data, etag}
	)
	switch expectedETag {
	case "":
		q = `INSERT INTO ` + loc.table + ` (partition_key, row_key, doc, etag, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (partition_key, row_key) DO UPDATE SET doc = EXCLUDED.doc, etag = EXCLUDED.etag, updated_at = NOW()`
	case docstore.IfAbsent:
		q = `INSERT INTO ` + loc.table + ` (partition_key, row_key, doc, etag, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (partition_key, row_key) DO NOTHING`
	default:
		q = `UPDATE ` + loc.table + ` SET doc = $3, etag = $4, updated_at = NOW()
			WHERE partition_key = $1 AND row_key = $2 AND etag = $5`
		args = append(args, expectedETag)
	}
	tag, err := db.Exec(ctx, q, args...)
	if err != nil {
		return "", ports.Unavailable("put "+key, err)
	}
	if tag.RowsAffected() == 0 {
		return "", ports.Conflict(key)
	}
	return etag, nil
}

// List returns the organization keys when prefix is the organization prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if prefix != docstore.OrganizationPrefix {
		return nil, nil
	}
	const q = `SELECT row_key FROM hunt_organizations WHERE partition_key = $1 ORDER BY row_key`
	rows, err := s.pool.Query(ctx, q, orgPartition)
	if err != nil {
		return nil, ports.Unavailable("list "+prefix, err)
	}
	slugs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, ports.Unavailable("list "+prefix, err)
	}
	keys := make([]string, 0, len(slugs))
	for _, slug := range slugs {
		keys = append(keys, docstore.OrganizationPrefix+slug+".json")
	}
	return keys, nil
}

// PutOrganization writes the organization row and replaces its date index rows
// in one transaction.
func (s *Store) PutOrganization(ctx context.Context, key, slug string, data []byte, expectedETag string, entries []docstore.DatedEntry) (string, error) {
	loc, err := locate(key)
	if err != nil {
		return "", err
	}
	var etag string
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if etag, err = put(ctx, tx, loc, key, data, expectedETag); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM hunt_date_index WHERE org_slug = $1`, slug); err != nil {
			return ports.Unavailable("clear date index", err)
		}
		if len(entries) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(`INSERT INTO hunt_date_index (partition_key, row_key, org_slug, event_id)
				VALUES ($1, $2, $3, $4) ON CONFLICT (partition_key, row_key) DO NOTHING`,
				e.Date, e.OrgSlug+":"+e.EventID, e.OrgSlug, e.EventID)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return ports.Unavailable("write date index", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ports.ErrConcurrencyConflict) || errors.Is(err, ports.ErrBackendUnavailable) {
			return "", err
		}
		return "", ports.Unavailable("put "+key, err)
	}
	s.logger.Debug("organization row written", zap.String("org_slug", slug), zap.Int("index_rows", len(entries)))
	return etag, nil
}

// EventsOnDate reads the date index rows of date, ordered by row key.
func (s *Store) EventsOnDate(ctx context.Context, date string) ([]models.DateIndexEntry, error) {
	const q = `SELECT org_slug, event_id FROM hunt_date_index WHERE partition_key = $1 ORDER BY row_key`
	rows, err := s.pool.Query(ctx, q, date)
	if err != nil {
		return nil, ports.Unavailable("read date index", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.DateIndexEntry, error) {
		var e models.DateIndexEntry
		err := row.Scan(&e.OrgSlug, &e.EventID)
		return e, err
	})
	if err != nil {
		return nil, ports.Unavailable("read date index", err)
	}
	return entries, nil
}

// Close closes the pool if the store owns it.
func (s *Store) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}
