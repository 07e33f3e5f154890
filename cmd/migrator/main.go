// Package main upgrades every stored document to the current schema version
// by reading it through the adapter, which writes migrated documents back.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-hunt/backend/config"
	"github.com/aura-hunt/backend/internal/adapters"
	"github.com/aura-hunt/backend/internal/ports"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "validate and migrate in memory without writing back")
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	ac := cfg.Adapters()
	ac.AutoMigrate = true
	ac.NoWriteBack = *dryRun

	reg := adapters.New(logger)
	if err := reg.Configure(ac); err != nil {
		logger.Fatal("configure storage", zap.Error(err))
	}
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("interrupted, stopping")
		cancel()
	}()

	adapter, err := reg.Adapter(ctx)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	rep, err := run(ctx, adapter, logger)
	if err != nil {
		logger.Error("migration run aborted", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("migration run finished",
		zap.Bool("dry_run", *dryRun),
		zap.Int("organizations", rep.Organizations),
		zap.Int("invalid", len(rep.Invalid)),
		zap.Strings("invalid_orgs", rep.Invalid),
	)
	if len(rep.Invalid) > 0 {
		os.Exit(2)
	}
}

// report is the outcome of one run.
type report struct {
	RegistryVersion string
	Organizations   int
	// Invalid lists organizations whose stored document failed validation.
	Invalid []string
}

// organizationScanner lists organization documents directly from the store.
type organizationScanner interface {
	StoredOrganizations(ctx context.Context) ([]string, error)
}

// run reads the registry and every organization document once. Validation
// failures are collected; any other error stops the run.
func run(ctx context.Context, repo ports.RegistryRepo, logger *zap.Logger) (report, error) {
	var rep report
	regDoc, _, err := repo.GetRegistry(ctx)
	if err != nil {
		return rep, err
	}
	rep.RegistryVersion = regDoc.SchemaVersion

	slugs, err := organizationSlugs(ctx, repo)
	if err != nil {
		return rep, err
	}
	for _, slug := range slugs {
		doc, _, err := repo.GetOrganization(ctx, slug)
		switch {
		case errors.Is(err, ports.ErrValidationFailed):
			logger.Warn("organization document is invalid", zap.String("org_slug", slug), zap.Error(err))
			rep.Invalid = append(rep.Invalid, slug)
			continue
		case errors.Is(err, ports.ErrNotFound):
			logger.Warn("registry lists a missing organization", zap.String("org_slug", slug))
			continue
		case err != nil:
			return rep, err
		}
		rep.Organizations++
		logger.Debug("organization checked",
			zap.String("org_slug", slug),
			zap.String("schema_version", doc.SchemaVersion),
			zap.Int("hunts", len(doc.Hunts)),
		)
	}
	return rep, nil
}

func organizationSlugs(ctx context.Context, repo ports.RegistryRepo) ([]string, error) {
	if s, ok := repo.(organizationScanner); ok {
		return s.StoredOrganizations(ctx)
	}
	summaries, err := repo.ListOrganizations(ctx, ports.OrganizationFilter{})
	if err != nil {
		return nil, err
	}
	slugs := make([]string, 0, len(summaries))
	for _, s := range summaries {
		slugs = append(slugs, s.OrgSlug)
	}
	return slugs, nil
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
