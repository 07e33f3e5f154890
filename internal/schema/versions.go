// Package schema declares the current and historical shapes of stored
// documents and validates candidates against them, migrating outdated ones.
package schema

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/aura-hunt/backend/internal/migration"
)

// Data types stored by the repositories.
const (
	TypeRegistry     = "registry"
	TypeOrganization = "organization"
)

// Current schema versions.
const (
	RegistryVersion     = "1.2.0"
	OrganizationVersion = "1.1.0"
)

var currentVersions = map[string]string{
	TypeRegistry:     RegistryVersion,
	TypeOrganization: OrganizationVersion,
}

// CurrentVersion returns the version new documents of dataType are written in.
func CurrentVersion(dataType string) (string, error) {
	v, ok := currentVersions[dataType]
	if !ok {
		return "", fmt.Errorf("unknown data type %q", dataType)
	}
	return v, nil
}

// NewEngine returns a migration engine holding every registered chain,
// verified against the current versions.
func NewEngine() (*migration.Engine, error) {
	e := migration.NewEngine()
	if err := e.Register(TypeRegistry, registryMigrations()...); err != nil {
		return nil, err
	}
	if err := e.Register(TypeOrganization, organizationMigrations()...); err != nil {
		return nil, err
	}
	for dataType, current := range currentVersions {
		if err := e.Verify(dataType, current); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// DetectVersion returns the schema version of doc. An explicit schemaVersion
// wins; untagged documents are recognized by shape.
func DetectVersion(dataType string, doc migration.Document) (string, error) {
	if v, ok := doc["schemaVersion"]; ok && v != nil {
		s, ok := v.(string)
		if !ok || s == "" {
			return "", fmt.Errorf("schemaVersion must be a non-empty string")
		}
		if _, err := semver.StrictNewVersion(s); err != nil {
			return "", fmt.Errorf("schemaVersion %q: %w", s, err)
		}
		return s, nil
	}
	switch dataType {
	case TypeRegistry:
		return "1.0.0", nil
	case TypeOrganization:
		if _, nested := doc["org"]; nested {
			return "1.0.0", nil
		}
		if _, flat := doc["orgSlug"]; flat {
			return "0.9.0", nil
		}
		return "", fmt.Errorf("cannot detect organization schema version")
	}
	return "", fmt.Errorf("unknown data type %q", dataType)
}

// compareVersions orders two valid versions like strings.Compare.
func compareVersions(a, b string) (int, error) {
	va, err := semver.StrictNewVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := semver.StrictNewVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}
