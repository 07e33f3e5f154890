package schema

import (
	"fmt"

	"github.com/aura-hunt/backend/internal/migration"
	"github.com/aura-hunt/backend/internal/models"
)

type doc = migration.Document

func registryMigrations() []migration.Migration {
	return []migration.Migration{
		{
			From:        "1.0.0",
			To:          "1.1.0",
			Description: "add byDate event index",
			Transform: func(d doc) (doc, error) {
				migration.SetDefault(d, "organizations", []any{})
				migration.SetDefault(d, "byDate", map[string]any{})
				d["schemaVersion"] = "1.1.0"
				return d, nil
			},
			Validate: func(d doc) error {
				if _, ok := d["byDate"].(map[string]any); !ok {
					return fmt.Errorf("byDate must be an object")
				}
				if _, ok := d["organizations"].([]any); !ok {
					return fmt.Errorf("organizations must be an array")
				}
				return nil
			},
		},
		{
			From:        "1.1.0",
			To:          "1.2.0",
			Description: "add featureFlags and nested upload limits",
			Transform: func(d doc) (doc, error) {
				migration.SetDefault(d, "featureFlags", map[string]any{})
				limits := migration.Object(d, "limits")
				// 1.1.0 kept the upload limits at the top level.
				for _, key := range []string{"maxUploadSizeMB", "maxMediaPerTeam", "allowedMediaTypes"} {
					if v, ok := d[key]; ok {
						migration.SetDefault(limits, key, v)
						delete(d, key)
					}
				}
				migration.SetDefault(limits, "maxUploadSizeMB", models.DefaultMaxUploadSizeMB)
				migration.SetDefault(limits, "maxMediaPerTeam", models.DefaultMaxMediaPerTeam)
				migration.SetDefault(limits, "allowedMediaTypes", stringsToAny(models.DefaultAllowedMediaTypes))
				meta := migration.Object(d, "metadata")
				migration.SetDefault(meta, "name", "hunts")
				migration.SetDefault(meta, "environment", "production")
				d["schemaVersion"] = "1.2.0"
				return d, nil
			},
			Validate: func(d doc) error {
				return migration.Require(d, "featureFlags", "limits.maxUploadSizeMB", "limits.allowedMediaTypes", "metadata.name")
			},
		},
	}
}

func organizationMigrations() []migration.Migration {
	return []migration.Migration{
		{
			From:        "0.9.0",
			To:          "1.0.0",
			Description: "wrap flat organization fields into org",
			Transform: func(d doc) (doc, error) {
				slug := migration.String(d, "orgSlug")
				if slug == "" {
					return nil, fmt.Errorf("legacy document has no orgSlug")
				}
				contact := doc{}
				if email := migration.String(d, "contactEmail"); email != "" {
					contact["email"] = email
				}
				if name := migration.String(d, "contactName"); name != "" {
					contact["name"] = name
				}
				contacts := []any{}
				if len(contact) > 0 {
					contacts = append(contacts, contact)
				}
				settings := doc{
					"defaultTeams": valueOr(d["defaultTeams"], []any{}),
					"timezone":     valueOr(d["timezone"], models.DefaultTimezone),
					"locale":       valueOr(d["locale"], models.DefaultLocale),
				}
				out := doc{
					"schemaVersion": "1.0.0",
					"org": doc{
						"orgSlug":  slug,
						"orgName":  valueOr(d["orgName"], slug),
						"contacts": contacts,
						"settings": settings,
					},
					"hunts": valueOr(d["hunts"], []any{}),
				}
				return out, nil
			},
			Validate: func(d doc) error {
				if err := migration.Require(d, "org.orgSlug", "org.orgName", "org.contacts", "hunts"); err != nil {
					return err
				}
				contacts, _ := migration.Lookup(d, "org.contacts")
				if list, ok := contacts.([]any); !ok || len(list) == 0 {
					return fmt.Errorf("org.contacts needs at least one contact")
				}
				return nil
			},
		},
		{
			From:        "1.0.0",
			To:          "1.1.0",
			Description: "add privacy defaults",
			Transform: func(d doc) (doc, error) {
				privacy := migration.Object(d, "privacy")
				migration.SetDefault(privacy, "shareMediaPublicly", false)
				migration.SetDefault(privacy, "allowLeaderboard", true)
				migration.SetDefault(privacy, "retainUploadsDays", models.DefaultRetainUploadsDays)
				migration.SetDefault(d, "hunts", []any{})
				d["schemaVersion"] = "1.1.0"
				return d, nil
			},
			Validate: func(d doc) error {
				if _, ok := d["privacy"].(map[string]any); !ok {
					return fmt.Errorf("privacy must be an object")
				}
				return migration.Require(d, "org.orgSlug")
			},
		},
	}
}

func valueOr(v, fallback any) any {
	if v == nil {
		return fallback
	}
	return v
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
