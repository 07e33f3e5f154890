package schema

import "github.com/aura-hunt/backend/internal/models"

func registryDefaults(d *models.RegistryDocument) {
	if d.FeatureFlags == nil {
		d.FeatureFlags = map[string]bool{}
	}
	if d.Organizations == nil {
		d.Organizations = []models.OrganizationSummary{}
	}
	if d.ByDate == nil {
		d.ByDate = map[string][]models.DateIndexEntry{}
	}
	if d.Limits.AllowedMediaTypes == nil {
		d.Limits.AllowedMediaTypes = append([]string(nil), models.DefaultAllowedMediaTypes...)
	}
	if d.Metadata.Name == "" {
		d.Metadata.Name = "hunts"
	}
	if d.Metadata.Environment == "" {
		d.Metadata.Environment = "production"
	}
}

func organizationDefaults(d *models.OrganizationDocument) {
	s := &d.Org.Settings
	if s.Timezone == "" {
		s.Timezone = models.DefaultTimezone
	}
	if s.Locale == "" {
		s.Locale = models.DefaultLocale
	}
	if s.DefaultTeams == nil {
		s.DefaultTeams = []string{}
	}
	if d.Hunts == nil {
		d.Hunts = []models.Event{}
	}
	for i := range d.Hunts {
		eventDefaults(&d.Hunts[i])
	}
}

func eventDefaults(e *models.Event) {
	if e.Status == "" {
		e.Status = models.EventStatusDraft
	}
	if e.Access.Visibility == "" {
		e.Access.Visibility = "private"
	}
	if e.Stops == nil {
		e.Stops = []models.Stop{}
	}
	if e.Moderation.Reviewers == nil {
		e.Moderation.Reviewers = []string{}
	}
	for i := range e.Stops {
		if e.Stops[i].Hints == nil {
			e.Stops[i].Hints = []string{}
		}
	}
}
