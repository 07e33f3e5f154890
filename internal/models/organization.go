package models

// OrganizationDocument is the per-organization document holding its hunts.
type OrganizationDocument struct {
	SchemaVersion string       `json:"schemaVersion" validate:"required,semver"`
	Org           Organization `json:"org"`
	Privacy       Privacy      `json:"privacy"`
	Hunts         []Event      `json:"hunts" validate:"unique=ID,dive"`
}

// Organization is the tenant profile embedded in its document.
type Organization struct {
	OrgSlug  string      `json:"orgSlug" validate:"required,slug"`
	OrgName  string      `json:"orgName" validate:"required,max=255"`
	Contacts []Contact   `json:"contacts" validate:"required,min=1,dive"`
	Settings OrgSettings `json:"settings"`
}

// Contact is a person reachable for an organization.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role,omitempty"`
}

// OrgSettings are organization-wide defaults for new hunts.
type OrgSettings struct {
	DefaultTeams []string `json:"defaultTeams"`
	Timezone     string   `json:"timezone" validate:"required,timezone"`
	Locale       string   `json:"locale" validate:"required,bcp47_language_tag"`
}

// Privacy controls how an organization's media and results are shared.
type Privacy struct {
	ShareMediaPublicly bool `json:"shareMediaPublicly"`
	AllowLeaderboard   bool `json:"allowLeaderboard"`
	RetainUploadsDays  int  `json:"retainUploadsDays" validate:"gte=0"`
}

const (
	DefaultTimezone          = "UTC"
	DefaultLocale            = "en-US"
	DefaultRetainUploadsDays = 365
)

// FindEvent returns the index of the hunt with id, or -1.
func (d *OrganizationDocument) FindEvent(id string) int {
	for i := range d.Hunts {
		if d.Hunts[i].ID == id {
			return i
		}
	}
	return -1
}

// PrimaryContactEmail returns the first contact's email.
func (d *OrganizationDocument) PrimaryContactEmail() string {
	if len(d.Org.Contacts) == 0 {
		return ""
	}
	return d.Org.Contacts[0].Email
}

// Summary projects the document onto its registry summary.
func (d *OrganizationDocument) Summary() OrganizationSummary {
	return OrganizationSummary{
		OrgSlug:             d.Org.OrgSlug,
		OrgName:             d.Org.OrgName,
		PrimaryContactEmail: d.PrimaryContactEmail(),
		HuntsTotal:          len(d.Hunts),
		CommonTeams:         append([]string{}, d.Org.Settings.DefaultTeams...),
	}
}
