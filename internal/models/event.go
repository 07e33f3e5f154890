package models

import (
	"fmt"
	"time"
)

// EventStatus is the lifecycle state of a hunt. Archival is a status, never a delete.
type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusScheduled EventStatus = "scheduled"
	EventStatusActive    EventStatus = "active"
	EventStatusCompleted EventStatus = "completed"
	EventStatusArchived  EventStatus = "archived"
)

// Event is one hunt embedded in an organization document.
//
// Teams holds the multi-team model; TeamCaptain and TeamMembers hold the legacy
// single-team model. At most one of the two forms is populated.
type Event struct {
	ID          string      `json:"id" validate:"required"`
	Slug        string      `json:"slug" validate:"required,slug"`
	Name        string      `json:"name" validate:"required,max=255"`
	StartDate   string      `json:"startDate" validate:"required,eventdate"`
	EndDate     string      `json:"endDate,omitempty" validate:"omitempty,eventdate"`
	Status      EventStatus `json:"status" validate:"required,oneof=draft scheduled active completed archived"`
	Access      Access      `json:"access"`
	Scoring     Scoring     `json:"scoring"`
	Moderation  Moderation  `json:"moderation"`
	Teams       []Team      `json:"teams,omitempty" validate:"omitempty,excluded_with=TeamCaptain,dive"`
	TeamCaptain string      `json:"teamCaptain,omitempty" validate:"omitempty,email"`
	TeamMembers []string    `json:"teamMembers,omitempty" validate:"omitempty,excluded_with=Teams,dive,email"`
	Stops       []Stop      `json:"stops" validate:"dive"`
	Uploads     Uploads     `json:"uploads"`
	Audit       Audit       `json:"audit"`
}

// Access controls how players join a hunt.
type Access struct {
	Visibility  string `json:"visibility" validate:"required,oneof=public unlisted private"`
	JoinCode    string `json:"joinCode,omitempty"`
	PinRequired bool   `json:"pinRequired"`
}

// Scoring holds the points awarded per stop.
type Scoring struct {
	BasePerStop   int `json:"basePerStop" validate:"gte=0"`
	BonusCreative int `json:"bonusCreative" validate:"gte=0"`
}

// Moderation configures review of uploaded media.
type Moderation struct {
	Required  bool     `json:"required"`
	Reviewers []string `json:"reviewers" validate:"dive,email"`
}

// Team is one team in the multi-team model.
type Team struct {
	ID      string   `json:"id" validate:"required"`
	Name    string   `json:"name" validate:"required"`
	Captain string   `json:"captain,omitempty" validate:"omitempty,email"`
	Members []string `json:"members" validate:"dive,email"`
}

// Stop is a location players must reach.
type Stop struct {
	ID          string            `json:"id" validate:"required"`
	Title       string            `json:"title" validate:"required"`
	Description string            `json:"description,omitempty"`
	Hints       []string          `json:"hints"`
	Geo         *Geo              `json:"geo,omitempty"`
	Media       MediaRequirements `json:"media"`
}

// Geo is the circle a player has to be within for a stop.
type Geo struct {
	Lat          float64 `json:"lat" validate:"latitude"`
	Lng          float64 `json:"lng" validate:"longitude"`
	RadiusMeters int     `json:"radiusMeters" validate:"gt=0"`
}

// MediaRequirements describe what a team must upload at a stop.
type MediaRequirements struct {
	Required bool     `json:"required"`
	Types    []string `json:"types"`
	MinCount int      `json:"minCount" validate:"gte=0"`
}

// Uploads aggregates the media uploaded for a hunt.
type Uploads struct {
	Summary UploadSummary `json:"summary"`
	Assets  []MediaRecord `json:"assets,omitempty" validate:"dive"`
}

// UploadSummary counts uploads.
type UploadSummary struct {
	Total          int        `json:"total" validate:"gte=0"`
	Photos         int        `json:"photos" validate:"gte=0"`
	Videos         int        `json:"videos" validate:"gte=0"`
	LastUploadedAt *time.Time `json:"lastUploadedAt,omitempty"`
}

// MediaRecord is the record supplied by the media service for one asset.
// It is stored verbatim.
type MediaRecord struct {
	URL        string    `json:"url" validate:"required"`
	PublicID   string    `json:"publicId" validate:"required"`
	MediaType  string    `json:"mediaType" validate:"required"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Audit records who created a hunt.
type Audit struct {
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EventSummary is the projection returned by date listings.
type EventSummary struct {
	OrgSlug   string      `json:"orgSlug"`
	OrgName   string      `json:"orgName"`
	EventID   string      `json:"eventId"`
	Slug      string      `json:"slug"`
	Name      string      `json:"name"`
	StartDate string      `json:"startDate"`
	EndDate   string      `json:"endDate,omitempty"`
	Status    EventStatus `json:"status"`
}

// Roster returns the hunt's teams in the multi-team form, converting the
// legacy captain/members fields into a single team.
func (e *Event) Roster() []Team {
	if len(e.Teams) > 0 {
		return e.Teams
	}
	if e.TeamCaptain == "" && len(e.TeamMembers) == 0 {
		return nil
	}
	return []Team{{
		ID:      e.ID + "-team",
		Name:    e.Name,
		Captain: e.TeamCaptain,
		Members: append([]string(nil), e.TeamMembers...),
	}}
}

// DateKey returns the start date's index key.
func (e *Event) DateKey() (string, error) {
	return DateKey(e.StartDate)
}

// Summarize projects the hunt for org.
func (e *Event) Summarize(org Organization) EventSummary {
	return EventSummary{
		OrgSlug:   org.OrgSlug,
		OrgName:   org.OrgName,
		EventID:   e.ID,
		Slug:      e.Slug,
		Name:      e.Name,
		StartDate: e.StartDate,
		EndDate:   e.EndDate,
		Status:    e.Status,
	}
}

// DateLayout is the layout of date index keys.
const DateLayout = "2006-01-02"

// DateKey normalizes a YYYY-MM-DD or RFC3339 value into a YYYY-MM-DD key.
// RFC3339 values keep their own offset; the key is the local calendar day.
func DateKey(s string) (string, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t.Format(DateLayout), nil
}
