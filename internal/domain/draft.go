package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type DestinationType string

const (
	DestinationWebsite  DestinationType = "website"
	DestinationLeadForm DestinationType = "lead_form"
	DestinationCall     DestinationType = "call"
)

// Draft is the full in-progress definition of one campaign. The publish
// pipeline only reads it.
type Draft struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id"`
	Name        string        `json:"name"`
	Objective   string        `json:"objective"`
	Budget      Budget        `json:"budget"`
	Destination Destination   `json:"destination"`
	Creatives   []Creative    `json:"creatives"`
	Copy        []CopyVariant `json:"copy"`
	AdSets      []AdSetDraft  `json:"ad_sets"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type Budget struct {
	DailyMinor int64      `json:"daily_minor"` // minor currency units, e.g. cents
	Currency   string     `json:"currency"`
	StartAt    *time.Time `json:"start_at,omitempty"`
	EndAt      *time.Time `json:"end_at,omitempty"`
}

type Destination struct {
	Type   DestinationType `json:"type"`
	URL    string          `json:"url,omitempty"`
	FormID string          `json:"form_id,omitempty"`
	Phone  string          `json:"phone,omitempty"`
}

// Creative references an image in internal storage. Optional creatives are
// alternates: their failure does not fail the publish.
type Creative struct {
	Key        string `json:"key"`
	StorageRef string `json:"storage_ref"`
	Required   bool   `json:"required"`
}

type CopyVariant struct {
	Key          string `json:"key"`
	Headline     string `json:"headline"`
	PrimaryText  string `json:"primary_text"`
	Description  string `json:"description,omitempty"`
	CallToAction string `json:"call_to_action"`
}

type Location struct {
	Label    string  `json:"label"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusKm float64 `json:"radius_km"`
}

type Targeting struct {
	Countries []string   `json:"countries,omitempty"`
	Locations []Location `json:"locations,omitempty"`
	AgeMin    int        `json:"age_min"`
	AgeMax    int        `json:"age_max"`
	Genders   []string   `json:"genders,omitempty"`
}

type AdSetDraft struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	OptimizationGoal string    `json:"optimization_goal"`
	Targeting        Targeting `json:"targeting"`
	Ads              []AdDraft `json:"ads"`
}

type AdDraft struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CreativeKey string `json:"creative_key"`
	CopyKey     string `json:"copy_key"`
}

func (d *Draft) Creative(key string) (Creative, bool) {
	for _, c := range d.Creatives {
		if c.Key == key {
			return c, true
		}
	}
	return Creative{}, false
}

func (d *Draft) CopyVariant(key string) (CopyVariant, bool) {
	for _, c := range d.Copy {
		if c.Key == key {
			return c, true
		}
	}
	return CopyVariant{}, false
}

// AdCount returns the number of ads across all ad sets.
func (d *Draft) AdCount() int {
	n := 0
	for _, as := range d.AdSets {
		n += len(as.Ads)
	}
	return n
}

// Validate runs the entity-level validation a draft must pass before it may
// be published. All violations are collected.
func (d *Draft) Validate() error {
	var v []Violation
	add := func(code, format string, args ...any) {
		v = append(v, Violation{Code: code, Message: fmt.Sprintf(format, args...), Hard: true})
	}

	if strings.TrimSpace(d.ID) == "" {
		add("missing_id", "draft id is required")
	}
	if strings.TrimSpace(d.OwnerID) == "" {
		add("missing_owner", "owner is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		add("missing_name", "campaign name is required")
	}

	if d.Budget.DailyMinor <= 0 {
		add("invalid_budget", "daily budget must be positive")
	}
	if len(d.Budget.Currency) != 3 {
		add("invalid_currency", "currency must be a 3-letter code, got %q", d.Budget.Currency)
	}
	if d.Budget.StartAt != nil && d.Budget.EndAt != nil && !d.Budget.EndAt.After(*d.Budget.StartAt) {
		add("invalid_schedule", "end time must be after start time")
	}

	switch d.Destination.Type {
	case DestinationWebsite:
		u, err := url.Parse(d.Destination.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("invalid_destination", "website destination needs an http(s) url")
		}
	case DestinationLeadForm:
		if d.Destination.FormID == "" {
			add("invalid_destination", "lead form destination needs a form id")
		}
	case DestinationCall:
		if d.Destination.Phone == "" {
			add("invalid_destination", "call destination needs a phone number")
		}
	default:
		add("invalid_destination", "unknown destination type %q", d.Destination.Type)
	}

	creatives := make(map[string]bool, len(d.Creatives))
	for _, c := range d.Creatives {
		if c.Key == "" || c.StorageRef == "" {
			add("invalid_creative", "creative needs a key and a storage reference")
			continue
		}
		if creatives[c.Key] {
			add("duplicate_creative", "creative %q defined twice", c.Key)
		}
		creatives[c.Key] = true
	}
	copies := make(map[string]bool, len(d.Copy))
	for _, c := range d.Copy {
		if c.Key == "" || strings.TrimSpace(c.Headline) == "" || strings.TrimSpace(c.PrimaryText) == "" {
			add("invalid_copy", "copy variant %q needs a headline and primary text", c.Key)
			continue
		}
		copies[c.Key] = true
	}

	if len(d.AdSets) == 0 {
		add("missing_ad_set", "at least one ad set is required")
	}
	ids := make(map[string]bool)
	for _, as := range d.AdSets {
		if as.ID == "" || ids[as.ID] {
			add("invalid_ad_set", "ad set ids must be present and unique, got %q", as.ID)
		}
		ids[as.ID] = true
		validateTargeting(as.ID, as.Targeting, add)
		if len(as.Ads) == 0 {
			add("missing_ad", "ad set %q has no ads", as.ID)
		}
		for _, ad := range as.Ads {
			if ad.ID == "" || ids[ad.ID] {
				add("invalid_ad", "ad ids must be present and unique, got %q", ad.ID)
			}
			ids[ad.ID] = true
			if !creatives[ad.CreativeKey] {
				add("unknown_creative", "ad %q references unknown creative %q", ad.ID, ad.CreativeKey)
			}
			if !copies[ad.CopyKey] {
				add("unknown_copy", "ad %q references unknown copy %q", ad.ID, ad.CopyKey)
			}
		}
	}

	if len(v) > 0 {
		return &ValidationError{Subject: "draft " + d.ID, Violations: v}
	}
	return nil
}

func validateTargeting(adSetID string, t Targeting, add func(code, format string, args ...any)) {
	if len(t.Countries) == 0 && len(t.Locations) == 0 {
		add("missing_location", "ad set %q needs at least one country or location", adSetID)
	}
	for _, l := range t.Locations {
		if l.Lat < -90 || l.Lat > 90 || l.Lng < -180 || l.Lng > 180 || l.RadiusKm <= 0 {
			add("invalid_location", "ad set %q has invalid location %q", adSetID, l.Label)
		}
	}
	if t.AgeMin < 13 || t.AgeMax > 65 || t.AgeMin > t.AgeMax {
		add("invalid_age_range", "ad set %q age range %d-%d is outside 13-65", adSetID, t.AgeMin, t.AgeMax)
	}
}
