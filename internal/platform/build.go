package platform

import (
	"fmt"
	"strings"
	"time"

	"ad_publisher/internal/domain"
)

const statusActive = "ACTIVE"

var defaultObjectives = map[domain.DestinationType]string{
	domain.DestinationWebsite:  "OUTCOME_TRAFFIC",
	domain.DestinationLeadForm: "OUTCOME_LEADS",
	domain.DestinationCall:     "OUTCOME_ENGAGEMENT",
}

var defaultGoals = map[domain.DestinationType]string{
	domain.DestinationWebsite:  "LINK_CLICKS",
	domain.DestinationLeadForm: "LEAD_GENERATION",
	domain.DestinationCall:     "QUALITY_CALL",
}

func campaignRequest(d *domain.Draft) CampaignRequest {
	objective := d.Objective
	if objective == "" {
		objective = defaultObjectives[d.Destination.Type]
	}
	return CampaignRequest{
		Name:                d.Name,
		Objective:           objective,
		Status:              statusActive,
		SpecialAdCategories: []string{},
	}
}

func adSetRequest(d *domain.Draft, as domain.AdSetDraft, campaignID, pageID string) AdSetRequest {
	goal := as.OptimizationGoal
	if goal == "" {
		goal = defaultGoals[d.Destination.Type]
	}
	name := as.Name
	if name == "" {
		name = d.Name + " - " + as.ID
	}

	req := AdSetRequest{
		Name:             name,
		CampaignID:       campaignID,
		DailyBudget:      d.Budget.DailyMinor,
		BillingEvent:     "IMPRESSIONS",
		OptimizationGoal: goal,
		Targeting:        targetingSpec(as.Targeting),
		Status:           statusActive,
	}
	if d.Budget.StartAt != nil {
		req.StartTime = d.Budget.StartAt.UTC().Format(time.RFC3339)
	}
	if d.Budget.EndAt != nil {
		req.EndTime = d.Budget.EndAt.UTC().Format(time.RFC3339)
	}
	if d.Destination.Type == domain.DestinationLeadForm && pageID != "" {
		req.PromotedObject = &PromotedObject{PageID: pageID}
	}
	return req
}

func targetingSpec(t domain.Targeting) TargetingSpec {
	spec := TargetingSpec{
		GeoLocations: GeoLocations{Countries: t.Countries},
		AgeMin:       t.AgeMin,
		AgeMax:       t.AgeMax,
	}
	for _, l := range t.Locations {
		spec.GeoLocations.CustomPoints = append(spec.GeoLocations.CustomPoints, CustomPoint{
			Latitude:     l.Lat,
			Longitude:    l.Lng,
			Radius:       l.RadiusKm,
			DistanceUnit: "kilometer",
		})
	}
	for _, g := range t.Genders {
		switch strings.ToLower(g) {
		case "male":
			spec.Genders = append(spec.Genders, 1)
		case "female":
			spec.Genders = append(spec.Genders, 2)
		}
	}
	return spec
}

func adRequest(d *domain.Draft, ad domain.AdDraft, adSetID, imageHash, pageID string) (AdRequest, error) {
	copyVariant, ok := d.CopyVariant(ad.CopyKey)
	if !ok {
		return AdRequest{}, fmt.Errorf("ad %s: unknown copy %q", ad.ID, ad.CopyKey)
	}

	link := LinkData{
		ImageHash:   imageHash,
		Message:     copyVariant.PrimaryText,
		Name:        copyVariant.Headline,
		Description: copyVariant.Description,
	}

	cta := strings.ToUpper(copyVariant.CallToAction)
	switch d.Destination.Type {
	case domain.DestinationWebsite:
		if cta == "" {
			cta = "LEARN_MORE"
		}
		link.Link = d.Destination.URL
		link.CallToAction = &CallToAction{Type: cta, Value: map[string]string{"link": d.Destination.URL}}
	case domain.DestinationLeadForm:
		if cta == "" {
			cta = "SIGN_UP"
		}
		link.CallToAction = &CallToAction{Type: cta, Value: map[string]string{"lead_gen_form_id": d.Destination.FormID}}
	case domain.DestinationCall:
		link.CallToAction = &CallToAction{Type: "CALL_NOW", Value: map[string]string{"link": "tel:" + d.Destination.Phone}}
	}

	name := ad.Name
	if name == "" {
		name = d.Name + " - " + ad.ID
	}

	return AdRequest{
		Name:    name,
		AdSetID: adSetID,
		Creative: CreativeSpec{ObjectStorySpec: ObjectStorySpec{
			PageID:   pageID,
			LinkData: link,
		}},
		Status: statusActive,
	}, nil
}
