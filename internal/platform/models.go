package platform

// Request and response payloads of the advertising platform's Graph-style API.

type CampaignRequest struct {
	Name                string   `json:"name"`
	Objective           string   `json:"objective"`
	Status              string   `json:"status"`
	SpecialAdCategories []string `json:"special_ad_categories"`
}

type AdSetRequest struct {
	Name             string          `json:"name"`
	CampaignID       string          `json:"campaign_id"`
	DailyBudget      int64           `json:"daily_budget"`
	BillingEvent     string          `json:"billing_event"`
	OptimizationGoal string          `json:"optimization_goal"`
	Targeting        TargetingSpec   `json:"targeting"`
	StartTime        string          `json:"start_time,omitempty"`
	EndTime          string          `json:"end_time,omitempty"`
	PromotedObject   *PromotedObject `json:"promoted_object,omitempty"`
	Status           string          `json:"status"`
}

type TargetingSpec struct {
	GeoLocations GeoLocations `json:"geo_locations"`
	AgeMin       int          `json:"age_min,omitempty"`
	AgeMax       int          `json:"age_max,omitempty"`
	Genders      []int        `json:"genders,omitempty"`
}

type GeoLocations struct {
	Countries    []string      `json:"countries,omitempty"`
	CustomPoints []CustomPoint `json:"custom_locations,omitempty"`
}

type CustomPoint struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Radius       float64 `json:"radius"`
	DistanceUnit string  `json:"distance_unit"`
}

type PromotedObject struct {
	PageID string `json:"page_id,omitempty"`
}

type AdRequest struct {
	Name     string       `json:"name"`
	AdSetID  string       `json:"adset_id"`
	Creative CreativeSpec `json:"creative"`
	Status   string       `json:"status"`
}

type CreativeSpec struct {
	ObjectStorySpec ObjectStorySpec `json:"object_story_spec"`
}

type ObjectStorySpec struct {
	PageID   string   `json:"page_id,omitempty"`
	LinkData LinkData `json:"link_data"`
}

type LinkData struct {
	ImageHash    string        `json:"image_hash"`
	Link         string        `json:"link,omitempty"`
	Message      string        `json:"message"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	CallToAction *CallToAction `json:"call_to_action,omitempty"`
}

type CallToAction struct {
	Type  string            `json:"type"`
	Value map[string]string `json:"value,omitempty"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

// IDResponse is the success payload of every create call.
type IDResponse struct {
	ID string `json:"id"`
}

type ImageUploadRequest struct {
	Name  string `json:"name"`
	Bytes string `json:"bytes"` // base64
}

type ImageUploadResponse struct {
	Images map[string]UploadedImage `json:"images"`
}

type UploadedImage struct {
	Hash string `json:"hash"`
	URL  string `json:"url"`
}

type StatusResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	EffectiveStatus string `json:"effective_status"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the structured error payload.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
}
