package schemas

// -- Signal Schemas --
//
// Each record is produced by exactly one extractor and never references another signal.

// CookieBannerSignal describes the presence and shape of a consent banner.
type CookieBannerSignal struct {
	Detected        bool     `json:"detected"`
	CMP             string   `json:"cmp,omitempty"`
	DetectionMethod string   `json:"detectionMethod,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`

	HasAcceptButton   bool     `json:"hasAcceptButton"`
	HasRejectButton   bool     `json:"hasRejectButton"`
	HasSettingsButton bool     `json:"hasSettingsButton"`
	ButtonLabels      []string `json:"buttonLabels,omitempty"`

	PositionedOverlay bool `json:"positionedOverlay"`
	ScrollLock        bool `json:"scrollLock"`
	BlocksInteraction bool `json:"blocksInteraction"`
}

// ConsentModeSignal describes Google Consent Mode usage.
type ConsentModeSignal struct {
	Detected       bool              `json:"detected"`
	Version        string            `json:"version,omitempty"`
	HasDefault     bool              `json:"hasDefault"`
	HasUpdate      bool              `json:"hasUpdate"`
	DefaultPayload map[string]string `json:"defaultPayload,omitempty"`
	UpdatePayload  map[string]string `json:"updatePayload,omitempty"`
	Parameters     []string          `json:"parameters,omitempty"`
	UpdateWired    bool              `json:"updateWiredToBanner"`
	Evidence       []string          `json:"evidence,omitempty"`
}

// DefaultDenied reports whether the default payload denies the given storage key.
func (s ConsentModeSignal) DefaultDenied(key string) bool {
	return s.DefaultPayload[key] == "denied"
}

// TCFSignal describes IAB TCF usage.
type TCFSignal struct {
	Detected        bool   `json:"detected"`
	HasAPI          bool   `json:"hasApi"`
	Source          string `json:"source,omitempty"`
	CookieName      string `json:"cookieName,omitempty"`
	TCString        string `json:"tcString,omitempty"`
	ValidString     bool   `json:"validString"`
	Version         int    `json:"version,omitempty"`
	CMPID           int    `json:"cmpId,omitempty"`
	ConsentLanguage string `json:"consentLanguage,omitempty"`
	PolicyVersion   int    `json:"policyVersion,omitempty"`
}

// Confidence grades server-side tracking indicators.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// TrackingTag is one detected ad/analytics platform.
type TrackingTag struct {
	Platform      string   `json:"platform"`
	Name          string   `json:"name"`
	Company       string   `json:"company"`
	Category      string   `json:"category"`
	Gatekeeper    string   `json:"gatekeeper,omitempty"`
	Major         bool     `json:"major"`
	DetectedVia   []string `json:"detectedVia"`
	IDs           []string `json:"ids,omitempty"`
	ViaTagManager bool     `json:"viaTagManager"`
	FiredOnLoad   bool     `json:"firedOnLoad"`
	ConsentSignal bool     `json:"consentSignal"`
}

// ServerSideIndicator is evidence of tracking routed through first-party infrastructure.
type ServerSideIndicator struct {
	Kind       string     `json:"kind"`
	Evidence   string     `json:"evidence"`
	Confidence Confidence `json:"confidence"`
}

// Technology is a wappalyzer fingerprint hit.
type Technology struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories,omitempty"`
}

// TrackingTagsSignal is the inventory of tracking tags.
type TrackingTagsSignal struct {
	Tags               []TrackingTag         `json:"tags"`
	TagManagers        []string              `json:"tagManagers,omitempty"`
	HasMajorClientSide bool                  `json:"hasMajorClientSide"`
	HasSecondary       bool                  `json:"hasSecondary"`
	ServerSide         []ServerSideIndicator `json:"serverSide,omitempty"`
	ServerSideDetected bool                  `json:"serverSideDetected"`
	Technologies       []Technology          `json:"technologies,omitempty"`
}

// Tag returns the detected tag for a platform, if any.
func (s TrackingTagsSignal) Tag(platform string) (TrackingTag, bool) {
	for _, t := range s.Tags {
		if t.Platform == platform {
			return t, true
		}
	}
	return TrackingTag{}, false
}

// Gatekeepers returns the distinct gatekeeper names of detected tags, in tag order.
func (s TrackingTagsSignal) Gatekeepers() []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range s.Tags {
		if t.Gatekeeper == "" || seen[t.Gatekeeper] {
			continue
		}
		seen[t.Gatekeeper] = true
		out = append(out, t.Gatekeeper)
	}
	return out
}

// EcommerceEventCheck is the parameter check of one e-commerce event.
type EcommerceEventCheck struct {
	Event         string   `json:"event"`
	Count         int      `json:"count"`
	MissingParams []string `json:"missingParams,omitempty"`
}

// FunnelStep reports whether one canonical funnel event was observed.
type FunnelStep struct {
	Event   string `json:"event"`
	Present bool   `json:"present"`
}

// EcommerceAnalysis summarizes e-commerce tracking quality.
type EcommerceAnalysis struct {
	Detected bool                  `json:"detected"`
	Funnel   []FunnelStep          `json:"funnel"`
	Coverage int                   `json:"coverage"`
	Events   []EcommerceEventCheck `json:"events,omitempty"`
	Issues   []Issue               `json:"issues,omitempty"`
}

// DataLayerSignal describes the captured event queue.
type DataLayerSignal struct {
	Detected   bool              `json:"detected"`
	EntryCount int               `json:"entryCount"`
	EventCount int               `json:"eventCount"`
	Events     map[string]int    `json:"events,omitempty"`
	Ecommerce  EcommerceAnalysis `json:"ecommerce"`
}

// ThirdPartyDomain is one aggregated non-first-party request target.
type ThirdPartyDomain struct {
	Domain       string `json:"domain"`
	Category     string `json:"category"`
	Company      string `json:"company"`
	Jurisdiction string `json:"jurisdiction"`
	Requests     int    `json:"requests"`
	Known        bool   `json:"known"`
	HighRisk     bool   `json:"highRisk"`
	NonEU        bool   `json:"nonEu"`
}

// ThirdPartyDomainsSignal is the third-party domain table.
type ThirdPartyDomainsSignal struct {
	Skipped       bool               `json:"skipped"`
	Domains       []ThirdPartyDomain `json:"domains"`
	TotalRequests int                `json:"totalRequests"`
	HighRisk      []string           `json:"highRisk,omitempty"`
	NonEU         []string           `json:"nonEu,omitempty"`
	Unknown       []string           `json:"unknown,omitempty"`
}

// Signals bundles one result per extractor.
type Signals struct {
	CookieBanner      CookieBannerSignal      `json:"cookieBanner"`
	ConsentMode       ConsentModeSignal       `json:"googleConsentMode"`
	TCF               TCFSignal               `json:"tcf"`
	TrackingTags      TrackingTagsSignal      `json:"trackingTags"`
	DataLayer         DataLayerSignal         `json:"dataLayer"`
	ThirdPartyDomains ThirdPartyDomainsSignal `json:"thirdPartyDomains"`
}
