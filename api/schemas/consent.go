package schemas

// -- Consent Experiment Schemas --

// ConsentAction is the kind of consent control that was activated.
type ConsentAction string

const (
	ActionAccept   ConsentAction = "accept"
	ActionReject   ConsentAction = "reject"
	ActionSettings ConsentAction = "settings"
	ActionSave     ConsentAction = "save"
	ActionNone     ConsentAction = "none"
)

// ClickMethod names how a consent state was established.
type ClickMethod string

const (
	MethodNone           ClickMethod = "none"
	MethodDOM            ClickMethod = "dom"
	MethodCMPAPI         ClickMethod = "cmp_api"
	MethodSettingsDrawer ClickMethod = "settings_drawer"
	MethodToggleSave     ClickMethod = "toggle_save"
)

// ClickOutcome is the explicit result of trying to activate a consent control.
// A missing control is a valid outcome (Found=false), not an error.
type ClickOutcome struct {
	Found    bool          `json:"buttonFound"`
	Clicked  bool          `json:"buttonClicked"`
	Method   ClickMethod   `json:"method"`
	Action   ConsentAction `json:"action"`
	Label    string        `json:"label,omitempty"`
	Selector string        `json:"selector,omitempty"`
	CMP      string        `json:"cmp,omitempty"`
	Passes   int           `json:"passes"`
	Toggled  int           `json:"toggled,omitempty"`
	Failure  string        `json:"failure,omitempty"`
}

// Succeeded reports whether a control or API call was actually executed.
func (o ClickOutcome) Succeeded() bool {
	return o.Found && o.Clicked
}

// ConsentArm is one side of the experiment, run in its own isolated session.
type ConsentArm struct {
	Intent  ConsentAction `json:"intent"`
	Outcome ClickOutcome  `json:"outcome"`
	// EffectiveAction is the action credited downstream, after reclassification.
	EffectiveAction ConsentAction `json:"effectiveAction"`
	Reclassified    bool          `json:"reclassified"`

	Before         CookieSet              `json:"before"`
	After          CookieSet              `json:"after"`
	NewCookies     []CookieKey            `json:"newCookies"`
	RemovedCookies []CookieKey            `json:"removedCookies"`
	NewByCategory  map[CookieCategory]int `json:"newByCategory"`
	Error          string                 `json:"error,omitempty"`
}

// ConsentExperimentResult holds the three cookie snapshots of the experiment.
type ConsentExperimentResult struct {
	Before      CookieSet  `json:"before"`
	AfterAccept CookieSet  `json:"afterAccept"`
	AfterReject CookieSet  `json:"afterReject"`
	Accept      ConsentArm `json:"accept"`
	Reject      ConsentArm `json:"reject"`
	Attempts    int        `json:"attempts"`
	Completed   bool       `json:"completed"`
	Error       string     `json:"error,omitempty"`
}
