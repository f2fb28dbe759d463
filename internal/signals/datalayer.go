package signals

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// EcommerceCategory is the issue category of e-commerce findings.
const EcommerceCategory = "ecommerce"

// funnelEvents is the canonical GA4 purchase funnel, in order.
var funnelEvents = []string{"view_item_list", "view_item", "add_to_cart", "begin_checkout", "purchase"}

type paramRequirement struct {
	Param    string
	Severity schemas.Severity
}

// ecommerceRequirements grades missing parameters per event. Gaps that break
// revenue attribution are errors; optional enrichment is info.
var ecommerceRequirements = map[string][]paramRequirement{
	"purchase": {
		{"value", schemas.SeverityError},
		{"currency", schemas.SeverityError},
		{"items", schemas.SeverityWarning},
		{"transaction_id", schemas.SeverityInfo},
	},
	"begin_checkout": {
		{"items", schemas.SeverityWarning},
		{"value", schemas.SeverityInfo},
		{"currency", schemas.SeverityInfo},
	},
	"add_to_cart": {
		{"items", schemas.SeverityWarning},
		{"value", schemas.SeverityInfo},
		{"currency", schemas.SeverityInfo},
	},
	"view_item": {
		{"items", schemas.SeverityWarning},
		{"value", schemas.SeverityInfo},
		{"currency", schemas.SeverityInfo},
	},
	"view_item_list": {
		{"items", schemas.SeverityInfo},
	},
}

var paramLabels = map[string]string{
	"value":          "Wert (value)",
	"currency":       "Währung (currency)",
	"items":          "Artikeldaten (items)",
	"transaction_id": "Transaktions-ID (transaction_id)",
}

// DataLayerExtractor reconstructs events and e-commerce coverage from the captured queue.
type DataLayerExtractor struct{}

// dataLayerEvent is one normalized queue entry.
type dataLayerEvent struct {
	Name   string
	Params map[string]any
}

// Extract implements the DataLayerAnalysis signal.
func (DataLayerExtractor) Extract(c *schemas.CrawlResult) (schemas.DataLayerSignal, error) {
	var sig schemas.DataLayerSignal
	if err := validate(c); err != nil {
		return sig, err
	}
	sig.Ecommerce.Funnel = funnel(nil)
	if len(c.Globals.DataLayer) == 0 {
		return sig, nil
	}
	sig.Detected = true
	sig.EntryCount = len(c.Globals.DataLayer)

	var events []dataLayerEvent
	for _, entry := range c.Globals.DataLayer {
		if ev, ok := normalizeEntry(entry); ok {
			events = append(events, ev)
		}
	}
	sig.EventCount = len(events)
	if len(events) > 0 {
		sig.Events = map[string]int{}
		for _, ev := range events {
			sig.Events[ev.Name]++
		}
	}
	sig.Ecommerce = analyzeEcommerce(events)
	return sig, nil
}

func normalizeEntry(entry map[string]any) (dataLayerEvent, bool) {
	// gtag('event', name, params) lands as an Arguments object.
	if entry["0"] == "event" {
		name, _ := entry["1"].(string)
		if name == "" {
			return dataLayerEvent{}, false
		}
		params, _ := entry["2"].(map[string]any)
		return dataLayerEvent{Name: name, Params: params}, true
	}
	name, _ := entry["event"].(string)
	if name == "" {
		return dataLayerEvent{}, false
	}
	if ec, ok := entry["ecommerce"].(map[string]any); ok {
		return dataLayerEvent{Name: name, Params: ec}, true
	}
	return dataLayerEvent{Name: name, Params: entry}, true
}

func funnel(seen map[string]bool) []schemas.FunnelStep {
	out := make([]schemas.FunnelStep, len(funnelEvents))
	for i, e := range funnelEvents {
		out[i] = schemas.FunnelStep{Event: e, Present: seen[e]}
	}
	return out
}

func analyzeEcommerce(events []dataLayerEvent) schemas.EcommerceAnalysis {
	seen := map[string]bool{}
	counts := map[string]int{}
	missing := map[string]map[string]bool{}

	for _, ev := range events {
		reqs, ok := ecommerceRequirements[ev.Name]
		if !ok {
			continue
		}
		seen[ev.Name] = true
		counts[ev.Name]++
		for _, r := range reqs {
			if !hasParam(ev.Params, r.Param) {
				if missing[ev.Name] == nil {
					missing[ev.Name] = map[string]bool{}
				}
				missing[ev.Name][r.Param] = true
			}
		}
	}

	var a schemas.EcommerceAnalysis
	a.Funnel = funnel(seen)
	if len(seen) == 0 {
		return a
	}
	a.Detected = true
	present := 0
	for _, step := range a.Funnel {
		if step.Present {
			present++
		}
	}
	a.Coverage = present * 100 / len(funnelEvents)

	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return funnelIndex(names[i]) < funnelIndex(names[j]) })

	for _, name := range names {
		check := schemas.EcommerceEventCheck{Event: name, Count: counts[name]}
		for _, r := range ecommerceRequirements[name] {
			if !missing[name][r.Param] {
				continue
			}
			check.MissingParams = append(check.MissingParams, r.Param)
			a.Issues = append(a.Issues, missingParamIssue(name, r))
		}
		a.Events = append(a.Events, check)
	}
	return a
}

func funnelIndex(event string) int {
	for i, e := range funnelEvents {
		if e == event {
			return i
		}
	}
	return len(funnelEvents)
}

func hasParam(params map[string]any, key string) bool {
	v, ok := params[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	}
	return true
}

func missingParamIssue(event string, r paramRequirement) schemas.Issue {
	label := paramLabels[r.Param]
	issue := schemas.Issue{
		Severity: r.Severity,
		Category: EcommerceCategory,
		Title:    fmt.Sprintf("E-Commerce-Event %q ohne %s", event, label),
		Description: fmt.Sprintf("Das dataLayer-Event %q wurde ohne den Parameter %q übertragen.",
			event, r.Param),
	}
	switch r.Param {
	case "value", "currency":
		issue.Recommendation = "Übergeben Sie value und currency, damit Umsätze korrekt zugeordnet werden."
	case "items":
		issue.Recommendation = "Übergeben Sie das items-Array mit item_id, item_name, price und quantity."
	case "transaction_id":
		issue.Recommendation = "Eine transaction_id verhindert doppelt gezählte Käufe."
	}
	return issue
}
