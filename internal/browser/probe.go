package browser

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxDataLayerEntries bounds the copied event queue.
const maxDataLayerEntries = 500

// globalsProbeJS reports which of the watched window globals exist and copies
// window.dataLayer into JSON-safe values. gtag() pushes Arguments objects,
// which are converted to index-keyed objects.
const globalsProbeJS = `(() => {
	const names = %s;
	const present = {};
	for (const n of names) {
		try { present[n] = typeof window[n] !== 'undefined' && window[n] !== null; } catch (e) { present[n] = false; }
	}
	const safe = (v, depth, seen) => {
		if (v === null || v === undefined) return null;
		const t = typeof v;
		if (t === 'string' || t === 'number' || t === 'boolean') return v;
		if (t !== 'object' || depth > 6 || seen.has(v)) return null;
		seen.add(v);
		if (Object.prototype.toString.call(v) === '[object Arguments]') {
			const o = {};
			for (let i = 0; i < v.length; i++) o[String(i)] = safe(v[i], depth + 1, seen);
			return o;
		}
		if (Array.isArray(v)) return v.slice(0, 200).map(x => safe(x, depth + 1, seen));
		if (typeof Node !== 'undefined' && v instanceof Node) return null;
		const o = {};
		for (const k of Object.keys(v).slice(0, 200)) {
			try { o[k] = safe(v[k], depth + 1, seen); } catch (e) {}
		}
		return o;
	};
	let dataLayer = [];
	try {
		if (Array.isArray(window.dataLayer)) {
			dataLayer = window.dataLayer.slice(0, %d)
				.map(e => safe(e, 0, new WeakSet()))
				.filter(e => e && typeof e === 'object' && !Array.isArray(e));
		}
	} catch (e) {}
	return {present, dataLayer};
})()`

// tcDataJS asks a TCF v2 CMP for its current TC data. available is false when
// the API is absent or does not answer in time.
const tcDataJS = `new Promise(resolve => {
	const none = {available: false};
	if (typeof window.__tcfapi !== 'function') { resolve(none); return; }
	const timer = setTimeout(() => resolve(none), %d);
	try {
		window.__tcfapi('getTCData', 2, (d, ok) => {
			clearTimeout(timer);
			if (!ok || !d) { resolve(none); return; }
			resolve({
				available: true,
				tcString: typeof d.tcString === 'string' ? d.tcString : '',
				gdprApplies: typeof d.gdprApplies === 'boolean' ? d.gdprApplies : null,
				cmpId: typeof d.cmpId === 'number' ? d.cmpId : 0,
				eventStatus: typeof d.eventStatus === 'string' ? d.eventStatus : ''
			});
		});
	} catch (e) { clearTimeout(timer); resolve(none); }
})`

// documentJS serializes the rendered document, open shadow roots and
// same-origin iframes (to a bounded depth) and lists script elements.
const documentJS = `(() => {
	const maxDepth = %d;
	const fragments = [];
	const scripts = [];
	const collectScripts = (root) => {
		for (const s of root.querySelectorAll('script')) {
			if (scripts.length >= 1000) return;
			scripts.push({src: s.src || '', type: s.type || '', inline: s.src ? '' : (s.textContent || '').slice(0, 50000)});
		}
	};
	const walk = (root, depth) => {
		if (depth > maxDepth) return;
		for (const el of root.querySelectorAll('*')) {
			if (el.shadowRoot) {
				fragments.push(el.shadowRoot.innerHTML);
				collectScripts(el.shadowRoot);
				walk(el.shadowRoot, depth + 1);
			}
			if (el.tagName === 'IFRAME') {
				try {
					const d = el.contentDocument;
					if (d && d.documentElement) {
						fragments.push(d.documentElement.outerHTML);
						walk(d, depth + 1);
					}
				} catch (e) {}
			}
		}
	};
	collectScripts(document);
	walk(document, 1);
	return {
		url: location.href,
		html: document.documentElement ? document.documentElement.outerHTML : '',
		fragments,
		scripts,
		documentCookie: document.cookie || ''
	};
})()`

type globalsProbe struct {
	Present   map[string]bool  `json:"present"`
	DataLayer []map[string]any `json:"dataLayer"`
}

type tcDataProbe struct {
	Available   bool   `json:"available"`
	TCString    string `json:"tcString"`
	GDPRApplies *bool  `json:"gdprApplies"`
	CMPID       int    `json:"cmpId"`
	EventStatus string `json:"eventStatus"`
}

func (p tcDataProbe) toTCData() *schemas.TCData {
	if !p.Available {
		return nil
	}
	return &schemas.TCData{TCString: p.TCString, GDPRApplies: p.GDPRApplies, CMPID: p.CMPID, EventStatus: p.EventStatus}
}

type documentProbe struct {
	URL            string                 `json:"url"`
	HTML           string                 `json:"html"`
	Fragments      []string               `json:"fragments"`
	Scripts        []schemas.ScriptSource `json:"scripts"`
	DocumentCookie string                 `json:"documentCookie"`
}

func buildGlobalsProbe(globals []string) string {
	if globals == nil {
		globals = []string{}
	}
	names, _ := json.Marshal(globals)
	return fmt.Sprintf(globalsProbeJS, names, maxDataLayerEntries)
}

func buildTCDataProbe(timeoutMs int) string {
	return fmt.Sprintf(tcDataJS, timeoutMs)
}

func buildDocumentProbe(depth int) string {
	if depth < 1 {
		depth = 1
	}
	return fmt.Sprintf(documentJS, depth)
}

// presentCount counts the globals reported as defined.
func presentCount(p map[string]bool) int {
	n := 0
	for _, ok := range p {
		if ok {
			n++
		}
	}
	return n
}

// trackingSettled reports whether polling may stop: at least one watched
// global exists and nothing new appeared since the previous poll. Tag managers
// inject scripts one after another, so a growing set means keep waiting.
func trackingSettled(prev, cur map[string]bool) bool {
	n := presentCount(cur)
	return n > 0 && prev != nil && n == presentCount(prev)
}
