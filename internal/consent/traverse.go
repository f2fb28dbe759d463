package consent

import "fmt"

// registryKey names the window property holding the element references of the
// last traversal; candidates are addressed by index into it.
const registryKey = "__consentscopeCandidates"

// Candidate is one interactive element found by the in-page traversal.
type Candidate struct {
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	Role  string `json:"role"`
	Type  string `json:"type"`
	Label string `json:"label"`

	// Selector, CMP and SelectorAction are set when a known CMP selector matched.
	Selector       string `json:"selector"`
	CMP            string `json:"cmp"`
	SelectorAction string `json:"selectorAction"`

	// Toggle marks checkboxes and switches; Checked is their current state.
	Toggle  bool `json:"toggle"`
	Checked bool `json:"checked"`

	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Visible bool    `json:"visible"`
	Depth   int     `json:"depth"`
	InFrame bool    `json:"inFrame"`
}

// Area is the rendered size in CSS pixels.
func (c Candidate) Area() float64 {
	return c.Width * c.Height
}

// buildTraversal renders the bounded-depth walk over the document, open
// shadow roots and same-origin iframes. It returns a flat list; every element
// is stored in the registry so later calls can act on it by index.
func buildTraversal(maxDepth int, selectors []selectorRef) string {
	if maxDepth < 1 {
		maxDepth = 1
	}
	sel, _ := json.Marshal(selectors)
	return fmt.Sprintf(`(() => {
  const maxDepth = %d;
  const known = %s;
  const clickable = 'button, a, [role="button"], [role="link"], input[type="button"], input[type="submit"], [onclick], [tabindex]:not([tabindex="-1"])';
  const toggles = 'input[type="checkbox"], [role="switch"], [role="checkbox"]';
  const registry = [];
  const out = [];
  const seen = new Set();

  const text = (s) => (s || '').replace(/\s+/g, ' ').trim().slice(0, 200);
  const labelOf = (el) => {
    const doc = el.ownerDocument;
    if (el.matches(toggles)) {
      if (el.id && doc) {
        try {
          const l = doc.querySelector('label[for="' + CSS.escape(el.id) + '"]');
          if (l) return text(l.innerText || l.textContent);
        } catch (e) {}
      }
      const wrap = el.closest('label');
      if (wrap) return text(wrap.innerText || wrap.textContent);
      const by = el.getAttribute('aria-labelledby');
      if (by && doc) {
        const l = doc.getElementById(by.split(' ')[0]);
        if (l) return text(l.textContent);
      }
      if (el.getAttribute('aria-label')) return text(el.getAttribute('aria-label'));
      return text(el.parentElement ? el.parentElement.innerText : '');
    }
    return text(el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('title') || el.textContent);
  };
  const visible = (el) => {
    const r = el.getBoundingClientRect();
    if (r.width <= 0 || r.height <= 0) return false;
    const view = el.ownerDocument.defaultView || window;
    const st = view.getComputedStyle(el);
    return st.display !== 'none' && st.visibility !== 'hidden' && parseFloat(st.opacity || '1') > 0;
  };
  const add = (el, depth, inFrame, match) => {
    if (seen.has(el)) {
      if (match) {
        const c = out[registry.indexOf(el)];
        if (c && !c.selector) { c.selector = match.sel; c.cmp = match.cmp; c.selectorAction = match.action; }
      }
      return;
    }
    if (el.disabled || el.getAttribute('aria-disabled') === 'true') return;
    seen.add(el);
    const r = el.getBoundingClientRect();
    const isToggle = el.matches(toggles);
    let checked = false;
    if (isToggle) {
      checked = el.type === 'checkbox' ? !!el.checked
        : (el.getAttribute('aria-checked') === 'true' || el.getAttribute('aria-pressed') === 'true');
    }
    registry.push(el);
    out.push({
      index: registry.length - 1,
      tag: el.tagName.toLowerCase(),
      role: el.getAttribute('role') || '',
      type: (el.getAttribute('type') || '').toLowerCase(),
      label: labelOf(el),
      selector: match ? match.sel : '',
      cmp: match ? match.cmp : '',
      selectorAction: match ? match.action : '',
      toggle: isToggle,
      checked,
      width: r.width,
      height: r.height,
      visible: visible(el),
      depth,
      inFrame,
    });
  };
  const walk = (root, depth, inFrame) => {
    if (depth > maxDepth || !root || !root.querySelectorAll) return;
    for (const k of known) {
      let found = [];
      try { found = root.querySelectorAll(k.sel); } catch (e) {}
      for (const el of found) add(el, depth, inFrame, k);
    }
    for (const el of root.querySelectorAll(clickable + ', ' + toggles)) add(el, depth, inFrame, null);
    for (const el of root.querySelectorAll('*')) {
      if (el.shadowRoot) walk(el.shadowRoot, depth + 1, inFrame);
      if (el.tagName === 'IFRAME' || el.tagName === 'FRAME') {
        let doc = null;
        try { doc = el.contentDocument; } catch (e) {}
        if (doc) walk(doc, depth + 1, true);
      }
    }
  };
  walk(document, 1, false);
  window[%q] = registry;
  return out;
})()`, maxDepth, sel, registryKey)
}

func buildClick(index int) string {
	return fmt.Sprintf(`(() => {
  const el = (window[%q] || [])[%d];
  if (!el || !el.isConnected) return {ok: false, reason: 'stale element'};
  try { el.scrollIntoView({block: 'center', inline: 'center'}); } catch (e) {}
  try {
    el.click();
  } catch (e) {
    return {ok: false, reason: String(e && e.message || e)};
  }
  return {ok: true, reason: ''};
})()`, registryKey, index)
}

func buildSetToggle(index int, on bool) string {
	return fmt.Sprintf(`(() => {
  const el = (window[%q] || [])[%d];
  if (!el || !el.isConnected) return {ok: false, changed: false, reason: 'stale element'};
  const want = %t;
  const state = () => el.type === 'checkbox' ? !!el.checked
    : (el.getAttribute('aria-checked') === 'true' || el.getAttribute('aria-pressed') === 'true');
  if (state() === want) return {ok: true, changed: false, reason: ''};
  try { el.click(); } catch (e) { return {ok: false, changed: false, reason: String(e && e.message || e)}; }
  if (state() !== want && el.type === 'checkbox') {
    el.checked = want;
    el.dispatchEvent(new Event('change', {bubbles: true}));
  }
  return {ok: state() === want, changed: state() === want, reason: state() === want ? '' : 'state unchanged'};
})()`, registryKey, index, on)
}
