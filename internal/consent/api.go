package consent

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// APICall is a programmatic consent call into a CMP's JavaScript API. Fn is a
// dotted path below window; Args is a raw JavaScript argument list. Then lists
// follow-up functions (closing the UI, persisting) invoked without arguments.
type APICall struct {
	CMP    string                `json:"cmp"`
	Action schemas.ConsentAction `json:"-"`
	Fn     string                `json:"fn"`
	Args   string                `json:"-"`
	Then   []string              `json:"then,omitempty"`
}

// APIResult reports which call, if any, was executed.
type APIResult struct {
	Executed bool   `json:"executed"`
	CMP      string `json:"cmp"`
	Fn       string `json:"fn"`
	Error    string `json:"error"`
}

const shopifyCallback = `function(){}`

// apiCalls are tried in order; the first whose function exists wins. Within a
// CMP the newer API comes first.
var apiCalls = []APICall{
	{CMP: "Usercentrics", Action: schemas.ActionAccept, Fn: "UC_UI.acceptAllConsents", Then: []string{"UC_UI.closeCMP"}},
	{CMP: "Usercentrics", Action: schemas.ActionAccept, Fn: "__ucCmp.acceptAllConsents", Then: []string{"__ucCmp.closeCmp"}},
	{CMP: "Usercentrics", Action: schemas.ActionAccept, Fn: "UC_UI.acceptAll"},
	{CMP: "OneTrust", Action: schemas.ActionAccept, Fn: "OneTrust.AllowAll"},
	{CMP: "OneTrust", Action: schemas.ActionAccept, Fn: "Optanon.AllowAll"},
	{CMP: "Cookiebot", Action: schemas.ActionAccept, Fn: "Cookiebot.submitCustomConsent", Args: "true, true, true"},
	{CMP: "Didomi", Action: schemas.ActionAccept, Fn: "Didomi.setUserAgreeToAll"},
	{CMP: "consentmanager", Action: schemas.ActionAccept, Fn: "__cmp", Args: `"setConsent", 1`},
	{CMP: "CookieFirst", Action: schemas.ActionAccept, Fn: "CookieFirst.acceptAllCategories"},
	{CMP: "CookieConsent", Action: schemas.ActionAccept, Fn: "CookieConsent.acceptCategory", Args: `"all"`},
	{CMP: "Shopify Privacy", Action: schemas.ActionAccept, Fn: "Shopify.customerPrivacy.setTrackingConsent",
		Args: `{analytics: true, marketing: true, preferences: true, sale_of_data: true}, ` + shopifyCallback},

	{CMP: "Usercentrics", Action: schemas.ActionReject, Fn: "UC_UI.denyAllConsents", Then: []string{"UC_UI.closeCMP"}},
	{CMP: "Usercentrics", Action: schemas.ActionReject, Fn: "__ucCmp.denyAllConsents", Then: []string{"__ucCmp.closeCmp"}},
	{CMP: "Usercentrics", Action: schemas.ActionReject, Fn: "UC_UI.rejectAll"},
	{CMP: "OneTrust", Action: schemas.ActionReject, Fn: "OneTrust.RejectAll"},
	{CMP: "Cookiebot", Action: schemas.ActionReject, Fn: "Cookiebot.submitCustomConsent", Args: "false, false, false"},
	{CMP: "Didomi", Action: schemas.ActionReject, Fn: "Didomi.setUserDisagreeToAll"},
	{CMP: "consentmanager", Action: schemas.ActionReject, Fn: "__cmp", Args: `"setConsent", 0`},
	{CMP: "CookieFirst", Action: schemas.ActionReject, Fn: "CookieFirst.declineAllCategories"},
	{CMP: "CookieConsent", Action: schemas.ActionReject, Fn: "CookieConsent.acceptCategory", Args: `[]`},
	{CMP: "Shopify Privacy", Action: schemas.ActionReject, Fn: "Shopify.customerPrivacy.setTrackingConsent",
		Args: `{analytics: false, marketing: false, preferences: false, sale_of_data: false}, ` + shopifyCallback},
}

// APICallsFor returns the call sequence for an intent.
func APICallsFor(action schemas.ConsentAction) []APICall {
	var out []APICall
	for _, c := range apiCalls {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

// buildAPIScript renders calls into one expression that resolves to an
// APIResult. Each candidate is a closure so that Args stay literal JavaScript.
func buildAPIScript(calls []APICall) string {
	entries := "["
	for i, c := range calls {
		meta, _ := json.Marshal(c)
		if i > 0 {
			entries += ","
		}
		entries += fmt.Sprintf("{meta: %s, invoke: (fn, self) => fn.call(self, %s)}", meta, c.Args)
	}
	entries += "]"
	return fmt.Sprintf(`(async () => {
  const resolve = (path) => {
    let self = window, cur = window;
    for (const part of path.split('.')) {
      if (cur == null) return null;
      self = cur;
      cur = cur[part];
    }
    return typeof cur === 'function' ? {fn: cur, self} : null;
  };
  const calls = %s;
  let failed = {executed: false, cmp: '', fn: '', error: ''};
  for (const c of calls) {
    const target = resolve(c.meta.fn);
    if (!target) continue;
    try {
      await c.invoke(target.fn, target.self);
    } catch (e) {
      failed = {executed: false, cmp: c.meta.cmp, fn: c.meta.fn, error: String(e && e.message || e)};
      continue;
    }
    for (const next of (c.meta.then || [])) {
      const t = resolve(next);
      if (t) { try { await t.fn.call(t.self); } catch (e) {} }
    }
    return {executed: true, cmp: c.meta.cmp, fn: c.meta.fn, error: ''};
  }
  return failed;
})()`, entries)
}
