package signals

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

func newCrawl(html string) *schemas.CrawlResult {
	return &schemas.CrawlResult{
		URL:      "https://shop.example.de/",
		FinalURL: "https://shop.example.de/",
		HTML:     html,
		Globals:  schemas.TrackingGlobals{Present: map[string]bool{}},
	}
}

func TestExtractorsRejectMalformedInput(t *testing.T) {
	_, err := BannerExtractor{}.Extract(nil)
	assert.ErrorIs(t, err, ErrMalformedSignalInput)

	_, err = TCFExtractor{}.Extract(&schemas.CrawlResult{})
	assert.ErrorIs(t, err, ErrMalformedSignalInput)
}

func TestBannerExtractor(t *testing.T) {
	t.Run("fingerprint with controls", func(t *testing.T) {
		c := newCrawl(`<html><body><div id="CybotCookiebotDialog">
			<button>Alle akzeptieren</button><button>Ablehnen</button><a href="#">Einstellungen</a>
		</div></body></html>`)
		sig, err := BannerExtractor{}.Extract(c)
		require.NoError(t, err)
		assert.True(t, sig.Detected)
		assert.Equal(t, "Cookiebot", sig.CMP)
		assert.Equal(t, "fingerprint", sig.DetectionMethod)
		assert.True(t, sig.HasAcceptButton)
		assert.True(t, sig.HasRejectButton)
		assert.True(t, sig.HasSettingsButton)
		assert.Equal(t, []string{"Ablehnen", "Alle akzeptieren", "Einstellungen"}, sig.ButtonLabels)
	})

	t.Run("keywords only", func(t *testing.T) {
		c := newCrawl(`<html><body><div class="banner">
			<p>Wir verwenden Cookies. Mit Ihrer Einwilligung ... siehe Datenschutzerklärung.</p>
			<button>OK</button></div></body></html>`)
		sig, err := BannerExtractor{}.Extract(c)
		require.NoError(t, err)
		assert.True(t, sig.Detected)
		assert.Equal(t, "keywords", sig.DetectionMethod)
		assert.Empty(t, sig.CMP)
		assert.True(t, sig.HasAcceptButton)
		assert.False(t, sig.HasRejectButton)
	})

	t.Run("script text does not count", func(t *testing.T) {
		c := newCrawl(`<html><body><script>var t="wir verwenden cookies einwilligung zustimmung";</script><p>Hallo</p></body></html>`)
		sig, err := BannerExtractor{}.Extract(c)
		require.NoError(t, err)
		assert.False(t, sig.Detected)
	})

	t.Run("controls inside a shadow fragment", func(t *testing.T) {
		c := newCrawl(`<html><body><div id="usercentrics-root"></div></body></html>`)
		c.Fragments = []string{`<div><button>Alle ablehnen</button><button>Alle akzeptieren</button></div>`}
		sig, err := BannerExtractor{}.Extract(c)
		require.NoError(t, err)
		assert.Equal(t, "Usercentrics", sig.CMP)
		assert.True(t, sig.HasRejectButton)
	})

	t.Run("overlay blocks interaction", func(t *testing.T) {
		c := newCrawl(`<html><body class="modal-open"><div id="didomi-host" class="didomi-popup-backdrop" style="position: fixed; z-index: 2147483647"></div></body></html>`)
		sig, err := BannerExtractor{}.Extract(c)
		require.NoError(t, err)
		assert.True(t, sig.PositionedOverlay)
		assert.True(t, sig.ScrollLock)
		assert.True(t, sig.BlocksInteraction)
	})
}

func TestConsentModeVersionV1(t *testing.T) {
	c := newCrawl(`<script>gtag('consent','default',{ad_storage:'denied'});</script>`)
	sig, err := ConsentModeExtractor{}.Extract(c)
	require.NoError(t, err)
	assert.True(t, sig.Detected)
	assert.Equal(t, "v1", sig.Version)
	assert.True(t, sig.HasDefault)
	assert.False(t, sig.HasUpdate)
	assert.True(t, sig.DefaultDenied("ad_storage"))
	assert.Equal(t, []string{"ad_storage"}, sig.Parameters)
}

func TestConsentModeV2WithWiredUpdate(t *testing.T) {
	c := newCrawl(`<script>
		gtag("consent", "default", {"ad_storage": "denied", "analytics_storage": "denied", "ad_user_data": "denied", "ad_personalization": "denied"});
		window.addEventListener("CookiebotOnAccept", function () {
			gtag("consent", "update", {"ad_storage": "granted", "analytics_storage": "granted", "ad_user_data": "granted", "ad_personalization": "granted"});
		});
	</script>`)
	sig, err := ConsentModeExtractor{}.Extract(c)
	require.NoError(t, err)
	assert.Equal(t, "v2", sig.Version)
	assert.True(t, sig.HasDefault)
	assert.True(t, sig.HasUpdate)
	assert.True(t, sig.UpdateWired)
	assert.Equal(t, "granted", sig.UpdatePayload["ad_user_data"])
}

func TestConsentModeUpdateOutsideCallbackIsNotWired(t *testing.T) {
	c := newCrawl(`<script>
		gtag("consent", "default", {"ad_storage": "denied", "analytics_storage": "denied"});
		function initTracking() {
			var opts = items.map((x) => x.id);
			gtag("consent", "update", {"ad_storage": "granted", "analytics_storage": "granted"});
		}
		initTracking();
	</script>`)
	sig, err := ConsentModeExtractor{}.Extract(c)
	require.NoError(t, err)
	assert.True(t, sig.HasUpdate)
	assert.False(t, sig.UpdateWired)
}

func TestClipKeepsValidUTF8(t *testing.T) {
	s := strings.Repeat("a", maxEvidence-1) + "ääää"
	got := clip(s)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", maxEvidence-1)+"…", got)

	assert.Equal(t, "Datenschutzerklärung", clip("  Datenschutzerklärung "))
}

func TestConsentModeFromDataLayerAndHits(t *testing.T) {
	c := newCrawl(`<html></html>`)
	c.Globals.DataLayer = []map[string]any{
		{"0": "consent", "1": "default", "2": map[string]any{"ad_storage": "denied", "wait_for_update": 500.0}},
		{"event": "gtm.js"},
	}
	c.Requests = []schemas.NetworkRequest{
		{URL: "https://region1.google-analytics.com/g/collect?v=2&tid=G-ABC1234&gcs=G100&gcd=13l3l3l3l1"},
	}
	sig, err := ConsentModeExtractor{}.Extract(c)
	require.NoError(t, err)
	assert.True(t, sig.HasDefault)
	assert.Equal(t, "v2", sig.Version, "gcd is only sent by v2 tags")
	assert.Contains(t, sig.Evidence, "gcs=G100")
	assert.Equal(t, map[string]string{"ad_storage": "denied"}, sig.DefaultPayload)
}

func TestConsentModeIgnoresProse(t *testing.T) {
	c := newCrawl(`<p>Wir holen Ihre consent ein, bevor ad storage genutzt wird.</p>`)
	sig, err := ConsentModeExtractor{}.Extract(c)
	require.NoError(t, err)
	assert.Equal(t, schemas.ConsentModeSignal{}, sig)
}

// encodeTCCore builds a minimal core segment with the given header fields.
func encodeTCCore(version int, created time.Time, cmpID int, lang string, policy int) string {
	var bits []byte
	put := func(v, n int) {
		for i := n - 1; i >= 0; i-- {
			bits = append(bits, byte((v>>uint(i))&1))
		}
	}
	ds := int(created.UnixMilli() / 100)
	put(version, 6)
	put(ds, 36)
	put(ds, 36)
	put(cmpID, 12)
	put(1, 12)
	put(1, 6)
	put(int(lang[0]-'A'), 6)
	put(int(lang[1]-'A'), 6)
	put(120, 12)
	put(policy, 6)
	for len(bits)%8 != 0 {
		bits = append(bits, 0)
	}
	// Pad the segment so it carries at least the purpose fields' width.
	for len(bits) < 8*24 {
		bits = append(bits, 0)
	}
	raw := make([]byte, len(bits)/8)
	for i, b := range bits {
		raw[i/8] |= b << uint(7-i%8)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func TestDecodeTCCore(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := encodeTCCore(2, created, 7, "DE", 4)
	require.True(t, IsValidTCString(s))
	assert.Equal(t, byte('C'), s[0], "version 2 cores start with C")

	core, err := DecodeTCCore(s + ".YAAAAAAAAAA")
	require.NoError(t, err)
	want := TCCore{
		Version:           2,
		Created:           created,
		LastUpdated:       created,
		CMPID:             7,
		CMPVersion:        1,
		ConsentScreen:     1,
		ConsentLanguage:   "DE",
		VendorListVersion: 120,
		PolicyVersion:     4,
	}
	if diff := cmp.Diff(want, core); diff != "" {
		t.Errorf("DecodeTCCore mismatch (-want +got):\n%s", diff)
	}

	_, err = DecodeTCCore("CPX")
	assert.Error(t, err)
}

func TestIsValidTCString(t *testing.T) {
	assert.False(t, IsValidTCString("short"))
	assert.False(t, IsValidTCString("CPXxRfAPXxRfAAfKABENB+CgAAAAAAAAAAYg"))
	assert.False(t, IsValidTCString("CPXxRfAPXxRfAAfKABENB..AAAA"))
	assert.True(t, IsValidTCString("CPXxRfAPXxRfAAfKABENBCgAAAAAAAAAAYg.YAAAAAAAAAAA"))
}

func TestTCFExtractor(t *testing.T) {
	core := encodeTCCore(2, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), 28, "DE", 4)

	t.Run("api data wins", func(t *testing.T) {
		c := newCrawl("")
		c.Globals.Present["__tcfapi"] = true
		c.Globals.TCData = &schemas.TCData{TCString: core, CMPID: 300}
		c.Cookies = []schemas.Cookie{{Name: "euconsent-v2", Value: "other"}}
		sig, err := TCFExtractor{}.Extract(c)
		require.NoError(t, err)
		assert.True(t, sig.Detected)
		assert.True(t, sig.HasAPI)
		assert.Equal(t, "api", sig.Source)
		assert.True(t, sig.ValidString)
		assert.Equal(t, 300, sig.CMPID)
		assert.Equal(t, "DE", sig.ConsentLanguage)
		assert.Equal(t, 2, sig.Version)
	})

	t.Run("cookie fallback", func(t *testing.T) {
		c := newCrawl("")
		c.Cookies = []schemas.Cookie{{Name: "euconsent-v2", Value: core}}
		sig, err := TCFExtractor{}.Extract(c)
		require.NoError(t, err)
		assert.Equal(t, "cookie", sig.Source)
		assert.Equal(t, "euconsent-v2", sig.CookieName)
		assert.Equal(t, 28, sig.CMPID)
	})

	t.Run("html token must decode", func(t *testing.T) {
		c := newCrawl(`<div data-x="CAAAAAAAAAAAAAAAAAAAAAAAAAAA"></div><input value="` + core + `">`)
		sig, err := TCFExtractor{}.Extract(c)
		require.NoError(t, err)
		assert.Equal(t, "html", sig.Source)
		assert.Equal(t, core, sig.TCString)
	})

	t.Run("nothing", func(t *testing.T) {
		sig, err := TCFExtractor{}.Extract(newCrawl("<p>hi</p>"))
		require.NoError(t, err)
		assert.False(t, sig.Detected)
	})
}

func TestDataLayerPurchaseWithoutItems(t *testing.T) {
	c := newCrawl("")
	c.Globals.DataLayer = []map[string]any{
		{"event": "gtm.js"},
		{"event": "purchase", "ecommerce": map[string]any{"value": 49.9, "currency": "EUR"}},
	}
	sig, err := DataLayerExtractor{}.Extract(c)
	require.NoError(t, err)
	require.True(t, sig.Ecommerce.Detected)

	var warnings, errs int
	for _, is := range sig.Ecommerce.Issues {
		switch is.Severity {
		case schemas.SeverityWarning:
			warnings++
			assert.Contains(t, is.Title, "items")
		case schemas.SeverityError:
			errs++
		}
		assert.Equal(t, EcommerceCategory, is.Category)
	}
	assert.Equal(t, 1, warnings)
	assert.Zero(t, errs)
	assert.Equal(t, 20, sig.Ecommerce.Coverage)
	assert.Equal(t, 2, sig.EventCount)
	assert.Equal(t, []schemas.EcommerceEventCheck{{Event: "purchase", Count: 1, MissingParams: []string{"items", "transaction_id"}}}, sig.Ecommerce.Events)
}

func TestDataLayerGtagEventsAndErrors(t *testing.T) {
	c := newCrawl("")
	c.Globals.DataLayer = []map[string]any{
		{"0": "event", "1": "view_item", "2": map[string]any{"items": []any{map[string]any{"item_id": "1"}}, "value": 10.0, "currency": "EUR"}},
		{"0": "event", "1": "purchase", "2": map[string]any{"items": []any{}, "currency": ""}},
		{"0": "config", "1": "G-ABC"},
	}
	sig, err := DataLayerExtractor{}.Extract(c)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"view_item": 1, "purchase": 1}, sig.Events)

	counts := map[schemas.Severity]int{}
	for _, is := range sig.Ecommerce.Issues {
		counts[is.Severity]++
	}
	assert.Equal(t, 2, counts[schemas.SeverityError], "value and currency")
	assert.Equal(t, 1, counts[schemas.SeverityWarning], "empty items")
	assert.True(t, sig.Ecommerce.Funnel[1].Present)
	assert.False(t, sig.Ecommerce.Funnel[2].Present)
}

func TestDataLayerEmpty(t *testing.T) {
	sig, err := DataLayerExtractor{}.Extract(newCrawl(""))
	require.NoError(t, err)
	assert.False(t, sig.Detected)
	assert.Len(t, sig.Ecommerce.Funnel, len(funnelEvents))
}

func TestThirdPartyExtractor(t *testing.T) {
	c := newCrawl("")
	c.Requests = []schemas.NetworkRequest{
		{URL: "https://shop.example.de/app.js"},
		{URL: "https://cdn.example.de/img.png"},
		{URL: "https://www.google-analytics.com/g/collect"},
		{URL: "https://region1.google-analytics.com/g/collect"},
		{URL: "https://analytics.tiktok.com/api/v2/pixel"},
		{URL: "https://mc.yandex.ru/watch/1"},
		{URL: "https://static.cookiebot.eu/x.js"},
		{URL: "https://tracker.randomvendor.io/p"},
		{URL: "https://googleusercontent.com/a.png"},
	}
	sig, err := ThirdPartyExtractor{}.Extract(c)
	require.NoError(t, err)
	assert.False(t, sig.Skipped)
	assert.Equal(t, 7, sig.TotalRequests)
	require.NotEmpty(t, sig.Domains)
	assert.Equal(t, "google-analytics.com", sig.Domains[0].Domain)
	assert.Equal(t, 2, sig.Domains[0].Requests)

	assert.ElementsMatch(t, []string{"tiktok.com", "yandex.ru"}, sig.HighRisk)
	assert.Contains(t, sig.NonEU, "google-analytics.com")
	assert.NotContains(t, sig.NonEU, "cookiebot.eu")
	assert.Equal(t, []string{"randomvendor.io"}, sig.Unknown)

	info, ok := LookupDomain("googleusercontent.com")
	require.True(t, ok, "stem fallback")
	assert.Equal(t, "Google", info.Company)
}
