package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

type stubTechnologies []schemas.Technology

func (s stubTechnologies) Detect(*schemas.CrawlResult) []schemas.Technology { return s }

func TestTrackingDetectsGoogleAnalytics(t *testing.T) {
	c := newCrawl(`<script async src="https://www.googletagmanager.com/gtag/js?id=G-ABCDE12345"></script>
		<script>gtag('config', 'G-ABCDE12345');</script>`)
	c.Scripts = []schemas.ScriptSource{{Src: "https://www.googletagmanager.com/gtag/js?id=G-ABCDE12345"}}
	c.Requests = []schemas.NetworkRequest{
		{URL: "https://region1.google-analytics.com/g/collect?v=2&tid=G-ABCDE12345", ResourceType: "Ping"},
	}

	sig, err := TrackingExtractor{}.Extract(c)
	require.NoError(t, err)
	require.True(t, sig.HasMajorClientSide)
	tag, ok := sig.Tag(PlatformGoogleAnalytics)
	require.True(t, ok)
	assert.Equal(t, GatekeeperGoogle, tag.Gatekeeper)
	assert.Equal(t, []string{"G-ABCDE12345"}, tag.IDs)
	assert.True(t, tag.FiredOnLoad)
	assert.False(t, tag.ConsentSignal)
	assert.Contains(t, tag.DetectedVia, "script")
	assert.Contains(t, tag.DetectedVia, "network")
	assert.Empty(t, sig.TagManagers)
	assert.Equal(t, []string{GatekeeperGoogle}, sig.Gatekeepers())
}

func TestTrackingTagManagerAloneIsNotTracking(t *testing.T) {
	c := newCrawl(`<script src="https://www.googletagmanager.com/gtm.js?id=GTM-ABC123"></script>`)
	c.Globals.Present["google_tag_manager"] = true
	sig, err := TrackingExtractor{}.Extract(c)
	require.NoError(t, err)
	assert.Equal(t, []string{"Google Tag Manager"}, sig.TagManagers)
	assert.Empty(t, sig.Tags)
	assert.False(t, sig.HasMajorClientSide)
	assert.False(t, sig.HasSecondary)
}

func TestTrackingViaTagManager(t *testing.T) {
	initial := `<html><head><script src="https://www.googletagmanager.com/gtm.js?id=GTM-ABC123"></script></head></html>`
	c := newCrawl(initial + `<script src="https://connect.facebook.net/en_US/fbevents.js"></script>
		<script>fbq('init', '123456789012345'); fbq('consent', 'revoke');</script>`)
	c.InitialHTML = initial
	c.Globals.Present["fbq"] = true

	sig, err := TrackingExtractor{}.Extract(c)
	require.NoError(t, err)
	tag, ok := sig.Tag(PlatformMetaPixel)
	require.True(t, ok)
	assert.True(t, tag.ViaTagManager)
	assert.True(t, tag.ConsentSignal)
	assert.False(t, tag.FiredOnLoad)
	assert.Equal(t, []string{"123456789012345"}, tag.IDs)
	assert.Equal(t, GatekeeperMeta, tag.Gatekeeper)

	// Without the raw document the injection question stays open.
	c.InitialHTML = ""
	sig, err = TrackingExtractor{}.Extract(c)
	require.NoError(t, err)
	tag, _ = sig.Tag(PlatformMetaPixel)
	assert.False(t, tag.ViaTagManager)
}

func TestTrackingSecondaryOnly(t *testing.T) {
	c := newCrawl("")
	c.Requests = []schemas.NetworkRequest{{URL: "https://static.hotjar.com/c/hotjar-1234567.js?sv=6", ResourceType: "Script"}}
	sig, err := TrackingExtractor{}.Extract(c)
	require.NoError(t, err)
	assert.False(t, sig.HasMajorClientSide)
	assert.True(t, sig.HasSecondary)
	tag, ok := sig.Tag("hotjar")
	require.True(t, ok)
	assert.Equal(t, []string{"1234567"}, tag.IDs)
}

func TestServerSideIndicators(t *testing.T) {
	c := newCrawl(`<script>var tagging = {server_container_url: 'https://sgtm.example.de'};</script>`)
	c.Requests = []schemas.NetworkRequest{
		{URL: "https://shop.example.de/metrics/g/collect?v=2", ResourceType: "Ping"},
		{URL: "https://sgtm.example.de/data/collect?x=1", ResourceType: "XHR"},
		{URL: "https://capig.stape.io/events", ResourceType: "Fetch"},
		{URL: "https://shop.example.de/api/track", ResourceType: "Fetch", ResponseHeaders: map[string]string{"x-gtm-server-preview": "1"}},
		{URL: "https://shop.example.de/", ResourceType: "Document"},
	}
	c.SetCookieHeaders = []schemas.SetCookieHeader{{URL: "https://shop.example.de/", Value: "FPID=FPID2.2.abc; Path=/; HttpOnly"}}

	sig, err := TrackingExtractor{}.Extract(c)
	require.NoError(t, err)
	require.True(t, sig.ServerSideDetected)

	kinds := map[string]schemas.Confidence{}
	for _, ind := range sig.ServerSide {
		kinds[ind.Kind] = ind.Confidence
	}
	assert.Equal(t, schemas.ConfidenceHigh, kinds["first_party_google_endpoint"])
	assert.Equal(t, schemas.ConfidenceHigh, kinds["server_set_cookie"])
	assert.Equal(t, schemas.ConfidenceMedium, kinds["tracking_subdomain"])
	assert.Equal(t, schemas.ConfidenceMedium, kinds["conversions_api"])
	assert.Equal(t, schemas.ConfidenceMedium, kinds["server_container_config"])
	assert.Equal(t, schemas.ConfidenceLow, kinds["first_party_collect"])
	assert.Equal(t, schemas.ConfidenceLow, kinds["tagging_server_header"])
	assert.Equal(t, schemas.ConfidenceHigh, sig.ServerSide[0].Confidence, "ordered by confidence")
	assert.Empty(t, sig.Tags)
}

func TestTrackingAttachesTechnologies(t *testing.T) {
	tech := stubTechnologies{{Name: "Cookiebot", Categories: []string{"Cookie compliance"}}}
	sig, err := TrackingExtractor{Technologies: tech}.Extract(newCrawl(""))
	require.NoError(t, err)
	assert.Equal(t, []schemas.Technology(tech), sig.Technologies)
}

func TestWatchedGlobals(t *testing.T) {
	globals := WatchedGlobals()
	for _, g := range []string{"fbq", "ttq", "uetq", "__tcfapi", "Cookiebot", "google_tag_manager", "dataLayer"} {
		assert.Contains(t, globals, g)
	}
	assert.IsIncreasing(t, globals)
}
