package signals

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunnerExtractsAllSignals(t *testing.T) {
	for _, parallel := range []bool{true, false} {
		r := NewRunner(zap.NewNop(), nil, parallel)
		c := newCrawl(`<div id="onetrust-banner-sdk"><button>Accept all</button><button>Reject all</button></div>
			<script>gtag('consent','default',{ad_storage:'denied',ad_user_data:'denied'});</script>`)
		c.Globals.DataLayer = []map[string]any{{"event": "view_item", "ecommerce": map[string]any{"items": []any{1}}}}
		c.Requests = []schemas.NetworkRequest{{URL: "https://connect.facebook.net/en_US/fbevents.js", ResourceType: "Script"}}

		sig, anomalies, err := r.Run(context.Background(), c, Options{})
		require.NoError(t, err)
		assert.Empty(t, anomalies)
		assert.Equal(t, "OneTrust", sig.CookieBanner.CMP)
		assert.Equal(t, "v2", sig.ConsentMode.Version)
		assert.True(t, sig.DataLayer.Ecommerce.Detected)
		assert.True(t, sig.TrackingTags.HasMajorClientSide)
		assert.Equal(t, []string{"facebook.net"}, []string{sig.ThirdPartyDomains.Domains[0].Domain})
	}
}

func TestRunnerSkipsThirdParty(t *testing.T) {
	r := NewRunner(zap.NewNop(), nil, true)
	sig, _, err := r.Run(context.Background(), newCrawl("<p/>"), Options{SkipThirdParty: true})
	require.NoError(t, err)
	assert.True(t, sig.ThirdPartyDomains.Skipped)
	assert.Empty(t, sig.ThirdPartyDomains.Domains)
}

func TestRunnerFailsClosedOnMalformedInput(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewRunner(zap.New(core), nil, true)

	sig, anomalies, err := r.Run(context.Background(), &schemas.CrawlResult{}, Options{})
	require.NoError(t, err)
	assert.Len(t, anomalies, 6)
	for _, a := range anomalies {
		assert.ErrorIs(t, a.Err, ErrMalformedSignalInput)
	}
	assert.False(t, sig.CookieBanner.Detected)
	assert.Equal(t, 6, logs.FilterMessage("Extractor failed closed").Len())
}

func TestRunnerRecoversFromPanics(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewRunner(zap.New(core), panickingDetector{}, true)

	sig, anomalies, err := r.Run(context.Background(), newCrawl("<p/>"), Options{SkipThirdParty: true})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "tracking_tags", anomalies[0].Extractor)
	assert.ErrorIs(t, anomalies[0].Err, ErrMalformedSignalInput)
	assert.Empty(t, sig.TrackingTags.Tags)
	assert.Equal(t, 1, logs.FilterMessage("Extractor panicked").Len())
}

func TestRunnerHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewRunner(zap.NewNop(), nil, true).Run(ctx, newCrawl("<p/>"), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

type panickingDetector struct{}

func (panickingDetector) Detect(*schemas.CrawlResult) []schemas.Technology {
	panic("fingerprint table corrupted")
}
