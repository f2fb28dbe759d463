package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWappalyzerDetectorKeepsRelevantCategories(t *testing.T) {
	d, err := NewWappalyzerDetector()
	require.NoError(t, err)

	c := newCrawl(`<html><head>
		<meta name="generator" content="WordPress 6.4">
		<script async src="https://www.googletagmanager.com/gtag/js?id=G-ABCDE12345"></script>
		<script src="https://consent.cookiebot.com/uc.js"></script>
	</head><body></body></html>`)
	c.DocumentHeaders = map[string]string{"Server": "nginx"}

	for _, tech := range d.Detect(c) {
		relevant := false
		for _, cat := range tech.Categories {
			relevant = relevant || relevantCategories[cat]
		}
		assert.True(t, relevant, "%s has no audit-relevant category", tech.Name)
		assert.NotEqual(t, "Nginx", tech.Name)
	}
	assert.Nil(t, d.Detect(nil))
}
