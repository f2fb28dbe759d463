package signals

import (
	"net/http"
	"sort"
	"sync"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// TechnologyDetector fingerprints the products a page is built with.
type TechnologyDetector interface {
	Detect(c *schemas.CrawlResult) []schemas.Technology
}

// relevantCategories restricts fingerprints to what matters for a consent audit.
var relevantCategories = map[string]bool{
	"Analytics":              true,
	"Advertising":            true,
	"Tag managers":           true,
	"Cookie compliance":      true,
	"Marketing automation":   true,
	"Retargeting":            true,
	"Affiliate programs":     true,
	"Customer data platform": true,
	"Heatmaps":               true,
	"A/B Testing":            true,
	"Live chat":              true,
	"Personalisation":        true,
}

var (
	categoryNames     map[int]string
	categoryNamesOnce sync.Once
)

// WappalyzerDetector adapts wappalyzergo to the TechnologyDetector interface.
type WappalyzerDetector struct {
	client *wappalyzer.Wappalyze
	mu     sync.RWMutex
}

// NewWappalyzerDetector loads the embedded fingerprint database.
func NewWappalyzerDetector() (*WappalyzerDetector, error) {
	client, err := wappalyzer.New()
	if err != nil {
		return nil, err
	}
	categoryNamesOnce.Do(func() {
		categoryNames = make(map[int]string)
		for id, cat := range wappalyzer.GetCategoriesMapping() {
			categoryNames[id] = cat.Name
		}
	})
	return &WappalyzerDetector{client: client}, nil
}

// Detect fingerprints the document headers and body. The unrendered body is
// preferred because wappalyzer's patterns target server output.
func (d *WappalyzerDetector) Detect(c *schemas.CrawlResult) []schemas.Technology {
	if c == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	headers := make(http.Header, len(c.DocumentHeaders))
	for k, v := range c.DocumentHeaders {
		headers.Set(k, v)
	}
	body := c.InitialHTML
	if body == "" {
		body = c.HTML
	}

	var out []schemas.Technology
	for name, info := range d.client.FingerprintWithCats(headers, []byte(body)) {
		var cats []string
		keep := false
		for _, id := range info.Cats {
			if cn, ok := categoryNames[id]; ok {
				cats = append(cats, cn)
				keep = keep || relevantCategories[cn]
			}
		}
		if !keep {
			continue
		}
		sort.Strings(cats)
		out = append(out, schemas.Technology{Name: name, Categories: cats})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
