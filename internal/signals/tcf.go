package signals

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// tcCookieNames are cookies known to carry a TC string.
var tcCookieNames = []string{"euconsent-v2", "euconsent", "eupubconsent-v2"}

var (
	tcfAPIRule = Rule{ID: "tcfapi", Patterns: []Pattern{
		Global("__tcfapi"),
		HTML(`__tcfapi(Locator)?\b`),
	}}
	tcTokenRe    = regexp.MustCompile(`\b(C[A-Za-z0-9_-]{23,}(?:\.[A-Za-z0-9_-]{4,})*)`)
	tcAlphabetRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

const (
	minTCStringLength  = 20
	minTCSegmentLength = 20
	tcfEpoch           = 2018
)

// IsValidTCString applies minimal structural checks: non-trivial length,
// base64url alphabet per dot-separated segment, and a core segment of
// sufficient length.
func IsValidTCString(s string) bool {
	if len(s) < minTCStringLength {
		return false
	}
	segments := strings.Split(s, ".")
	for _, seg := range segments {
		if seg == "" || !tcAlphabetRe.MatchString(seg) {
			return false
		}
	}
	return len(segments[0]) >= minTCSegmentLength
}

// TCCore is the decoded header of a TC string core segment.
type TCCore struct {
	Version           int
	Created           time.Time
	LastUpdated       time.Time
	CMPID             int
	CMPVersion        int
	ConsentScreen     int
	ConsentLanguage   string
	VendorListVersion int
	PolicyVersion     int
}

var errShortCore = errors.New("tc core segment too short")

// DecodeTCCore decodes the fixed-width header fields of a TCF v2 core segment.
func DecodeTCCore(s string) (TCCore, error) {
	core, _, _ := strings.Cut(s, ".")
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(core, "="))
	if err != nil {
		return TCCore{}, err
	}
	br := bitReader{data: raw}
	var tc TCCore
	tc.Version = br.int(6)
	tc.Created = deciseconds(br.int(36))
	tc.LastUpdated = deciseconds(br.int(36))
	tc.CMPID = br.int(12)
	tc.CMPVersion = br.int(12)
	tc.ConsentScreen = br.int(6)
	tc.ConsentLanguage = string([]byte{byte('A' + br.int(6)), byte('A' + br.int(6))})
	tc.VendorListVersion = br.int(12)
	tc.PolicyVersion = br.int(6)
	if br.overflow {
		return TCCore{}, errShortCore
	}
	return tc, nil
}

func deciseconds(v int) time.Time {
	return time.UnixMilli(int64(v) * 100).UTC()
}

type bitReader struct {
	data     []byte
	pos      int
	overflow bool
}

func (b *bitReader) int(n int) int {
	v := 0
	for i := 0; i < n; i++ {
		byteIdx := b.pos / 8
		if byteIdx >= len(b.data) {
			b.overflow = true
			return 0
		}
		bit := (b.data[byteIdx] >> (7 - uint(b.pos%8))) & 1
		v = v<<1 | int(bit)
		b.pos++
	}
	return v
}

// TCFExtractor detects IAB TCF usage.
type TCFExtractor struct{}

// Extract implements the TCF signal.
func (TCFExtractor) Extract(c *schemas.CrawlResult) (schemas.TCFSignal, error) {
	var sig schemas.TCFSignal
	if err := validate(c); err != nil {
		return sig, err
	}

	sig.HasAPI = len(MatchRule(c, tcfAPIRule, 1)) > 0

	switch {
	case c.Globals.TCData != nil && c.Globals.TCData.TCString != "":
		sig.TCString = c.Globals.TCData.TCString
		sig.Source = "api"
		sig.CMPID = c.Globals.TCData.CMPID
	default:
		if name, value, ok := tcCookie(c.Cookies); ok {
			sig.TCString = value
			sig.CookieName = name
			sig.Source = "cookie"
		} else if token, ok := htmlTCToken(c); ok {
			sig.TCString = token
			sig.Source = "html"
		}
	}

	if sig.HasAPI && sig.Source == "" {
		sig.Source = "api"
	}
	sig.Detected = sig.HasAPI || sig.TCString != ""
	if sig.TCString == "" {
		return sig, nil
	}

	sig.ValidString = IsValidTCString(sig.TCString)
	if core, err := DecodeTCCore(sig.TCString); err == nil && sig.ValidString {
		sig.Version = core.Version
		if sig.CMPID == 0 {
			sig.CMPID = core.CMPID
		}
		sig.ConsentLanguage = core.ConsentLanguage
		sig.PolicyVersion = core.PolicyVersion
	}
	return sig, nil
}

func tcCookie(cookies []schemas.Cookie) (string, string, bool) {
	for _, name := range tcCookieNames {
		for _, ck := range cookies {
			if ck.Name == name && ck.Value != "" {
				return name, ck.Value, true
			}
		}
	}
	return "", "", false
}

// htmlTCToken finds a C-prefixed token in markup that decodes as a plausible
// TCF v2 core segment. Decoding is what keeps arbitrary identifiers out.
func htmlTCToken(c *schemas.CrawlResult) (string, bool) {
	for _, m := range tcTokenRe.FindAllStringSubmatch(c.HTML, 50) {
		token := m[1]
		if !IsValidTCString(token) {
			continue
		}
		core, err := DecodeTCCore(token)
		if err != nil || core.Version != 2 || core.Created.Year() < tcfEpoch {
			continue
		}
		return token, true
	}
	return "", false
}
