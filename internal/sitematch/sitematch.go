// Package sitematch decides which saved records belong to a page and flags
// addresses that look like phishing.
package sitematch

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/Zamiell/confusables"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// Reasons reported in a Verdict.
const (
	ReasonParse       = "URL_PARSE_ERROR"
	ReasonHTTP        = "HTTP"
	ReasonETLDInvalid = "ETLD_INVALID"
	ReasonPunycode    = "PUNYCODE"
	ReasonMixedScript = "MIXED_SCRIPT"
	ReasonConfusable  = "CONFUSABLE"
)

// Verdict is the outcome of Check. OK is true only when Reasons is empty.
type Verdict struct {
	OK      bool     `json:"ok"`
	Reasons []string `json:"reasons"`
	ETLD1   string   `json:"etld1,omitempty"`
	// LookalikeOf names the saved domain the page imitates.
	LookalikeOf string `json:"lookalikeOf,omitempty"`
}

// ETLDPlusOne returns the registrable domain of a URL or bare host.
func ETLDPlusOne(raw string) (string, error) {
	host := hostOf(raw)
	if ascii, err := idna.Lookup.ToASCII(host); err == nil && ascii != "" {
		host = ascii
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", err
	}
	return strings.ToLower(d), nil
}

// hostOf accepts a full URL or a bare host and returns the lowercase hostname.
func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
}

// SameSite reports whether a saved record URL and a page URL share a registrable domain.
func SameSite(savedURL, pageURL string) bool {
	a, err := ETLDPlusOne(savedURL)
	if err != nil {
		return false
	}
	b, err := ETLDPlusOne(pageURL)
	if err != nil {
		return false
	}
	return a == b
}

// Check inspects pageURL against the registrable domains of saved records.
func Check(pageURL string, savedDomains []string) Verdict {
	parsed, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || parsed.Hostname() == "" {
		return Verdict{Reasons: []string{ReasonParse}}
	}

	var v Verdict
	if !strings.EqualFold(parsed.Scheme, "https") {
		v.Reasons = append(v.Reasons, ReasonHTTP)
	}

	host := strings.ToLower(parsed.Hostname())
	unicodeHost := host
	if converted, err := idna.Lookup.ToUnicode(host); err == nil && converted != "" {
		unicodeHost = converted
	}

	if d, err := ETLDPlusOne(host); err == nil {
		v.ETLD1 = d
	} else {
		v.Reasons = append(v.Reasons, ReasonETLDInvalid)
	}
	if strings.Contains(host, "xn--") {
		v.Reasons = append(v.Reasons, ReasonPunycode)
	}
	if hasMixedScript(unicodeHost) {
		v.Reasons = append(v.Reasons, ReasonMixedScript)
	}

	if v.ETLD1 != "" {
		candidate := v.ETLD1
		if u, err := idna.Lookup.ToUnicode(candidate); err == nil && u != "" {
			candidate = u
		}
		for _, saved := range savedDomains {
			if looksConfusable(saved, candidate) {
				v.Reasons = append(v.Reasons, ReasonConfusable)
				v.LookalikeOf = saved
				break
			}
		}
	}

	v.OK = len(v.Reasons) == 0
	if v.Reasons == nil {
		v.Reasons = []string{}
	}
	return v
}

func hasMixedScript(host string) bool {
	scripts := make(map[string]struct{})
	for _, r := range host {
		s := scriptOf(r)
		if s == "" {
			continue
		}
		scripts[s] = struct{}{}
		if len(scripts) >= 2 {
			return true
		}
	}
	return false
}

func scriptOf(r rune) string {
	switch {
	case r < unicode.MaxASCII && !unicode.IsLetter(r):
		return ""
	case unicode.In(r, unicode.Latin):
		return "latin"
	case unicode.In(r, unicode.Cyrillic):
		return "cyrillic"
	case unicode.In(r, unicode.Greek):
		return "greek"
	case unicode.In(r, unicode.Hiragana):
		return "hiragana"
	case unicode.In(r, unicode.Katakana):
		return "katakana"
	case unicode.In(r, unicode.Han):
		return "han"
	}
	return ""
}

// looksConfusable is true when two different domains normalize to the same
// skeleton and one of them carries homoglyphs.
func looksConfusable(saved, candidate string) bool {
	saved = strings.ToLower(strings.TrimSpace(saved))
	candidate = strings.ToLower(strings.TrimSpace(candidate))
	if saved == "" || candidate == "" || saved == candidate {
		return false
	}
	if strings.ToLower(confusables.Normalize(saved)) != strings.ToLower(confusables.Normalize(candidate)) {
		return false
	}
	return confusables.ContainsHomoglyphs(saved) || confusables.ContainsHomoglyphs(candidate)
}
