package service

import (
	"sort"

	"github.com/melvsalonga/securepass/internal/common"
	"github.com/melvsalonga/securepass/internal/sitematch"
	"github.com/melvsalonga/securepass/internal/vault"
)

// SiteLookup pairs the records saved for a page with a phishing verdict.
type SiteLookup struct {
	Verdict sitematch.Verdict `json:"verdict"`
	Records []vault.Record    `json:"records"`
}

// FindRecordsForURL returns records whose address shares the page's
// registrable domain. Records are withheld when the page looks unsafe.
func (s *Service) FindRecordsForURL(pageURL string) Result {
	return s.withVault("findRecordsForURL", func(v *vault.Vault) (any, error) {
		if pageURL == "" {
			return nil, common.Invalid("url", "must not be empty")
		}
		recs, err := v.GetAllRecords()
		if err != nil {
			return nil, err
		}

		seen := make(map[string]struct{})
		var domains []string
		for _, r := range recs {
			if r.URL == "" {
				continue
			}
			d, err := sitematch.ETLDPlusOne(r.URL)
			if err != nil {
				continue
			}
			if _, ok := seen[d]; !ok {
				seen[d] = struct{}{}
				domains = append(domains, d)
			}
		}
		sort.Strings(domains)

		out := SiteLookup{Verdict: sitematch.Check(pageURL, domains), Records: []vault.Record{}}
		if !out.Verdict.OK {
			s.log.Warnw("page failed phishing check", "etld1", out.Verdict.ETLD1, "reasons", out.Verdict.Reasons)
			return out, nil
		}
		for _, r := range recs {
			if r.URL != "" && sitematch.SameSite(r.URL, pageURL) {
				out.Records = append(out.Records, r)
			}
		}
		return out, nil
	})
}
