package vault

import (
	"strings"
)

// SearchRecords returns decrypted records matching query and every active
// filter. query is a case-insensitive substring over title, username, url,
// notes and tags; an empty query matches everything. Tags use AND semantics.
func (v *Vault) SearchRecords(query string, f SearchFilters) ([]Record, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.usableLocked(); err != nil {
		return nil, err
	}

	all, err := v.decryptAllLocked()
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	wantTags := normalizeTags(f.Tags)
	category := strings.TrimSpace(f.Category)

	out := make([]Record, 0, len(all))
	for _, r := range all {
		if q != "" && !matchesText(r, q) {
			continue
		}
		if category != "" && !strings.EqualFold(r.Category, category) {
			continue
		}
		if !hasAllTags(r.Tags, wantTags) {
			continue
		}
		if !f.DateFrom.IsZero() && r.CreatedAt.Before(f.DateFrom) {
			continue
		}
		if !f.DateTo.IsZero() && r.CreatedAt.After(f.DateTo) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func matchesText(r Record, q string) bool {
	for _, field := range []string{r.Title, r.Username, r.URL, r.Notes} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	for _, t := range r.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
