package vault

import (
	"math"

	"github.com/nbutton23/zxcvbn-go"
)

// WeakScore is the zxcvbn score below which a password counts as weak.
const WeakScore = 3

// Statistics summarizes record counts per category, password hygiene and the
// vault file. Percentages are rounded to two decimals.
func (v *Vault) Statistics() (Statistics, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.usableLocked(); err != nil {
		return Statistics{}, err
	}

	counts := make(map[string]int, len(v.categories))
	for _, r := range v.records {
		counts[r.Category]++
	}

	total := len(v.records)
	st := Statistics{
		TotalRecords: total,
		Categories:   make([]CategoryStat, 0, len(v.categories)),
		TagCount:     len(v.tagsLocked()),
		LastModified: v.meta.LastModified,
	}
	for _, c := range v.categories {
		row := CategoryStat{Name: c, Count: counts[c]}
		if total > 0 {
			row.Percentage = math.Round(float64(row.Count)/float64(total)*10000) / 100
		}
		st.Categories = append(st.Categories, row)
	}

	recs, err := v.decryptAllLocked()
	if err != nil {
		return Statistics{}, err
	}
	uses := make(map[string]int, len(recs))
	for _, r := range recs {
		uses[r.Password]++
		if zxcvbn.PasswordStrength(r.Password, []string{r.Title, r.Username}).Score < WeakScore {
			st.WeakPasswords++
		}
	}
	for _, n := range uses {
		if n > 1 {
			st.ReusedPasswords += n
		}
	}

	if size, err := v.opts.Backend.Size(v.opts.Path); err == nil {
		st.FileSize = size
	}
	return st, nil
}
