package vault

import (
	"sort"
	"strings"

	"github.com/melvsalonga/securepass/internal/common"
)

func (v *Vault) hasCategoryLocked(name string) bool {
	for _, c := range v.categories {
		if c == name {
			return true
		}
	}
	return false
}

func (v *Vault) addCategoryLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || v.hasCategoryLocked(name) {
		return false
	}
	v.categories = append(v.categories, name)
	return true
}

// Categories returns the category set in insertion order. It always contains General.
func (v *Vault) Categories() ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.usableLocked(); err != nil {
		return nil, err
	}
	return append([]string(nil), v.categories...), nil
}

// AddCategory adds name to the category set. It reports false when it already existed.
func (v *Vault) AddCategory(name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, common.Invalid("category", "is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.usableLocked(); err != nil {
		return false, err
	}
	if v.hasCategoryLocked(name) {
		return false, nil
	}

	snap := v.snapshotLocked()
	v.addCategoryLocked(name)
	if err := v.commitLocked(snap); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveCategory drops name from the set and moves its records to General.
// Removing General is a no-op. It returns the number of records moved.
func (v *Vault) RemoveCategory(name string) (int, error) {
	name = strings.TrimSpace(name)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.usableLocked(); err != nil {
		return 0, err
	}
	if name == DefaultCategory || !v.hasCategoryLocked(name) {
		return 0, nil
	}

	snap := v.snapshotLocked()
	kept := v.categories[:0:0]
	for _, c := range v.categories {
		if c != name {
			kept = append(kept, c)
		}
	}
	v.categories = kept

	moved := v.rewriteLocked(func(r *storedRecord) bool {
		if r.Category != name {
			return false
		}
		r.Category = DefaultCategory
		return true
	})
	if err := v.commitLocked(snap); err != nil {
		return 0, err
	}
	return moved, nil
}

// RenameCategory renames a category in the set and on every record using it.
func (v *Vault) RenameCategory(oldName, newName string) (int, error) {
	oldName, newName = strings.TrimSpace(oldName), strings.TrimSpace(newName)
	if oldName == "" || newName == "" {
		return 0, common.Invalid("category", "old and new names are required")
	}
	if oldName == DefaultCategory {
		return 0, common.Invalid("category", "General cannot be renamed")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.usableLocked(); err != nil {
		return 0, err
	}
	if !v.hasCategoryLocked(oldName) {
		return 0, common.ErrNotFound
	}
	if oldName == newName {
		return 0, nil
	}

	snap := v.snapshotLocked()
	renamed := v.categories[:0:0]
	for _, c := range v.categories {
		switch {
		case c == oldName && !v.hasCategoryLocked(newName):
			renamed = append(renamed, newName)
		case c == oldName:
		default:
			renamed = append(renamed, c)
		}
	}
	v.categories = renamed

	n := v.rewriteLocked(func(r *storedRecord) bool {
		if r.Category != oldName {
			return false
		}
		r.Category = newName
		return true
	})
	if err := v.commitLocked(snap); err != nil {
		return 0, err
	}
	return n, nil
}

// Tags returns the distinct tags across all records, sorted.
func (v *Vault) Tags() ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.usableLocked(); err != nil {
		return nil, err
	}
	return v.tagsLocked(), nil
}

func (v *Vault) tagsLocked() []string {
	seen := make(map[string]struct{})
	for _, r := range v.records {
		for _, t := range r.Tags {
			if t != "" {
				seen[t] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// RenameTag replaces oldTag with newTag on every record carrying it.
func (v *Vault) RenameTag(oldTag, newTag string) (int, error) {
	oldTag, newTag = strings.TrimSpace(oldTag), strings.TrimSpace(newTag)
	if oldTag == "" || newTag == "" {
		return 0, common.Invalid("tag", "old and new tags are required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.usableLocked(); err != nil {
		return 0, err
	}
	if oldTag == newTag {
		return 0, nil
	}

	snap := v.snapshotLocked()
	n := v.rewriteLocked(func(r *storedRecord) bool {
		if !containsTag(r.Tags, oldTag) {
			return false
		}
		tags := make([]string, 0, len(r.Tags))
		for _, t := range r.Tags {
			if t == oldTag {
				t = newTag
			}
			tags = append(tags, t)
		}
		r.Tags = normalizeTags(tags)
		return true
	})
	if n == 0 {
		return 0, nil
	}
	if err := v.commitLocked(snap); err != nil {
		return 0, err
	}
	return n, nil
}

// RemoveTag strips tag from every record carrying it.
func (v *Vault) RemoveTag(tag string) (int, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return 0, common.Invalid("tag", "is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.usableLocked(); err != nil {
		return 0, err
	}

	snap := v.snapshotLocked()
	n := v.rewriteLocked(func(r *storedRecord) bool {
		if !containsTag(r.Tags, tag) {
			return false
		}
		tags := make([]string, 0, len(r.Tags))
		for _, t := range r.Tags {
			if t != tag {
				tags = append(tags, t)
			}
		}
		r.Tags = tags
		return true
	})
	if n == 0 {
		return 0, nil
	}
	if err := v.commitLocked(snap); err != nil {
		return 0, err
	}
	return n, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// rewriteLocked applies fn to a copy of each record and stores the copies fn
// changed, bumping version and updatedAt. Callers commit once for the batch.
func (v *Vault) rewriteLocked(fn func(r *storedRecord) bool) int {
	now := v.now()
	n := 0
	for id, r := range v.records {
		next := r
		next.Tags = append([]string(nil), r.Tags...)
		if !fn(&next) {
			continue
		}
		next.Version = r.Version + 1
		next.UpdatedAt = now
		v.records[id] = next
		n++
	}
	return n
}
