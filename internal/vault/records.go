package vault

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/melvsalonga/securepass/internal/common"
)

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

func validateURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
		return common.Invalid("url", "must be an absolute URL such as https://example.com")
	}
	return nil
}

func normalizeCategory(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return DefaultCategory
	}
	return c
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// AddRecord validates and stores a new record, then saves the vault.
func (v *Vault) AddRecord(in RecordInput) (RecordSummary, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return RecordSummary{}, common.Invalid("title", "is required")
	}
	if in.Password == "" {
		return RecordSummary{}, common.Invalid("password", "is required")
	}
	link := strings.TrimSpace(in.URL)
	if err := validateURL(link); err != nil {
		return RecordSummary{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.usableLocked(); err != nil {
		return RecordSummary{}, err
	}

	id := NewID()
	for _, taken := v.records[id]; taken; _, taken = v.records[id] {
		id = NewID()
	}
	now := v.now()
	sr := storedRecord{
		ID:        id,
		Title:     title,
		Username:  strings.TrimSpace(in.Username),
		URL:       link,
		Tags:      normalizeTags(in.Tags),
		Category:  normalizeCategory(in.Category),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	err := v.key.Use(func(k []byte) error {
		var err error
		if sr.Password, err = sealField(k, id, "password", in.Password); err != nil {
			return err
		}
		if in.Notes != "" {
			notes, err := sealField(k, id, "notes", in.Notes)
			if err != nil {
				return err
			}
			sr.Notes = &notes
		}
		return nil
	})
	if err != nil {
		return RecordSummary{}, err
	}

	snap := v.snapshotLocked()
	v.records[id] = sr
	v.addCategoryLocked(sr.Category)
	if err := v.commitLocked(snap); err != nil {
		return RecordSummary{}, err
	}

	v.log.Debugw("record added", "record_id", id)
	return summaryOf(sr), nil
}

func summaryOf(sr storedRecord) RecordSummary {
	return RecordSummary{
		ID:        sr.ID,
		Title:     sr.Title,
		Username:  sr.Username,
		URL:       sr.URL,
		Tags:      append([]string{}, sr.Tags...),
		Category:  sr.Category,
		CreatedAt: sr.CreatedAt,
		UpdatedAt: sr.UpdatedAt,
		Version:   sr.Version,
	}
}

// GetRecord decrypts one record. It returns common.ErrNotFound for unknown ids.
func (v *Vault) GetRecord(id string) (Record, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.usableLocked(); err != nil {
		return Record{}, err
	}

	sr, ok := v.records[id]
	if !ok {
		return Record{}, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}

	var rec Record
	err := v.key.Use(func(k []byte) error {
		var err error
		rec, err = decryptRecord(k, sr)
		return err
	})
	if err != nil {
		v.log.Warnw("record decrypt failed", "record_id", id, "error", err)
		return Record{}, fmt.Errorf("%w: %w", common.ErrDecryptionFailed, err)
	}
	return rec, nil
}

// GetAllRecords decrypts every record, ordered by title case-insensitively.
// Records that fail to decrypt are logged and skipped.
func (v *Vault) GetAllRecords() ([]Record, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.usableLocked(); err != nil {
		return nil, err
	}
	return v.decryptAllLocked()
}

func (v *Vault) decryptAllLocked() ([]Record, error) {
	out := make([]Record, 0, len(v.records))
	err := v.key.Use(func(k []byte) error {
		for _, sr := range v.records {
			rec, err := decryptRecord(k, sr)
			if err != nil {
				v.log.Warnw("skipping record that failed to decrypt", "record_id", sr.ID, "error", err)
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := strings.ToLower(recs[i].Title), strings.ToLower(recs[j].Title)
		if a != b {
			return a < b
		}
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

// UpdateRecord merges upd into the record. A changed password pushes the
// previous one onto the record's history.
func (v *Vault) UpdateRecord(id string, upd RecordUpdate) (RecordSummary, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.usableLocked(); err != nil {
		return RecordSummary{}, err
	}

	cur, ok := v.records[id]
	if !ok {
		return RecordSummary{}, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}

	next := cur
	next.Tags = append([]string{}, cur.Tags...)
	next.History = append([]storedHistory(nil), cur.History...)

	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return RecordSummary{}, common.Invalid("title", "is required")
		}
		next.Title = title
	}
	if upd.Username != nil {
		next.Username = strings.TrimSpace(*upd.Username)
	}
	if upd.URL != nil {
		link := strings.TrimSpace(*upd.URL)
		if err := validateURL(link); err != nil {
			return RecordSummary{}, err
		}
		next.URL = link
	}
	if upd.Tags != nil {
		next.Tags = normalizeTags(*upd.Tags)
	}
	if upd.Category != nil {
		next.Category = normalizeCategory(*upd.Category)
	}
	if upd.Password != nil && *upd.Password == "" {
		return RecordSummary{}, common.Invalid("password", "is required")
	}

	now := v.now()
	err := v.key.Use(func(k []byte) error {
		if upd.Password != nil {
			previous, err := openField(k, id, "password", cur.Password)
			if err != nil {
				return fmt.Errorf("%w: %w", common.ErrDecryptionFailed, err)
			}
			if previous != *upd.Password {
				old, err := sealField(k, id, "history", previous)
				if err != nil {
					return err
				}
				next.History = append(next.History, storedHistory{Password: old, ChangedAt: now})
				if limit := v.opts.HistoryLimit; limit > 0 && len(next.History) > limit {
					next.History = next.History[len(next.History)-limit:]
				}
				if next.Password, err = sealField(k, id, "password", *upd.Password); err != nil {
					return err
				}
			}
		}
		if upd.Notes != nil {
			if *upd.Notes == "" {
				next.Notes = nil
			} else {
				notes, err := sealField(k, id, "notes", *upd.Notes)
				if err != nil {
					return err
				}
				next.Notes = &notes
			}
		}
		return nil
	})
	if err != nil {
		return RecordSummary{}, err
	}

	next.Version = cur.Version + 1
	next.UpdatedAt = now

	snap := v.snapshotLocked()
	v.records[id] = next
	v.addCategoryLocked(next.Category)
	if err := v.commitLocked(snap); err != nil {
		return RecordSummary{}, err
	}
	return summaryOf(next), nil
}

// DeleteRecord removes a record and saves the vault.
func (v *Vault) DeleteRecord(id string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.usableLocked(); err != nil {
		return false, err
	}
	if _, ok := v.records[id]; !ok {
		return false, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}

	snap := v.snapshotLocked()
	delete(v.records, id)
	if err := v.commitLocked(snap); err != nil {
		return false, err
	}
	return true, nil
}

// PasswordHistory returns the previous passwords of a record, newest first.
func (v *Vault) PasswordHistory(id string) ([]HistoryEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.usableLocked(); err != nil {
		return nil, err
	}
	sr, ok := v.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}

	out := make([]HistoryEntry, 0, len(sr.History))
	err := v.key.Use(func(k []byte) error {
		for i := len(sr.History) - 1; i >= 0; i-- {
			h := sr.History[i]
			pw, err := openField(k, id, "history", h.Password)
			if err != nil {
				return fmt.Errorf("%w: %w", common.ErrDecryptionFailed, err)
			}
			out = append(out, HistoryEntry{Password: pw, ChangedAt: h.ChangedAt})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Len reports the number of stored records.
func (v *Vault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}
