package vault

import (
	"time"

	"github.com/melvsalonga/securepass/krypto"
)

const (
	// ContainerVersion is written into every persisted container and envelope.
	ContainerVersion = "1.0"
	// DefaultCategory is assigned when a record names none. It cannot be removed.
	DefaultCategory = "General"
)

// DefaultCategories seeds the category set of a new vault.
var DefaultCategories = []string{
	DefaultCategory,
	"Social Media",
	"Banking",
	"Work",
	"Shopping",
	"Email",
	"Entertainment",
}

// Record is a fully decrypted credential.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Username  string    `json:"username,omitempty"`
	Password  string    `json:"password"`
	URL       string    `json:"url,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Tags      []string  `json:"tags"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int       `json:"version"`
}

// Summary drops the secret fields.
func (r Record) Summary() RecordSummary {
	return RecordSummary{
		ID:        r.ID,
		Title:     r.Title,
		Username:  r.Username,
		URL:       r.URL,
		Tags:      append([]string(nil), r.Tags...),
		Category:  r.Category,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
	}
}

// RecordSummary describes a record without password or notes.
type RecordSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Username  string    `json:"username,omitempty"`
	URL       string    `json:"url,omitempty"`
	Tags      []string  `json:"tags"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int       `json:"version"`
}

// RecordInput is the payload of AddRecord.
type RecordInput struct {
	Title    string   `json:"title"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password"`
	URL      string   `json:"url,omitempty"`
	Notes    string   `json:"notes,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Category string   `json:"category,omitempty"`
}

// RecordUpdate is a partial update; nil fields are left unchanged.
type RecordUpdate struct {
	Title    *string   `json:"title,omitempty"`
	Username *string   `json:"username,omitempty"`
	Password *string   `json:"password,omitempty"`
	URL      *string   `json:"url,omitempty"`
	Notes    *string   `json:"notes,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
	Category *string   `json:"category,omitempty"`
}

// SearchFilters narrows SearchRecords. Zero values are inactive.
// DateFrom and DateTo bound CreatedAt inclusively.
type SearchFilters struct {
	Category string    `json:"category,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	DateFrom time.Time `json:"dateFrom,omitempty"`
	DateTo   time.Time `json:"dateTo,omitempty"`
}

// HistoryEntry is a previous password of a record.
type HistoryEntry struct {
	Password  string    `json:"password"`
	ChangedAt time.Time `json:"changedAt"`
}

// CategoryStat is one row of Statistics.Categories.
type CategoryStat struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Statistics summarizes the vault.
type Statistics struct {
	TotalRecords    int            `json:"totalRecords"`
	Categories      []CategoryStat `json:"categories"`
	TagCount        int            `json:"tagCount"`
	WeakPasswords   int            `json:"weakPasswords"`
	ReusedPasswords int            `json:"reusedPasswords"`
	LastModified    time.Time      `json:"lastModified"`
	FileSize        int64          `json:"fileSize"`
}

// storedRecord is the persisted form; password, notes and history are sealed.
// Values are treated as immutable so a failed save can restore the previous map.
type storedRecord struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Username  string          `json:"username,omitempty"`
	URL       string          `json:"url,omitempty"`
	Tags      []string        `json:"tags"`
	Category  string          `json:"category"`
	Password  krypto.Box      `json:"password"`
	Notes     *krypto.Box     `json:"notes,omitempty"`
	History   []storedHistory `json:"history,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Version   int             `json:"version"`
}

type storedHistory struct {
	Password  krypto.Box `json:"password"`
	ChangedAt time.Time  `json:"changedAt"`
}

type metadata struct {
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
	EntryCount   int       `json:"entryCount"`
}

// container is the plaintext serialized inside the envelope.
type container struct {
	Version    string         `json:"version"`
	Metadata   metadata       `json:"metadata"`
	Categories []string       `json:"categories"`
	Records    []storedRecord `json:"records"`
}
