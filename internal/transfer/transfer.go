// Package transfer converts decrypted records to and from portable JSON, CSV
// and XML documents, and wraps the JSON form in a password-encrypted backup.
package transfer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/melvsalonga/securepass/internal/common"
	"github.com/melvsalonga/securepass/internal/vault"
	"github.com/melvsalonga/securepass/krypto"
)

// Format names a document encoding.
type Format string

const (
	JSON Format = "json"
	CSV  Format = "csv"
	XML  Format = "xml"

	docVersion = "1.0"
	tagSep     = ";"
)

// ParseFormat accepts json, csv or xml in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case JSON, CSV, XML:
		return f, nil
	default:
		return "", common.Invalid("format", fmt.Sprintf("unsupported format %q", s))
	}
}

type item struct {
	XMLName  xml.Name `json:"-" xml:"record"`
	Title    string   `json:"title" xml:"title"`
	Username string   `json:"username,omitempty" xml:"username,omitempty"`
	Password string   `json:"password" xml:"password"`
	URL      string   `json:"url,omitempty" xml:"url,omitempty"`
	Notes    string   `json:"notes,omitempty" xml:"notes,omitempty"`
	Tags     []string `json:"tags,omitempty" xml:"tags>tag,omitempty"`
	Category string   `json:"category,omitempty" xml:"category,omitempty"`
	Created  string   `json:"createdAt,omitempty" xml:"createdAt,omitempty"`
	Updated  string   `json:"updatedAt,omitempty" xml:"updatedAt,omitempty"`
}

type document struct {
	XMLName    xml.Name `json:"-" xml:"vault"`
	Version    string   `json:"version" xml:"version,attr"`
	ExportedAt string   `json:"exportedAt" xml:"exportedAt,attr"`
	Records    []item   `json:"records" xml:"record"`
}

var csvHeader = []string{"title", "username", "password", "url", "notes", "tags", "category"}

func toItem(r vault.Record) item {
	return item{
		Title:    r.Title,
		Username: r.Username,
		Password: r.Password,
		URL:      r.URL,
		Notes:    r.Notes,
		Tags:     r.Tags,
		Category: r.Category,
		Created:  r.CreatedAt.UTC().Format(time.RFC3339),
		Updated:  r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (it item) input() vault.RecordInput {
	return vault.RecordInput{
		Title:    it.Title,
		Username: it.Username,
		Password: it.Password,
		URL:      it.URL,
		Notes:    it.Notes,
		Tags:     it.Tags,
		Category: it.Category,
	}
}

// Export encodes recs. The output holds plaintext passwords.
func Export(recs []vault.Record, f Format, now time.Time) ([]byte, error) {
	doc := document{Version: docVersion, ExportedAt: now.UTC().Format(time.RFC3339), Records: make([]item, 0, len(recs))}
	for _, r := range recs {
		doc.Records = append(doc.Records, toItem(r))
	}

	switch f {
	case JSON:
		return json.MarshalIndent(doc, "", "  ")
	case XML:
		out, err := xml.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode xml: %w", err)
		}
		return append([]byte(xml.Header), out...), nil
	case CSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(csvHeader); err != nil {
			return nil, fmt.Errorf("encode csv: %w", err)
		}
		for _, it := range doc.Records {
			row := []string{it.Title, it.Username, it.Password, it.URL, it.Notes, strings.Join(it.Tags, tagSep), it.Category}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("encode csv: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("encode csv: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, common.Invalid("format", fmt.Sprintf("unsupported format %q", f))
	}
}

// Import decodes a document into record inputs. It does not validate the
// records; the vault does that when they are added.
func Import(data []byte, f Format) ([]vault.RecordInput, error) {
	var items []item
	switch f {
	case JSON:
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &items); err != nil {
				return nil, common.Invalid("data", "malformed json: "+err.Error())
			}
			break
		}
		var doc document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, common.Invalid("data", "malformed json: "+err.Error())
		}
		items = doc.Records
	case XML:
		var doc document
		if err := xml.Unmarshal(data, &doc); err != nil {
			return nil, common.Invalid("data", "malformed xml: "+err.Error())
		}
		items = doc.Records
	case CSV:
		var err error
		if items, err = readCSV(data); err != nil {
			return nil, err
		}
	default:
		return nil, common.Invalid("format", fmt.Sprintf("unsupported format %q", f))
	}

	out := make([]vault.RecordInput, 0, len(items))
	for _, it := range items {
		out = append(out, it.input())
	}
	return out, nil
}

func readCSV(data []byte) ([]item, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, common.Invalid("data", "malformed csv: "+err.Error())
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"title", "password"} {
		if _, ok := col[required]; !ok {
			return nil, common.Invalid("data", "csv header lacks a "+required+" column")
		}
	}

	var items []item
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, common.Invalid("data", "malformed csv: "+err.Error())
		}
		get := func(name string) string {
			if i, ok := col[name]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}
		var tags []string
		if raw := get("tags"); raw != "" {
			tags = strings.Split(raw, tagSep)
		}
		items = append(items, item{
			Title:    get("title"),
			Username: get("username"),
			Password: get("password"),
			URL:      get("url"),
			Notes:    get("notes"),
			Tags:     tags,
			Category: get("category"),
		})
	}
	return items, nil
}

// ExportEncrypted seals the JSON export of recs under password.
func ExportEncrypted(recs []vault.Record, password string, p krypto.Argon2Params, now time.Time) ([]byte, error) {
	if password == "" {
		return nil, common.Invalid("password", "is required")
	}
	plain, err := Export(recs, JSON, now)
	if err != nil {
		return nil, err
	}
	defer krypto.Wipe(plain)

	env, err := krypto.EncryptText(string(plain), []byte(password), p)
	if err != nil {
		return nil, fmt.Errorf("encrypt export: %w", err)
	}
	return env.Marshal()
}

// ImportEncrypted opens a backup made by ExportEncrypted.
func ImportEncrypted(data []byte, password string) ([]vault.RecordInput, error) {
	env, err := krypto.ParseTextEnvelope(data)
	if err != nil {
		return nil, err
	}
	plain, err := krypto.DecryptText(env, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDecryptionFailed, err)
	}
	return Import([]byte(plain), JSON)
}
