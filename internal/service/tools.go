package service

import (
	"fmt"

	"github.com/melvsalonga/securepass/internal/passgen"
	"github.com/melvsalonga/securepass/internal/transfer"
	"github.com/melvsalonga/securepass/internal/vault"
)

// GeneratePassword returns a random password and its strength score.
func (s *Service) GeneratePassword(opts passgen.Options) Result {
	return s.call("generatePassword", func() (any, error) {
		return passgen.Generate(opts)
	})
}

// CheckPasswordStrength scores pw without storing it.
func (s *Service) CheckPasswordStrength(pw string) Result {
	return s.call("checkPasswordStrength", func() (any, error) {
		return passgen.Score(pw), nil
	})
}

// ExportRecords encodes every record as json, csv or xml text.
func (s *Service) ExportRecords(format string) Result {
	return s.withVault("exportRecords", func(v *vault.Vault) (any, error) {
		f, err := transfer.ParseFormat(format)
		if err != nil {
			return nil, err
		}
		recs, err := v.GetAllRecords()
		if err != nil {
			return nil, err
		}
		out, err := transfer.Export(recs, f, s.opts.Now())
		if err != nil {
			return nil, err
		}
		s.log.Infow("records exported", "format", string(f), "count", len(recs))
		return string(out), nil
	})
}

// ExportEncrypted returns the JSON export sealed under password.
func (s *Service) ExportEncrypted(password string) Result {
	return s.withVault("exportEncrypted", func(v *vault.Vault) (any, error) {
		recs, err := v.GetAllRecords()
		if err != nil {
			return nil, err
		}
		out, err := transfer.ExportEncrypted(recs, password, s.opts.BackupParams, s.opts.Now())
		if err != nil {
			return nil, err
		}
		return string(out), nil
	})
}

// ImportSummary reports the outcome of an import.
type ImportSummary struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// ImportRecords adds every record of a json, csv or xml document. Invalid
// entries are skipped and reported.
func (s *Service) ImportRecords(format, data string) Result {
	return s.withVault("importRecords", func(v *vault.Vault) (any, error) {
		f, err := transfer.ParseFormat(format)
		if err != nil {
			return nil, err
		}
		inputs, err := transfer.Import([]byte(data), f)
		if err != nil {
			return nil, err
		}
		return s.addAll(v, inputs)
	})
}

// ImportEncrypted restores a backup made by ExportEncrypted.
func (s *Service) ImportEncrypted(password, blob string) Result {
	return s.withVault("importEncrypted", func(v *vault.Vault) (any, error) {
		inputs, err := transfer.ImportEncrypted([]byte(blob), password)
		if err != nil {
			return nil, err
		}
		return s.addAll(v, inputs)
	})
}

func (s *Service) addAll(v *vault.Vault, inputs []vault.RecordInput) (ImportSummary, error) {
	var sum ImportSummary
	for i, in := range inputs {
		if _, err := v.AddRecord(in); err != nil {
			if codeOf(err) != CodeValidation {
				return sum, err
			}
			sum.Skipped++
			sum.Errors = append(sum.Errors, fmt.Sprintf("entry %d: %v", i+1, err))
			continue
		}
		sum.Imported++
	}
	s.log.Infow("records imported", "imported", sum.Imported, "skipped", sum.Skipped)
	return sum, nil
}
