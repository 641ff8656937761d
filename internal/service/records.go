package service

import (
	"errors"

	"github.com/melvsalonga/securepass/internal/common"
	"github.com/melvsalonga/securepass/internal/vault"
)

// AddRecord stores a new credential and returns its summary.
func (s *Service) AddRecord(in vault.RecordInput) Result {
	return s.withVault("addRecord", func(v *vault.Vault) (any, error) {
		return v.AddRecord(in)
	})
}

// GetRecord returns the decrypted record, or null data when id is unknown.
func (s *Service) GetRecord(id string) Result {
	return s.withVault("getRecord", func(v *vault.Vault) (any, error) {
		rec, err := v.GetRecord(id)
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return rec, nil
	})
}

// GetAllRecords returns every readable record ordered by title.
func (s *Service) GetAllRecords() Result {
	return s.withVault("getAllRecords", func(v *vault.Vault) (any, error) {
		return v.GetAllRecords()
	})
}

// UpdateRecord merges upd into record id.
func (s *Service) UpdateRecord(id string, upd vault.RecordUpdate) Result {
	return s.withVault("updateRecord", func(v *vault.Vault) (any, error) {
		return v.UpdateRecord(id, upd)
	})
}

// DeleteRecord removes record id.
func (s *Service) DeleteRecord(id string) Result {
	return s.withVault("deleteRecord", func(v *vault.Vault) (any, error) {
		return v.DeleteRecord(id)
	})
}

// SearchRecords filters the decrypted records.
func (s *Service) SearchRecords(query string, f vault.SearchFilters) Result {
	return s.withVault("searchRecords", func(v *vault.Vault) (any, error) {
		return v.SearchRecords(query, f)
	})
}

// GetPasswordHistory returns previous passwords of record id, newest first.
func (s *Service) GetPasswordHistory(id string) Result {
	return s.withVault("getPasswordHistory", func(v *vault.Vault) (any, error) {
		return v.PasswordHistory(id)
	})
}

// GetCategories lists the category set.
func (s *Service) GetCategories() Result {
	return s.withVault("getCategories", func(v *vault.Vault) (any, error) {
		return v.Categories()
	})
}

// AddCategory adds a category; data reports whether it was new.
func (s *Service) AddCategory(name string) Result {
	return s.withVault("addCategory", func(v *vault.Vault) (any, error) {
		return v.AddCategory(name)
	})
}

// Count is the data of bulk category and tag operations.
type Count struct {
	Affected int `json:"affected"`
}

// RemoveCategory deletes a category and moves its records to General.
func (s *Service) RemoveCategory(name string) Result {
	return s.withVault("removeCategory", func(v *vault.Vault) (any, error) {
		n, err := v.RemoveCategory(name)
		return Count{Affected: n}, err
	})
}

// RenameCategory renames a category everywhere.
func (s *Service) RenameCategory(oldName, newName string) Result {
	return s.withVault("renameCategory", func(v *vault.Vault) (any, error) {
		n, err := v.RenameCategory(oldName, newName)
		return Count{Affected: n}, err
	})
}

// GetTags lists the distinct tags.
func (s *Service) GetTags() Result {
	return s.withVault("getTags", func(v *vault.Vault) (any, error) {
		return v.Tags()
	})
}

// RenameTag renames a tag on every record.
func (s *Service) RenameTag(oldTag, newTag string) Result {
	return s.withVault("renameTag", func(v *vault.Vault) (any, error) {
		n, err := v.RenameTag(oldTag, newTag)
		return Count{Affected: n}, err
	})
}

// RemoveTag strips a tag from every record.
func (s *Service) RemoveTag(tag string) Result {
	return s.withVault("removeTag", func(v *vault.Vault) (any, error) {
		n, err := v.RemoveTag(tag)
		return Count{Affected: n}, err
	})
}

// GetStatistics summarizes the vault.
func (s *Service) GetStatistics() Result {
	return s.withVault("getStatistics", func(v *vault.Vault) (any, error) {
		return v.Statistics()
	})
}
